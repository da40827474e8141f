// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package events carries load and removal notifications out of the region
orchestrator.

The orchestrator only knows the Sink interface. In a running server the sink
is a Publisher writing JSON-encoded events to a Watermill topic on one of two
backends:

  - gochannel: in-process pub/sub, the default
  - nats: core NATS, optionally served by an embedded nats-server

Forward subscribes to the topic and hands every decoded event to another
sink, which is how the websocket hub receives them. Publishing is best
effort: a per-publisher circuit breaker stops hammering a broken backend and
failures never fail a load.

Configuration (environment):

	EVENTS_BACKEND       none | gochannel | nats (default gochannel)
	EVENTS_TOPIC         topic name (default tilevault.events)
	NATS_URL             broker URL when not embedded
	NATS_EMBEDDED        run an embedded nats-server
*/
package events
