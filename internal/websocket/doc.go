// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package websocket pushes region and style pack events to browser clients.

The Hub implements events.Sink, so it can sit directly behind the region
orchestrator or at the end of an events.Forward subscription. Each Client
owns a read and a write goroutine built on gorilla/websocket.

Messages are JSON objects with a type and data field:

  - event: data is an events.Event
  - ping / pong: application level keepalive
  - subscribe: sent by the client to narrow what it receives

A subscribe message looks like:

	{"type":"subscribe","data":{"kinds":["tile_region"],"subjects":["paris"],"progress":true}}

Clients start with an empty subscription, which matches every event except
load.progress. The hub answers a subscribe with the subscription it stored.

Usage:

	hub := websocket.NewHub()
	go hub.RunWithContext(ctx)

	up := websocket.Upgrader(cfg.AllowedOrigins)
	r.Get("/api/v1/ws", func(w http.ResponseWriter, r *http.Request) {
	    websocket.ServeWS(hub, &up, w, r)
	})

Delivery is best effort. A full broadcast queue drops the event, and a
client whose send buffer is full is disconnected. Broadcasts visit clients
in connection order.
*/
package websocket
