// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package services adapts tilevault components to suture.Service.

  - HTTPServerService: ListenAndServe/Shutdown of the admin API server
  - WebSocketHubService: the progress event hub
  - JanitorService: Start/Stop of the store janitor
  - EventForwarderService: relays bus events to a local sink

Each wrapper depends on a small interface rather than the concrete type,
and implements fmt.Stringer so suture events name the service. Serve
returns ctx.Err() on shutdown and a wrapped error on failure, which makes
the owning supervisor restart it.
*/
package services
