// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package api provides the HTTP admin API of tilevault.

Routes live under /api/v1 and are served by a chi router:

  - /regions: list, get, load (PUT), remove, invalidate, cancel, the
    operation status, metadata and descriptor containment checks
  - /stylepacks/pack?uri=: the same for style packs, keyed by style URI
  - /downloads: ad hoc download sessions into the download directory
  - /settings: the offline switch, tile count limit and network reachability
  - /store: statistics, reduce-memory-use and the storage budget
  - /health/live and /health/ready
  - /ws: the websocket event stream

Prometheus metrics are served at /metrics.

Loads run in the background. PUT and invalidate answer 202 Accepted with
the operation status, which can be polled at .../operation. With
?wait=true the handler blocks until the operation finishes or the
configured wait timeout passes.

Every response uses the same envelope:

	{"status": "success", "data": ..., "metadata": {"timestamp": ..., "request_id": ...}}
	{"status": "error", "error": {"code": "DOES_NOT_EXIST", "message": ...}, "metadata": ...}

Failed operations use their error type (DOES_NOT_EXIST, TILESET_DESCRIPTOR,
TILE_COUNT_EXCEEDED, DISK_FULL, CANCELED, OTHER) as the error code.

The middleware stack adds request ids (also used as the logging correlation
id), real IP extraction, panic recovery, CORS via go-chi/cors, per-IP rate
limiting via go-chi/httprate, security headers and request metrics.
*/
package api
