// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package download runs HTTP(S) download sessions into local files.

A session moves PENDING -> DOWNLOADING -> FAILED or FINISHED and never leaves
a terminal state. Every session passes the same admission policy before a
request is sent:

  - the offline switch (settings.MapboxStackConnected) must be on
  - the request's network restriction must permit the current network
  - a slot of the global concurrency bound (semaphore) is acquired
  - the request rate limiter is waited on
  - the per-host circuit breaker must be closed or half-open

Failing any check fails the session with CONNECTION_ERROR before a byte is
transferred. Turning the offline switch off, or moving to a network a
session's restriction forbids, fails in-flight sessions the same way.

# Resume

With DownloadOptions.Resume set and a non-empty file at LocalPath, the
request carries "Range: bytes=K-" where K is the file size. A 206 answer is
appended. A 200 or 416 answer fails with RANGE_ERROR; the session never
silently restarts. Callers that want a fresh transfer start a new session
with Resume false.

# Conditional requests

If-None-Match and If-Modified-Since headers pass through unchanged. A 304
answer finishes the session with NotModified set and leaves the file alone.
Expiry is derived from Cache-Control max-age or Expires.

# Errors

  - REQUEST_TIMED_OUT: HTTPRequest.Timeout elapsed (connect plus transfer)
  - REQUEST_CANCELLED: Cancel, Manager.Cancel or the start context
  - SSL_ERROR: certificate or handshake failure
  - RANGE_ERROR: a range request answered 200 or 416
  - OTHER_ERROR: any other non-success HTTP status
  - FILE_SYSTEM_ERROR / DISK_FULL: writing the local file failed

# Observing

Session.Watch returns a new finite status stream on every call. Streams are
coalesced: a slow reader sees the newest snapshot, never a stale backlog,
and every stream ends with the terminal status.
*/
package download
