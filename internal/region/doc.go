// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package region loads, updates and removes tile regions and style packs.

The Orchestrator turns a load request into a resource set with the resolver,
pins that set in the store, downloads what the store does not already hold
and records the region in the catalog. Each load is an Operation: it can be
cancelled, waited on, and it resolves exactly once.

# Loads

One operation runs per region id (or style URI) at a time. A new load of an
id supersedes the active one, which finishes with CANCELED before the new
load reads the region. Invalidation queues behind the active operation
instead of cancelling it.

Only the delta is downloaded: resources whose store record is unexpired, or
expired with AcceptExpired set, count as completed without a request.
Expired records are revalidated with conditional requests. Resource failures
are counted as errored and the load continues, except for a full disk, which
fails the whole load.

Progress snapshots are cumulative, monotonic and coalesced: at most one
progress callback per operation is in flight and a slow callback only sees
the latest snapshot. The progress callback never runs after the terminal
callback.

# Shared fetches

Loads that need the same resource at the same time share one download. A
shared download is cancelled when the last load waiting for it goes away,
so removing a region stops the downloads no other load needs.

# Removal

Removing a region cancels its operation, deletes the catalog entry and
releases its references. Files stay in the store until the evictor needs
the space.
*/
package region
