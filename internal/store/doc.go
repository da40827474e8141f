// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package store implements the resource store: a BadgerDB catalog of downloaded
resources plus the blob files they describe, the reference sets that pin
resources to tile regions and style packs, and the disk quota evictor.

# Layout

Under Config.Path:

	catalog/            BadgerDB database
	blobs/<ab>/<id>     committed resource content, id = ResourceKey.ID()
	partial/<id>.part   resumable downloads in progress

# Catalog Keys

	res:<id>                     ResourceRecord (JSON)
	ref:<owner>\x00<id>          ResourceKey pinned by owner
	region:<id>                  TileRegion (JSON)
	stylepack:<uri>              StylePack (JSON)

Owners are "region:<id>" or "stylepack:<uri>".

# Durability

Content is written to a temporary file, fsynced and renamed into place before
its record is written, and a record is deleted before its file. A crash can
therefore leave an orphan file (removed by the janitor) but never a record
pointing at missing or partial data. Records whose file disappeared are
dropped when the store is opened.

# Quota

Put and Commit reserve space against Config.BudgetBytes. When the write would
exceed the budget the evictor removes unreferenced records in strict
least-recently-accessed order until the write fits; if it cannot, the write
fails with *models.DiskFullError. Referenced records are never evicted.
*/
package store
