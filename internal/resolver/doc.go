// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package resolver expands tileset descriptors and style packs into the
ordered set of resources that must be downloaded.

# Zoom bands

Tiles are fetched as packs covering a whole zoom band:

	0-5, 6-10, 11-14, 15-16

A requested zoom range is widened to the union of the bands it touches, so
requests whose ranges meet inside the same bands resolve to identical
resource sets and share downloads. Zooms above 16 fall into the last band.

# Packs

For each band and each tile source whose zoom range overlaps the band, one
pack is requested per tile at the band's minimum zoom that intersects the
region geometry. The pack URL is the source's tile template expanded at that
tile, plus a batch=<min>-<max> query parameter naming the band. TMS sources
have their y coordinate flipped.

# Tile count limit

Before enumerating packs the number of individual tiles the region covers
across every zoom of its bands and every source is compared with
settings.OfflineMapboxTileCountLimit. Regions above the limit fail with
ErrTileCountExceeded.

# Style documents

Style documents come from a StyleSource. Concurrent requests for one URI
share a single fetch, and parsed documents are cached for a short TTL.
*/
package resolver
