// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"

	"github.com/tomtom215/tilevault/internal/models"
)

const maxMercatorLat = 85.0511287798066

// tileRange is an inclusive block of tile columns and rows at one zoom.
type tileRange struct {
	Zoom       int
	MinX, MaxX uint32
	MinY, MaxY uint32
}

func (r tileRange) count() int64 {
	return int64(r.MaxX-r.MinX+1) * int64(r.MaxY-r.MinY+1)
}

// tileRanges returns the tiles covering b at zoom. A box crossing the
// antimeridian yields two ranges.
func tileRanges(b models.Bounds, zoom int) []tileRange {
	south := clamp(b.South, -maxMercatorLat, maxMercatorLat)
	north := clamp(b.North, -maxMercatorLat, maxMercatorLat)
	if south > north {
		south, north = north, south
	}
	west := clamp(b.West, -180, 180)
	east := clamp(b.East, -180, 180)

	z := maptile.Zoom(zoom)
	_, minY := tileAt(west, north, z)
	_, maxY := tileAt(west, south, z)

	if west <= east {
		minX, _ := tileAt(west, north, z)
		maxX, _ := tileAt(east, north, z)
		return []tileRange{{Zoom: zoom, MinX: minX, MaxX: maxX, MinY: minY, MaxY: maxY}}
	}

	last := uint32(1)<<uint(zoom) - 1
	minX, _ := tileAt(west, north, z)
	maxX, _ := tileAt(east, north, z)
	return []tileRange{
		{Zoom: zoom, MinX: minX, MaxX: last, MinY: minY, MaxY: maxY},
		{Zoom: zoom, MinX: 0, MaxX: maxX, MinY: minY, MaxY: maxY},
	}
}

// tileAt returns the tile containing the point, clamped to the grid.
func tileAt(lon, lat float64, z maptile.Zoom) (x, y uint32) {
	t := maptile.At(orb.Point{lon, lat}, z)
	last := uint32(1)<<uint(z) - 1
	return min(t.X, last), min(t.Y, last)
}

// countTiles returns the number of tiles covering b at every zoom in
// [minZoom, maxZoom].
func countTiles(b models.Bounds, minZoom, maxZoom int) int64 {
	var n int64
	for z := minZoom; z <= maxZoom; z++ {
		for _, r := range tileRanges(b, z) {
			n += r.count()
		}
	}
	return n
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
