// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import "fmt"

// Band is an inclusive zoom range fetched as one batch.
type Band struct {
	Min int
	Max int
}

func (b Band) String() string { return fmt.Sprintf("%d-%d", b.Min, b.Max) }

// Bands are the predefined zoom bands in ascending order.
var Bands = []Band{{0, 5}, {6, 10}, {11, 14}, {15, 16}}

// MaxZoom is the highest zoom any band covers.
const MaxZoom = 16

// BandFor returns the band containing zoom. Zooms above MaxZoom map to the
// last band.
func BandFor(zoom int) Band {
	for _, b := range Bands {
		if zoom <= b.Max {
			return b
		}
	}
	return Bands[len(Bands)-1]
}

// CoveringBands returns every band intersecting [minZoom, maxZoom]. The
// caller validates minZoom <= maxZoom and minZoom >= 0.
func CoveringBands(minZoom, maxZoom int) []Band {
	if minZoom > MaxZoom {
		minZoom = MaxZoom
	}
	if maxZoom > MaxZoom {
		maxZoom = MaxZoom
	}
	var out []Band
	for _, b := range Bands {
		if b.Max >= minZoom && b.Min <= maxZoom {
			out = append(out, b)
		}
	}
	return out
}

// ExpandZoomRange widens [minZoom, maxZoom] to the bounds of its covering
// bands.
func ExpandZoomRange(minZoom, maxZoom int) (int, int) {
	bands := CoveringBands(minZoom, maxZoom)
	return bands[0].Min, bands[len(bands)-1].Max
}
