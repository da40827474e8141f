// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"errors"
	"fmt"
)

var (
	// ErrStyleUnavailable wraps failures to fetch or parse a style document
	// or one of its TileJSON documents.
	ErrStyleUnavailable = errors.New("style unavailable")

	// ErrTileCountExceeded is returned when a region covers more tiles than
	// the configured limit.
	ErrTileCountExceeded = errors.New("tile count limit exceeded")
)

// DescriptorError reports tileset descriptor options that cannot be
// resolved.
type DescriptorError struct {
	Message string
}

func (e *DescriptorError) Error() string {
	return "invalid tileset descriptor: " + e.Message
}

func descriptorErrorf(format string, args ...any) error {
	return &DescriptorError{Message: fmt.Sprintf(format, args...)}
}

// TileCountError carries the counts behind ErrTileCountExceeded. With Packs
// set the counts are tile packs rather than tiles.
type TileCountError struct {
	Count int64
	Limit int64
	Packs bool
}

func (e *TileCountError) Error() string {
	if e.Packs {
		return fmt.Sprintf("%v: descriptor expands to %d tile packs, limit is %d", ErrTileCountExceeded, e.Count, e.Limit)
	}
	return fmt.Sprintf("%v: region covers %d tiles, limit is %d", ErrTileCountExceeded, e.Count, e.Limit)
}

func (e *TileCountError) Unwrap() error { return ErrTileCountExceeded }
