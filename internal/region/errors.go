// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"errors"

	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/store"
)

// Cancellation causes of an operation.
var (
	ErrSuperseded = errors.New("superseded by a newer load")
	ErrRemoved    = errors.New("removed")
	ErrCanceled   = errors.New("canceled")
	ErrClosed     = errors.New("orchestrator is closed")
)

var (
	errNoRegion    = errors.New("tile region does not exist")
	errNoStylePack = errors.New("style pack does not exist")
)

func isCanceled(err error) bool {
	return errors.Is(err, ErrSuperseded) ||
		errors.Is(err, ErrRemoved) ||
		errors.Is(err, ErrCanceled) ||
		errors.Is(err, ErrClosed) ||
		errors.Is(err, context.Canceled)
}

func isDiskFull(err error) bool {
	var de *models.DownloadError
	if errors.As(err, &de) {
		return de.Code == models.DownloadErrorCodeDiskFull
	}
	return store.IsDiskFull(err)
}

// tileRegionError maps err to a *models.TileRegionError. It returns nil for
// a nil err.
func tileRegionError(err error) error {
	if err == nil {
		return nil
	}
	var tre *models.TileRegionError
	if errors.As(err, &tre) {
		return tre
	}
	var de *resolver.DescriptorError
	typ := models.TileRegionErrorOther
	switch {
	case errors.Is(err, resolver.ErrTileCountExceeded):
		typ = models.TileRegionErrorTileCountExceeded
	case errors.As(err, &de):
		typ = models.TileRegionErrorTilesetDescriptor
	case errors.Is(err, errNoRegion), errors.Is(err, store.ErrNotFound):
		typ = models.TileRegionErrorDoesNotExist
	case isDiskFull(err):
		typ = models.TileRegionErrorDiskFull
	case isCanceled(err):
		typ = models.TileRegionErrorCanceled
	}
	return &models.TileRegionError{Type: typ, Message: err.Error()}
}

// stylePackError maps err to a *models.StylePackError. It returns nil for a
// nil err.
func stylePackError(err error) error {
	if err == nil {
		return nil
	}
	var spe *models.StylePackError
	if errors.As(err, &spe) {
		return spe
	}
	typ := models.StylePackErrorOther
	switch {
	case errors.Is(err, errNoStylePack), errors.Is(err, store.ErrNotFound):
		typ = models.StylePackErrorDoesNotExist
	case isDiskFull(err):
		typ = models.StylePackErrorDiskFull
	case isCanceled(err):
		typ = models.StylePackErrorCanceled
	}
	return &models.StylePackError{Type: typ, Message: err.Error()}
}

// outcome names a terminal result for metrics and events.
func outcome(err error) string {
	switch {
	case err == nil:
		return "finished"
	case isCanceled(err):
		return "canceled"
	default:
		return "failed"
	}
}
