// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"errors"
	"syscall"

	"github.com/tomtom215/tilevault/internal/models"
)

var (
	// ErrNotFound is returned when a record, region or style pack does not exist.
	ErrNotFound = errors.New("not found")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("store is closed")

	// ErrEmptyURL is returned for a resource key without a URL.
	ErrEmptyURL = errors.New("resource key URL cannot be empty")
)

// IsDiskFull reports whether err means the budget or the filesystem is full.
func IsDiskFull(err error) bool {
	var dfe *models.DiskFullError
	return errors.As(err, &dfe) || errors.Is(err, syscall.ENOSPC)
}
