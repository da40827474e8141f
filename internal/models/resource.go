// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// ResourceKey identifies a cacheable unit. Content behind a key never
// changes, so two writers of the same key always write identical bytes.
type ResourceKey struct {
	URL      string `json:"url"`
	Revision string `json:"revision,omitempty"`
}

// ID returns the hex SHA-256 of the key. It names the blob on disk and the
// catalog entry.
func (k ResourceKey) ID() string {
	sum := sha256.Sum256([]byte(k.URL + "\x00" + k.Revision))
	return hex.EncodeToString(sum[:])
}

func (k ResourceKey) String() string {
	if k.Revision == "" {
		return k.URL
	}
	return fmt.Sprintf("%s@%s", k.URL, k.Revision)
}

// ResourceKind classifies a resource for metrics and style pack bookkeeping.
type ResourceKind string

const (
	ResourceKindTilePack ResourceKind = "tile_pack"
	ResourceKindStyle    ResourceKind = "style"
	ResourceKindSprite   ResourceKind = "sprite"
	ResourceKindGlyphs   ResourceKind = "glyphs"
	ResourceKindTileJSON ResourceKind = "tilejson"
	ResourceKindOther    ResourceKind = "other"
)

// ResourceRecord is the store's catalog entry for one blob.
// LocalPath exists on disk for as long as the record exists.
type ResourceRecord struct {
	Key            ResourceKey  `json:"key"`
	Kind           ResourceKind `json:"kind"`
	LocalPath      string       `json:"local_path"`
	SizeBytes      int64        `json:"size_bytes"`
	ExpiresAt      *time.Time   `json:"expires_at,omitempty"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`
	CreatedAt      time.Time    `json:"created_at"`
	ETag           string       `json:"etag,omitempty"`
	LastModified   string       `json:"last_modified,omitempty"`
}

// Expired reports whether the record's expiry is at or before now.
// Records without an expiry never expire.
func (r *ResourceRecord) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Usable reports whether the record satisfies a load: unexpired, or expired
// but accepted by the caller.
func (r *ResourceRecord) Usable(now time.Time, acceptExpired bool) bool {
	return acceptExpired || !r.Expired(now)
}

// DiskFullError is returned when a write would exceed the storage budget and
// eviction could not free enough unreferenced space.
type DiskFullError struct {
	Needed int64 // bytes the write required
	Budget int64 // configured budget
	Used   int64 // bytes in use after eviction
}

func (e *DiskFullError) Error() string {
	return fmt.Sprintf("disk full: need %d bytes, %d of %d used", e.Needed, e.Used, e.Budget)
}
