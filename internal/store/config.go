// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"fmt"
	"time"
)

// Config holds resource store configuration.
//
// Environment Variables:
//   - STORE_PATH: root directory for the catalog and blobs (default: /data/tilevault)
//   - STORE_BUDGET_BYTES: storage budget in bytes, 0 = unlimited (default: 2GiB)
//   - STORE_SYNC_WRITES: fsync every catalog write (default: true)
//   - STORE_JANITOR_INTERVAL: interval between maintenance runs (default: 10m)
//   - STORE_PARTIAL_TTL: age after which abandoned partial downloads are removed (default: 72h)
type Config struct {
	// Path is the root directory. The catalog, blobs and partial downloads
	// live in subdirectories so that renames stay on one filesystem.
	Path string `koanf:"path" validate:"required"`

	// BudgetBytes bounds the total size of committed blobs. Zero disables
	// the quota.
	BudgetBytes int64 `koanf:"budget_bytes" validate:"gte=0"`

	// SyncWrites forces fsync after every catalog write.
	SyncWrites bool `koanf:"sync_writes"`

	// Compression enables Snappy compression of catalog entries.
	Compression bool `koanf:"compression"`

	// BadgerDB tuning
	MemTableSize     int64 `koanf:"memtable_size"`
	ValueLogFileSize int64 `koanf:"vlog_file_size"`
	NumCompactors    int   `koanf:"num_compactors" validate:"gte=2"`

	// GCRatio is the value log garbage collection discard ratio.
	GCRatio float64 `koanf:"gc_ratio" validate:"gt=0,lt=1"`

	// JanitorInterval is the time between background maintenance runs.
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// PartialTTL is the age after which the janitor deletes a partial
	// download nobody resumed.
	PartialTTL time.Duration `koanf:"partial_ttl"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/tilevault",
		BudgetBytes:      2 << 30,
		SyncWrites:       true,
		Compression:      true,
		MemTableSize:     16 * 1024 * 1024,
		ValueLogFileSize: 64 * 1024 * 1024,
		NumCompactors:    2,
		GCRatio:          0.5,
		JanitorInterval:  10 * time.Minute,
		PartialTTL:       72 * time.Hour,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store path is required")
	}
	if c.BudgetBytes < 0 {
		return fmt.Errorf("store budget must be >= 0, got %d", c.BudgetBytes)
	}
	if c.NumCompactors < 2 {
		return fmt.Errorf("store num_compactors must be >= 2 (BadgerDB requirement), got %d", c.NumCompactors)
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return fmt.Errorf("store gc_ratio must be in (0,1), got %v", c.GCRatio)
	}
	if c.JanitorInterval < time.Second {
		return fmt.Errorf("store janitor_interval must be >= 1s, got %v", c.JanitorInterval)
	}
	return nil
}
