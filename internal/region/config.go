// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"fmt"
	"time"
)

// Config bounds orchestrator concurrency.
type Config struct {
	// MaxConcurrentFetches bounds resource downloads across all loads.
	MaxConcurrentFetches int64 `koanf:"max_concurrent_fetches" validate:"min=1"`

	// MaxFetchesPerLoad bounds resource downloads of one load.
	MaxFetchesPerLoad int `koanf:"max_fetches_per_load" validate:"min=1"`

	// ResourceTimeout is the timeout of each resource download. Zero
	// leaves downloads unbounded.
	ResourceTimeout time.Duration `koanf:"resource_timeout" validate:"gte=0"`

	// EventTimeout bounds one event publication.
	EventTimeout time.Duration `koanf:"event_timeout"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches: 16,
		MaxFetchesPerLoad:    4,
		ResourceTimeout:      2 * time.Minute,
		EventTimeout:         5 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrentFetches < 1 {
		return fmt.Errorf("region: max_concurrent_fetches must be >= 1, got %d", c.MaxConcurrentFetches)
	}
	if c.MaxFetchesPerLoad < 1 {
		return fmt.Errorf("region: max_fetches_per_load must be >= 1, got %d", c.MaxFetchesPerLoad)
	}
	if c.ResourceTimeout < 0 {
		return fmt.Errorf("region: resource_timeout must be >= 0")
	}
	return nil
}
