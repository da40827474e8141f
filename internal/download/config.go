// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"fmt"
	"time"
)

// BreakerConfig configures the per-host circuit breakers.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// Interval clears failure counts while closed. Zero never clears.
	Interval time.Duration `koanf:"interval"`
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration `koanf:"timeout"`
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32 `koanf:"failure_threshold"`
}

// Config holds download manager settings.
type Config struct {
	MaxConcurrent     int64         `koanf:"max_concurrent" validate:"min=1"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"min=0"`
	Burst             int           `koanf:"burst" validate:"min=0"`
	UserAgent         string        `koanf:"user_agent"`
	DefaultTimeout    time.Duration `koanf:"default_timeout"`
	// Retention is how long finished sessions stay visible to Session and
	// Sessions.
	Retention time.Duration `koanf:"retention"`
	// MaxInMemoryBytes caps a body fetched with Get.
	MaxInMemoryBytes int64         `koanf:"max_in_memory_bytes" validate:"min=1"`
	Breaker          BreakerConfig `koanf:"breaker"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     8,
		RequestsPerSecond: 50,
		Burst:             16,
		UserAgent:         "tilevault/1.0",
		Retention:         5 * time.Minute,
		MaxInMemoryBytes:  32 << 20,
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("download max_concurrent must be at least 1, got %d", c.MaxConcurrent)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("download requests_per_second must not be negative")
	}
	if c.RequestsPerSecond > 0 && c.Burst < 1 {
		return fmt.Errorf("download burst must be at least 1 when rate limiting is enabled")
	}
	if c.MaxInMemoryBytes < 1 {
		return fmt.Errorf("download max_in_memory_bytes must be positive")
	}
	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("download breaker failure_threshold must be at least 1")
	}
	return nil
}
