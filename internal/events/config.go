// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package events

import (
	"fmt"
	"time"
)

// Backend names.
const (
	BackendNone      = "none"
	BackendGoChannel = "gochannel"
	BackendNATS      = "nats"
)

// DefaultTopic is where load events are published.
const DefaultTopic = "tilevault.events"

// BreakerConfig configures the publish circuit breaker.
type BreakerConfig struct {
	MaxRequests      uint32        `koanf:"max_requests"`
	Interval         time.Duration `koanf:"interval"`
	Timeout          time.Duration `koanf:"timeout"`
	FailureThreshold uint32        `koanf:"failure_threshold" validate:"min=1"`
}

// NATSConfig configures the NATS backend.
type NATSConfig struct {
	URL           string        `koanf:"url"`
	Embedded      bool          `koanf:"embedded"`
	Host          string        `koanf:"host"`
	Port          int           `koanf:"port" validate:"min=-1,max=65535"`
	MaxReconnects int           `koanf:"max_reconnects"`
	ReconnectWait time.Duration `koanf:"reconnect_wait"`
	QueueGroup    string        `koanf:"queue_group"`
}

// Config selects and configures the event backend.
type Config struct {
	Backend    string        `koanf:"backend" validate:"oneof=none gochannel nats"`
	Topic      string        `koanf:"topic" validate:"required"`
	BufferSize int64         `koanf:"buffer_size" validate:"min=0"`
	NATS       NATSConfig    `koanf:"nats"`
	Breaker    BreakerConfig `koanf:"breaker"`
}

// DefaultConfig returns an in-process configuration.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendGoChannel,
		Topic:      DefaultTopic,
		BufferSize: 256,
		NATS: NATSConfig{
			URL:           "nats://127.0.0.1:4222",
			Host:          "127.0.0.1",
			Port:          4222,
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Breaker: BreakerConfig{
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendNone, BackendGoChannel:
	case BackendNATS:
		if !c.NATS.Embedded && c.NATS.URL == "" {
			return fmt.Errorf("events: nats backend needs a url or embedded server")
		}
	default:
		return fmt.Errorf("events: unknown backend %q", c.Backend)
	}
	if c.Topic == "" {
		return fmt.Errorf("events: topic is required")
	}
	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("events: breaker failure threshold must be positive")
	}
	return nil
}
