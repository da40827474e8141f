// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/region"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/settings"
	"github.com/tomtom215/tilevault/internal/store"
)

// Config holds the whole application configuration.
type Config struct {
	Store      store.Config     `koanf:"store"`
	Download   download.Config  `koanf:"download"`
	Resolver   resolver.Config  `koanf:"resolver"`
	Region     region.Config    `koanf:"region"`
	Events     events.Config    `koanf:"events"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`
	Settings   settings.Config  `koanf:"settings"`
}

// ServerConfig configures the HTTP admin API.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// DownloadDir confines the local paths of ad hoc downloads started
	// through the API. Empty disables POST /api/v1/downloads.
	DownloadDir string `koanf:"download_dir"`

	// WaitTimeout bounds how long a ?wait=true request blocks.
	WaitTimeout time.Duration `koanf:"wait_timeout"`

	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal panic"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gt=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gt=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// Validate checks every section. Component checks run first so their
// messages name the section; struct tags catch the rest.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return err
	}
	if err := c.Download.Validate(); err != nil {
		return err
	}
	if err := c.Region.Validate(); err != nil {
		return err
	}
	if err := c.Events.Validate(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateSettings(); err != nil {
		return err
	}
	return c.validateTags()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1..65535, got %d", c.Server.Port)
	}
	if !c.Server.RateLimitDisabled && c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow < time.Second {
		return fmt.Errorf("server rate_limit_window must be at least 1s, got %v", c.Server.RateLimitWindow)
	}
	if c.Server.ShutdownTimeout < 0 || c.Server.WaitTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}
	return nil
}

func (c *Config) validateSettings() error {
	switch c.Settings.Network {
	case "", "NOT_REACHABLE", "WIFI", "ETHERNET", "CELLULAR":
		return nil
	default:
		return fmt.Errorf("settings network must be one of NOT_REACHABLE, WIFI, ETHERNET, CELLULAR, got %q", c.Settings.Network)
	}
}
