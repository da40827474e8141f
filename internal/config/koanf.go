// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/region"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/settings"
	"github.com/tomtom215/tilevault/internal/store"
	"github.com/tomtom215/tilevault/internal/validation"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tilevault/config.yaml",
	"/etc/tilevault/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. The file and environment
// layers override them.
func defaultConfig() *Config {
	return &Config{
		Store:    store.DefaultConfig(),
		Download: download.DefaultConfig(),
		Resolver: resolver.DefaultConfig(),
		Region:   region.DefaultConfig(),
		Events:   events.DefaultConfig(),
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8089,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      0, // ?wait=true requests can be long
			IdleTimeout:       2 * time.Minute,
			ShutdownTimeout:   10 * time.Second,
			DownloadDir:       "/data/downloads",
			WaitTimeout:       10 * time.Minute,
			CORSOrigins:       []string{},
			RateLimitRequests: 300,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5.0,
			FailureDecay:     30.0,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
		Settings: settings.DefaultConfig(),
	}
}

// LoadWithKoanf loads configuration in three layers:
//  1. Defaults: built-in values
//  2. Config file: optional YAML file
//  3. Environment variables: mapped names only
//
// Later layers override earlier ones.
func LoadWithKoanf() (*Config, error) {
	return load(findConfigFile())
}

// LoadFile is LoadWithKoanf with an explicit config file path.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return load(path)
}

func load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// STORE_PATH -> store.path, HTTP_PORT -> server.port, ...
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns CONFIG_PATH if it exists, else the first default
// path that exists, else "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they come from
// the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lowercased environment variable names to config paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Store
	"store_path":             "store.path",
	"store_budget_bytes":     "store.budget_bytes",
	"store_sync_writes":      "store.sync_writes",
	"store_compression":      "store.compression",
	"store_memtable_size":    "store.memtable_size",
	"store_vlog_file_size":   "store.vlog_file_size",
	"store_num_compactors":   "store.num_compactors",
	"store_gc_ratio":         "store.gc_ratio",
	"store_janitor_interval": "store.janitor_interval",
	"store_partial_ttl":      "store.partial_ttl",

	// Download manager
	"download_max_concurrent":       "download.max_concurrent",
	"download_requests_per_second":  "download.requests_per_second",
	"download_burst":                "download.burst",
	"download_user_agent":           "download.user_agent",
	"download_timeout":              "download.default_timeout",
	"download_retention":            "download.retention",
	"download_max_in_memory_bytes":  "download.max_in_memory_bytes",
	"download_breaker_threshold":    "download.breaker.failure_threshold",
	"download_breaker_timeout":      "download.breaker.timeout",
	"download_breaker_interval":     "download.breaker.interval",
	"download_breaker_max_requests": "download.breaker.max_requests",

	// Resolver
	"resolver_style_cache_size": "resolver.style_cache_size",
	"resolver_style_cache_ttl":  "resolver.style_cache_ttl",
	"resolver_max_packs":        "resolver.max_packs",

	// Region orchestrator
	"region_max_concurrent_fetches": "region.max_concurrent_fetches",
	"region_max_fetches_per_load":   "region.max_fetches_per_load",
	"region_resource_timeout":       "region.resource_timeout",
	"region_event_timeout":          "region.event_timeout",

	// Events
	"events_backend":           "events.backend",
	"events_topic":             "events.topic",
	"events_buffer_size":       "events.buffer_size",
	"events_breaker_threshold": "events.breaker.failure_threshold",
	"events_breaker_timeout":   "events.breaker.timeout",
	"nats_url":                 "events.nats.url",
	"nats_embedded":            "events.nats.embedded",
	"nats_host":                "events.nats.host",
	"nats_port":                "events.nats.port",
	"nats_max_reconnects":      "events.nats.max_reconnects",
	"nats_reconnect_wait":      "events.nats.reconnect_wait",
	"nats_queue_group":         "events.nats.queue_group",

	// HTTP server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_idle_timeout":     "server.idle_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"download_dir":          "server.download_dir",
	"api_wait_timeout":      "server.wait_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_requests":   "server.rate_limit_requests",
	"rate_limit_window":     "server.rate_limit_window",
	"disable_rate_limit":    "server.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Supervisor
	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",

	// Initial settings
	"offline_connected":    "settings.connected",
	"tile_count_limit":     "settings.tile_count_limit",
	"network_reachability": "settings.network",
}

// envTransformFunc maps an environment variable name to its config path,
// or "" to skip it.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// validateTags runs the validate struct tags of every section.
func (c *Config) validateTags() error {
	if verr := validation.ValidateStruct(c); verr != nil {
		return verr
	}
	return nil
}
