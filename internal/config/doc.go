// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package config loads the tilevault configuration with koanf.

# Configuration Sources

Three layers are merged, later ones winning:

 1. Built-in defaults (each component's DefaultConfig)
 2. An optional YAML file: CONFIG_PATH, else config.yaml, config.yml,
    /etc/tilevault/config.yaml or /etc/tilevault/config.yml
 3. Environment variables listed in the mapping table below

# Sections

  - store: badger catalog, blob directory, storage budget, janitor
  - download: session concurrency, pacing, circuit breaker
  - resolver: style document cache and the per-descriptor tile pack cap
  - region: fetch concurrency of loads
  - events: none, gochannel or nats backend
  - server: HTTP admin API
  - logging: zerolog level and format
  - supervisor: suture restart policy
  - settings: initial offline switch, tile count limit and network

# Environment Variables

Store:
  - STORE_PATH: root directory (default: /data/tilevault)
  - STORE_BUDGET_BYTES: storage budget, 0 for unlimited (default: 2GiB)
  - STORE_JANITOR_INTERVAL: maintenance interval (default: 10m)
  - STORE_PARTIAL_TTL: age of abandoned partial files (default: 72h)

Downloads:
  - DOWNLOAD_MAX_CONCURRENT: concurrent sessions (default: 8)
  - DOWNLOAD_REQUESTS_PER_SECOND: request pacing, 0 disables (default: 50)
  - DOWNLOAD_TIMEOUT: default session timeout (default: none)
  - DOWNLOAD_BREAKER_THRESHOLD: failures that open a host breaker (default: 5)

Events:
  - EVENTS_BACKEND: none, gochannel or nats (default: gochannel)
  - NATS_URL, NATS_EMBEDDED, NATS_HOST, NATS_PORT

HTTP server:
  - HTTP_HOST, HTTP_PORT (default: 0.0.0.0:8089)
  - DOWNLOAD_DIR: directory for API-started downloads
  - CORS_ORIGINS: comma-separated list
  - RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW, DISABLE_RATE_LIMIT

Logging:
  - LOG_LEVEL: trace, debug, info, warn or error (default: info)
  - LOG_FORMAT: json or console (default: json)
  - LOG_CALLER: include caller file and line

Settings:
  - OFFLINE_CONNECTED: initial offline switch (default: true)
  - TILE_COUNT_LIMIT: tile limit per region (default: 6000)
  - NETWORK_REACHABILITY: NOT_REACHABLE, WIFI, ETHERNET or CELLULAR

The full table is envMappings in koanf.go.

# Validation

Validate runs the component checks, then the validate struct tags through
go-playground/validator. LoadWithKoanf fails on the first error.
*/
package config
