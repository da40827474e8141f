// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package settings holds the process-wide offline switch and download
// settings. All state lives behind one mutex; tests call Reset between cases.
package settings

import (
	"sort"
	"sync"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

// DefaultTileCountLimit is the offline tile count limit applied until
// SetOfflineMapboxTileCountLimit is called.
const DefaultTileCountLimit int64 = 6000

// Config is the initial value of every setting.
type Config struct {
	// Connected is the state of the offline switch. When false every
	// download fails fast with CONNECTION_ERROR.
	Connected bool `koanf:"connected"`

	// TileCountLimit caps the number of tiles a single tile region may cover.
	// Zero or negative disables the limit.
	TileCountLimit int64 `koanf:"tile_count_limit"`

	// Network is the initial network classification.
	Network models.NetworkReachability `koanf:"network"`
}

// DefaultConfig returns the settings a fresh process starts with.
func DefaultConfig() Config {
	return Config{
		Connected:      true,
		TileCountLimit: DefaultTileCountLimit,
		Network:        models.NetworkWiFi,
	}
}

type state struct {
	Config
	nextID    int
	listeners map[int]func(Config)
}

var (
	mu      sync.Mutex
	current = newState(DefaultConfig())
)

func newState(cfg Config) *state {
	if cfg.Network == "" {
		cfg.Network = models.NetworkWiFi
	}
	return &state{Config: cfg, listeners: make(map[int]func(Config))}
}

// Init replaces every setting with cfg. Subscribers are kept and notified.
func Init(cfg Config) {
	update(func(s *Config) { *s = cfg })
}

// Reset restores defaults and drops all subscribers.
func Reset() {
	mu.Lock()
	current = newState(DefaultConfig())
	mu.Unlock()
}

// Snapshot returns the current settings.
func Snapshot() Config {
	mu.Lock()
	defer mu.Unlock()
	return current.Config
}

// Subscribe registers fn to be called with the new settings after every
// change. The returned function unregisters it.
func Subscribe(fn func(Config)) (unsubscribe func()) {
	mu.Lock()
	s := current
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	mu.Unlock()

	return func() {
		mu.Lock()
		delete(s.listeners, id)
		mu.Unlock()
	}
}

// update applies fn under the lock and notifies subscribers outside it.
func update(fn func(*Config)) {
	mu.Lock()
	before := current.Config
	fn(&current.Config)
	if current.Network == "" {
		current.Network = models.NetworkWiFi
	}
	after := current.Config
	ids := make([]int, 0, len(current.listeners))
	for id := range current.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]func(Config), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, current.listeners[id])
	}
	mu.Unlock()

	if before == after {
		return
	}
	for _, l := range listeners {
		l(after)
	}
}

// SetMapboxStackConnected flips the global offline switch.
func SetMapboxStackConnected(connected bool) {
	logging.Info().Bool("connected", connected).Msg("Offline switch changed")
	update(func(c *Config) { c.Connected = connected })
}

// MapboxStackConnected reports the state of the global offline switch.
func MapboxStackConnected() bool {
	return Snapshot().Connected
}

// SetOfflineMapboxTileCountLimit sets the maximum tile count of a region.
func SetOfflineMapboxTileCountLimit(limit int64) {
	logging.Info().Int64("limit", limit).Msg("Offline tile count limit changed")
	update(func(c *Config) { c.TileCountLimit = limit })
}

// OfflineMapboxTileCountLimit returns the maximum tile count of a region.
func OfflineMapboxTileCountLimit() int64 {
	return Snapshot().TileCountLimit
}

// SetNetworkReachability records the current network classification.
func SetNetworkReachability(n models.NetworkReachability) {
	logging.Debug().Str("network", string(n)).Msg("Network reachability changed")
	update(func(c *Config) { c.Network = n })
}

// NetworkReachability returns the current network classification.
func NetworkReachability() models.NetworkReachability {
	return Snapshot().Network
}
