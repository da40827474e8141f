// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"sync"

	"github.com/tomtom215/tilevault/internal/models"
)

type registryEntry struct {
	desc models.TilesetDescriptor
	refs int
}

// DescriptorRegistry reference counts the tileset descriptors held by
// regions and by resolutions in progress. A descriptor is dropped when its
// last reference is released.
type DescriptorRegistry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
}

// NewDescriptorRegistry creates an empty registry.
func NewDescriptorRegistry() *DescriptorRegistry {
	return &DescriptorRegistry{entries: make(map[string]*registryEntry)}
}

// Acquire adds a reference to desc and returns the registered instance,
// which is the first one acquired under its id.
func (r *DescriptorRegistry) Acquire(desc models.TilesetDescriptor) models.TilesetDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[desc.ID]
	if !ok {
		e = &registryEntry{desc: desc}
		r.entries[desc.ID] = e
	}
	e.refs++
	return e.desc
}

// Release drops one reference to id. It reports whether the descriptor was
// removed.
func (r *DescriptorRegistry) Release(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[id]
	if !ok {
		return false
	}
	e.refs--
	if e.refs > 0 {
		return false
	}
	delete(r.entries, id)
	return true
}

// Get returns the registered descriptor with id.
func (r *DescriptorRegistry) Get(id string) (models.TilesetDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return models.TilesetDescriptor{}, false
	}
	return e.desc, true
}

// Refs returns the reference count of id.
func (r *DescriptorRegistry) Refs(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		return e.refs
	}
	return 0
}

// Len returns the number of live descriptors.
func (r *DescriptorRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
