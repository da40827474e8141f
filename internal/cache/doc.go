// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package cache provides the small in-memory data structures used by the
// resolver and the disk quota evictor:
//
//   - LRU: a generic, thread-safe LRU cache with TTL, used to keep parsed
//     style documents between loads
//   - MinHeap: a generic min-heap ordered by timestamp (ties broken by key),
//     used to visit eviction candidates from least to most recently accessed
package cache
