// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package cache

import (
	"sync"
	"time"
)

// HeapEntry is an entry in the min-heap, keyed by timestamp.
type HeapEntry[T any] struct {
	Key       string
	Value     T
	Timestamp time.Time
	index     int
}

// MinHeap is a min-heap ordered by Timestamp, then Key. The key order makes
// pops deterministic when timestamps collide. A parallel map gives O(1)
// lookup by key.
type MinHeap[T any] struct {
	mu    sync.Mutex
	heap  []*HeapEntry[T]
	byKey map[string]*HeapEntry[T]
}

// NewMinHeap creates an empty heap sized for n entries.
func NewMinHeap[T any](n int) *MinHeap[T] {
	return &MinHeap[T]{
		heap:  make([]*HeapEntry[T], 0, n),
		byKey: make(map[string]*HeapEntry[T], n),
	}
}

// Push adds an entry, or updates value and timestamp of an existing key.
func (h *MinHeap[T]) Push(key string, value T, timestamp time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.byKey[key]; ok {
		existing.Value = value
		existing.Timestamp = timestamp
		h.fix(existing.index)
		return
	}

	entry := &HeapEntry[T]{Key: key, Value: value, Timestamp: timestamp, index: len(h.heap)}
	h.heap = append(h.heap, entry)
	h.byKey[key] = entry
	h.up(entry.index)
}

// Pop removes and returns the oldest entry, or nil when empty.
func (h *MinHeap[T]) Pop() *HeapEntry[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.heap) == 0 {
		return nil
	}
	return h.removeAt(0)
}

// Len returns the number of entries.
func (h *MinHeap[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.heap)
}

// must be called with lock held
func (h *MinHeap[T]) removeAt(i int) *HeapEntry[T] {
	n := len(h.heap) - 1
	entry := h.heap[i]
	delete(h.byKey, entry.Key)

	if i != n {
		h.heap[i] = h.heap[n]
		h.heap[i].index = i
	}
	h.heap[n] = nil
	h.heap = h.heap[:n]
	if i < n {
		h.fix(i)
	}
	return entry
}

func (h *MinHeap[T]) less(i, j int) bool {
	a, b := h.heap[i], h.heap[j]
	if a.Timestamp.Equal(b.Timestamp) {
		return a.Key < b.Key
	}
	return a.Timestamp.Before(b.Timestamp)
}

func (h *MinHeap[T]) fix(i int) {
	if !h.up(i) {
		h.down(i)
	}
}

func (h *MinHeap[T]) up(i int) bool {
	moved := false
	for i > 0 {
		parent := (i - 1) / 2
		if !h.less(i, parent) {
			break
		}
		h.swap(i, parent)
		i = parent
		moved = true
	}
	return moved
}

func (h *MinHeap[T]) down(i int) {
	n := len(h.heap)
	for {
		smallest := i
		if l := 2*i + 1; l < n && h.less(l, smallest) {
			smallest = l
		}
		if r := 2*i + 2; r < n && h.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		h.swap(i, smallest)
		i = smallest
	}
}

func (h *MinHeap[T]) swap(i, j int) {
	h.heap[i], h.heap[j] = h.heap[j], h.heap[i]
	h.heap[i].index = i
	h.heap[j].index = j
}
