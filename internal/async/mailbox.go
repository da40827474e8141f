// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package async

import "sync"

// Mailbox delivers posted values to a callback on its own goroutine with at
// most one callback in flight. Values posted while a callback runs replace
// each other; only the newest is delivered next. Delivery order follows post
// order, so a monotonic sequence of posts is observed monotonically.
type Mailbox[T any] struct {
	fn func(T)

	mu         sync.Mutex
	cond       *sync.Cond
	pending    T
	hasPending bool
	running    bool
	closed     bool
}

// NewMailbox creates a mailbox delivering to fn.
func NewMailbox[T any](fn func(T)) *Mailbox[T] {
	m := &Mailbox[T]{fn: fn}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Post queues v, replacing any value not yet delivered. Posts after Close
// are dropped.
func (m *Mailbox[T]) Post(v T) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.fn == nil {
		return
	}
	m.pending = v
	m.hasPending = true
	if !m.running {
		m.running = true
		go m.deliver()
	}
}

func (m *Mailbox[T]) deliver() {
	m.mu.Lock()
	for m.hasPending && !m.closed {
		v := m.pending
		m.hasPending = false
		var zero T
		m.pending = zero
		m.mu.Unlock()

		m.fn(v)

		m.mu.Lock()
	}
	m.running = false
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Flush waits until every posted value has been delivered.
func (m *Mailbox[T]) Flush() {
	m.mu.Lock()
	for m.running {
		m.cond.Wait()
	}
	m.mu.Unlock()
}

// Close drops undelivered values, waits for an in-flight callback to return
// and rejects later posts. It must not be called from the callback.
func (m *Mailbox[T]) Close() {
	m.mu.Lock()
	m.closed = true
	m.hasPending = false
	for m.running {
		m.cond.Wait()
	}
	m.mu.Unlock()
}
