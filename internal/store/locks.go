// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import "sync"

// keyLocks serializes operations on one resource id. Entries are dropped
// once nobody holds or waits for them.
type keyLocks struct {
	mu sync.Mutex
	m  map[string]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{m: make(map[string]*keyLock)}
}

func (l *keyLocks) acquire(id string) *keyLock {
	l.mu.Lock()
	kl, ok := l.m[id]
	if !ok {
		kl = &keyLock{}
		l.m[id] = kl
	}
	kl.refs++
	l.mu.Unlock()
	return kl
}

func (l *keyLocks) release(id string, kl *keyLock) {
	l.mu.Lock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.m, id)
	}
	l.mu.Unlock()
}

// lock blocks until id is held and returns the unlock function.
func (l *keyLocks) lock(id string) func() {
	kl := l.acquire(id)
	kl.Lock()
	return func() {
		kl.Unlock()
		l.release(id, kl)
	}
}

// tryLock takes id only if nobody holds it.
func (l *keyLocks) tryLock(id string) (func(), bool) {
	kl := l.acquire(id)
	if !kl.TryLock() {
		l.release(id, kl)
		return nil, false
	}
	return func() {
		kl.Unlock()
		l.release(id, kl)
	}, true
}
