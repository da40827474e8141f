// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture[int]()
	if _, _, ok := f.Result(); ok {
		t.Fatal("new future should be unresolved")
	}
	if !f.Resolve(1, nil) {
		t.Error("first Resolve should win")
	}
	if f.Resolve(2, errors.New("late")) {
		t.Error("second Resolve should be ignored")
	}

	v, err := f.Wait(context.Background())
	if v != 1 || err != nil {
		t.Errorf("Wait = %d, %v", v, err)
	}
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait = %v, want deadline exceeded", err)
	}
}

func TestMailboxCoalescesAndStaysMonotonic(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var got []int
	var inFlight, maxInFlight atomic.Int32

	m := NewMailbox(func(v int) {
		n := inFlight.Add(1)
		if n > maxInFlight.Load() {
			maxInFlight.Store(n)
		}
		if v == 0 {
			<-release
		}
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
		inFlight.Add(-1)
	})

	m.Post(0)
	// The first callback is blocked; these coalesce into the newest value.
	time.Sleep(10 * time.Millisecond)
	for i := 1; i <= 100; i++ {
		m.Post(i)
	}
	close(release)
	m.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0] != 0 || got[1] != 100 {
		t.Errorf("delivered %v, want [0 100]", got)
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("max in-flight callbacks = %d, want 1", maxInFlight.Load())
	}
}

func TestMailboxCloseDropsPending(t *testing.T) {
	var calls atomic.Int32
	m := NewMailbox(func(int) { calls.Add(1) })
	m.Post(1)
	m.Flush()
	m.Close()
	m.Post(2)
	m.Flush()

	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestMailboxNilCallback(t *testing.T) {
	m := NewMailbox[int](nil)
	m.Post(1)
	m.Flush()
	m.Close()
}
