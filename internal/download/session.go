// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/tilevault/internal/models"
)

// Session is one download. It is safe for concurrent use.
type Session struct {
	id      string
	opts    models.DownloadOptions
	ctx     context.Context
	cancel  context.CancelCauseFunc
	started time.Time

	mu      sync.Mutex
	status  models.DownloadStatus
	changed chan struct{} // closed and replaced on every status change
	done    chan struct{}
}

func newSession(ctx context.Context, id string, opts models.DownloadOptions) *Session {
	sctx, cancel := context.WithCancelCause(ctx)
	return &Session{
		id:      id,
		opts:    opts,
		ctx:     sctx,
		cancel:  cancel,
		started: time.Now(),
		status: models.DownloadStatus{
			DownloadID: id,
			State:      models.DownloadStatePending,
			Options:    opts,
		},
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Options returns the options the session was started with.
func (s *Session) Options() models.DownloadOptions { return s.opts }

// Status returns the current status snapshot.
func (s *Session) Status() models.DownloadStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Done is closed when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} { return s.done }

// Cancel fails the session with REQUEST_CANCELLED. It has no effect once
// the session is terminal.
func (s *Session) Cancel() {
	s.cancel(ErrCancelled)
}

// Wait blocks until the session is terminal or ctx ends and returns the
// final status.
func (s *Session) Wait(ctx context.Context) (models.DownloadStatus, error) {
	select {
	case <-s.done:
		return s.Status(), nil
	case <-ctx.Done():
		return s.Status(), ctx.Err()
	}
}

// Watch returns a new stream of status snapshots starting with the current
// one. Intermediate snapshots are dropped when the reader lags. The channel
// closes after the terminal status is delivered or when ctx ends.
func (s *Session) Watch(ctx context.Context) <-chan models.DownloadStatus {
	out := make(chan models.DownloadStatus)
	go func() {
		defer close(out)
		for {
			s.mu.Lock()
			st := s.status
			changed := s.changed
			s.mu.Unlock()

			select {
			case out <- st:
			case <-ctx.Done():
				return
			}
			if st.State.Terminal() {
				return
			}

			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// update applies fn to the status unless it is already terminal. It
// reports whether the status changed.
func (s *Session) update(fn func(*models.DownloadStatus)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State.Terminal() {
		return false
	}
	fn(&s.status)
	close(s.changed)
	s.changed = make(chan struct{})
	if s.status.State.Terminal() {
		close(s.done)
	}
	return true
}

func (s *Session) fail(err *models.DownloadError) bool {
	return s.update(func(st *models.DownloadStatus) {
		st.State = models.DownloadStateFailed
		st.Error = err
		if err.StatusCode != 0 {
			st.HTTPStatus = err.StatusCode
		}
	})
}
