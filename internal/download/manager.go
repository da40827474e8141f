// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/settings"
)

// ErrInvalidOptions is returned by Start and Get for unusable requests.
var ErrInvalidOptions = errors.New("invalid download options")

// Manager starts and tracks download sessions.
type Manager struct {
	cfg     Config
	client  *http.Client
	sem     *semaphore.Weighted
	limiter *rate.Limiter

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc
	wg         sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	breakers map[string]*gobreaker.CircuitBreaker[*http.Response]
	closed   bool

	unsubscribe func()
}

// NewManager creates a manager. A nil client uses a clone of the default
// transport without an overall timeout; per-request timeouts come from
// HTTPRequest.Timeout.
func NewManager(cfg Config, client *http.Client) *Manager {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	baseCtx, baseCancel := context.WithCancelCause(context.Background())
	m := &Manager{
		cfg:        cfg,
		client:     client,
		sem:        semaphore.NewWeighted(cfg.MaxConcurrent),
		limiter:    limiter,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		sessions:   make(map[string]*Session),
		breakers:   make(map[string]*gobreaker.CircuitBreaker[*http.Response]),
	}
	m.unsubscribe = settings.Subscribe(m.onSettingsChanged)
	return m
}

// Start validates opts and starts a session. Sessions that fail admission
// (offline switch off, restricted network) are returned already FAILED.
// Cancelling ctx cancels the session.
func (m *Manager) Start(ctx context.Context, opts models.DownloadOptions) (*Session, error) {
	if err := validateRequest(opts.Request); err != nil {
		return nil, err
	}
	if opts.LocalPath == "" {
		return nil, fmt.Errorf("%w: local path is required", ErrInvalidOptions)
	}
	opts.Request = m.withDefaults(opts.Request)

	s := newSession(ctx, uuid.NewString(), opts)
	stop := context.AfterFunc(m.baseCtx, func() { s.cancel(ErrManagerClosed) })

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		return nil, ErrManagerClosed
	}
	m.sessions[s.id] = s
	m.wg.Add(1)
	m.mu.Unlock()

	logging.Debug().
		Str("download_id", s.id).
		Str("url", opts.Request.URL).
		Bool("resume", opts.Resume).
		Msg("Download session started")

	if derr := preflight(opts.Request); derr != nil {
		s.fail(derr)
		m.finish(s, stop)
		return s, nil
	}

	go func() {
		defer m.finish(s, stop)
		m.run(s)
	}()
	return s, nil
}

// Cancel cancels the session with id. It reports whether the session is
// known.
func (m *Manager) Cancel(id string) bool {
	s, ok := m.Session(id)
	if ok {
		s.Cancel()
	}
	return ok
}

// Session returns the session with id. Finished sessions are forgotten
// after the retention window.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Sessions returns a snapshot of every known session, oldest first.
func (m *Manager) Sessions() []models.DownloadStatus {
	m.mu.Lock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].started.Equal(list[j].started) {
			return list[i].id < list[j].id
		}
		return list[i].started.Before(list[j].started)
	})
	out := make([]models.DownloadStatus, len(list))
	for i, s := range list {
		out[i] = s.Status()
	}
	return out
}

// Close cancels every session and waits for them to finish.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.unsubscribe()
	m.baseCancel(ErrManagerClosed)
	m.wg.Wait()
}

func (m *Manager) withDefaults(req models.HTTPRequest) models.HTTPRequest {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if req.Timeout <= 0 && m.cfg.DefaultTimeout > 0 {
		req.Timeout = m.cfg.DefaultTimeout
	}
	return req
}

func validateRequest(req models.HTTPRequest) error {
	if req.URL == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidOptions)
	}
	u, err := url.Parse(req.URL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidOptions, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url has no host", ErrInvalidOptions)
	}
	return nil
}

// preflight applies the offline switch and the network restriction.
func preflight(req models.HTTPRequest) *models.DownloadError {
	cfg := settings.Snapshot()
	if !cfg.Connected {
		return connectionError(ErrOfflineSwitch.Error())
	}
	if !req.NetworkRestriction.Permits(cfg.Network) {
		return connectionError(fmt.Sprintf("%s: restriction %s, network %s",
			ErrRestricted, req.NetworkRestriction, cfg.Network))
	}
	return nil
}

// admit runs the admission policy and returns the function releasing the
// concurrency slot.
func (m *Manager) admit(ctx context.Context, req models.HTTPRequest) (func(), *models.DownloadError) {
	if derr := preflight(req); derr != nil {
		return nil, derr
	}
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, classify(ctx, err)
	}
	release := func() { m.sem.Release(1) }
	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			release()
			if ctx.Err() == nil {
				// The wait would outlast the deadline.
				return nil, newError(models.DownloadErrorCodeNetwork, models.DownloadErrorRequestTimedOut, err.Error())
			}
			return nil, classify(ctx, err)
		}
	}
	return release, nil
}

func (m *Manager) breaker(host string) *gobreaker.CircuitBreaker[*http.Response] {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cb, ok := m.breakers[host]; ok {
		return cb
	}
	bc := m.cfg.Breaker
	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "download:" + host,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Download circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool { return !countsAsFailure(err) },
	})
	m.breakers[host] = cb
	return cb
}

// BreakerState returns the state name of the breaker for host, or "closed"
// when no request has been made to it.
func (m *Manager) BreakerState(host string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[host]; ok {
		return cb.State().String()
	}
	return gobreaker.StateClosed.String()
}

// onSettingsChanged fails in-flight sessions the new settings forbid.
func (m *Manager) onSettingsChanged(cfg settings.Config) {
	m.mu.Lock()
	var victims []*Session
	var cause error
	for _, s := range m.sessions {
		if s.Status().State.Terminal() {
			continue
		}
		switch {
		case !cfg.Connected:
			victims, cause = append(victims, s), ErrOfflineSwitch
		case !s.opts.Request.NetworkRestriction.Permits(cfg.Network):
			victims, cause = append(victims, s), ErrRestricted
		}
	}
	m.mu.Unlock()

	for _, s := range victims {
		s.cancel(cause)
	}
	if len(victims) > 0 {
		logging.Info().
			Int("sessions", len(victims)).
			Str("cause", cause.Error()).
			Msg("Failed in-flight downloads after settings change")
	}
}

// finish records the outcome and schedules the session for removal.
func (m *Manager) finish(s *Session, stop func() bool) {
	defer m.wg.Done()
	stop()
	s.cancel(nil)

	st := s.Status()
	outcome, errType := "finished", ""
	switch {
	case st.State == models.DownloadStateFailed:
		outcome = "failed"
		if st.Error != nil {
			errType = string(st.Error.Type)
		}
	case st.NotModified:
		outcome = "not_modified"
	}
	metrics.RecordDownload(outcome, errType, time.Since(s.started))

	ev := logging.Debug()
	if outcome == "failed" && errType != string(models.DownloadErrorRequestCancelled) {
		ev = logging.Warn()
		if st.Error != nil {
			ev = ev.Str("error", st.Error.Error())
		}
	}
	ev.Str("download_id", s.id).
		Str("url", s.opts.Request.URL).
		Str("outcome", outcome).
		Int64("transferred_bytes", st.TransferredBytes).
		Msg("Download session finished")

	remove := func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
	}
	if m.cfg.Retention > 0 {
		time.AfterFunc(m.cfg.Retention, remove)
	} else {
		remove()
	}
}
