// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/region"
	"github.com/tomtom215/tilevault/internal/store"
	"github.com/tomtom215/tilevault/internal/validation"
	"github.com/tomtom215/tilevault/internal/websocket"
)

// Deps are the components the API serves.
type Deps struct {
	Orchestrator *region.Orchestrator
	Store        *store.Store
	Downloads    *download.Manager
	Hub          *websocket.Hub

	// DownloadDir confines the local paths of ad hoc downloads.
	DownloadDir string

	// AllowedOrigins is used for CORS and the websocket origin check.
	AllowedOrigins []string

	// WaitTimeout bounds how long ?wait=true blocks on a load.
	WaitTimeout time.Duration
}

// Handler holds the HTTP handlers.
type Handler struct {
	orch      *region.Orchestrator
	store     *store.Store
	downloads *download.Manager
	hub       *websocket.Hub
	upgrader  gorillaws.Upgrader

	downloadDir string
	waitTimeout time.Duration
	startTime   time.Time

	mu      sync.Mutex
	regions map[string]*tracked
	packs   map[string]*tracked
}

// NewHandler creates a Handler over deps.
func NewHandler(deps Deps) *Handler {
	wait := deps.WaitTimeout
	if wait <= 0 {
		wait = 10 * time.Minute
	}
	return &Handler{
		orch:        deps.Orchestrator,
		store:       deps.Store,
		downloads:   deps.Downloads,
		hub:         deps.Hub,
		upgrader:    websocket.Upgrader(deps.AllowedOrigins),
		downloadDir: deps.DownloadDir,
		waitTimeout: wait,
		startTime:   time.Now(),
		regions:     make(map[string]*tracked),
		packs:       make(map[string]*tracked),
	}
}

// tracked is the state of the latest operation started through the API for
// one region or style pack.
type tracked struct {
	mu       sync.Mutex
	op       string // load or invalidate
	cancel   func() // set once the operation exists
	done     chan struct{}
	started  time.Time
	finished time.Time
	progress models.TileRegionLoadProgress
	err      error
}

// OperationStatus is the JSON view of a tracked operation.
type OperationStatus struct {
	Operation  string                        `json:"operation"`
	Active     bool                          `json:"active"`
	StartedAt  time.Time                     `json:"started_at"`
	FinishedAt *time.Time                    `json:"finished_at,omitempty"`
	Progress   models.TileRegionLoadProgress `json:"progress"`
	Error      *APIError                     `json:"error,omitempty"`
}

func (t *tracked) setCancel(fn func()) {
	t.mu.Lock()
	t.cancel = fn
	t.mu.Unlock()
}

// stop cancels the operation. It reports false when it already finished.
func (t *tracked) stop() bool {
	select {
	case <-t.done:
		return false
	default:
	}
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return true
}

func (t *tracked) setProgress(p models.TileRegionLoadProgress) {
	t.mu.Lock()
	t.progress = p
	t.mu.Unlock()
}

func (t *tracked) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.finished = time.Now().UTC()
	t.mu.Unlock()
	close(t.done)
}

func (t *tracked) status() OperationStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := OperationStatus{
		Operation: t.op,
		StartedAt: t.started,
		Progress:  t.progress,
	}
	select {
	case <-t.done:
		f := t.finished
		st.FinishedAt = &f
	default:
		st.Active = true
	}
	if t.err != nil {
		st.Error = operationAPIError(t.err)
	}
	return st
}

func operationAPIError(err error) *APIError {
	var tre *models.TileRegionError
	if errors.As(err, &tre) {
		return &APIError{Code: string(tre.Type), Message: tre.Message}
	}
	var spe *models.StylePackError
	if errors.As(err, &spe) {
		return &APIError{Code: string(spe.Type), Message: spe.Message}
	}
	return &APIError{Code: ErrCodeInternalError, Message: err.Error()}
}

// track registers a new operation for key, replacing an older entry.
func (h *Handler) track(m map[string]*tracked, key, op string) *tracked {
	t := &tracked{op: op, done: make(chan struct{}), started: time.Now().UTC()}
	h.mu.Lock()
	m[key] = t
	h.mu.Unlock()
	return t
}

func (h *Handler) lookup(m map[string]*tracked, key string) (*tracked, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	t, ok := m[key]
	return t, ok
}

// wantWait reports whether the request asked to block until the operation
// finishes.
func wantWait(r *http.Request) bool {
	ok, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	return ok
}

// validateRequest validates v, writing a 400 response on failure.
func validateRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	verr := validation.ValidateStruct(v)
	if verr == nil {
		return true
	}
	apiErr := verr.ToAPIError()
	respondError(w, r, http.StatusBadRequest, apiErr.Code, apiErr.Message, apiErr.Details)
	return false
}

// respondOperation answers a started operation. Without ?wait=true it writes
// 202 with the tracked status. With it, the handler blocks until the
// operation finishes or timeout passes, then writes the result, the error,
// or 202 if it is still running.
func respondOperation[T any](w http.ResponseWriter, r *http.Request, t *tracked, timeout time.Duration, wait func(context.Context) (*T, error)) {
	if !wantWait(r) {
		respondData(w, r, http.StatusAccepted, t.status())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	res, err := wait(ctx)
	if ctx.Err() != nil {
		respondData(w, r, http.StatusAccepted, t.status())
		return
	}
	if err != nil {
		var details any
		if res != nil {
			details = res
		}
		respondOperationError(w, r, err, details)
		return
	}
	respondData(w, r, http.StatusOK, res)
}
