// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/settings"
	"github.com/tomtom215/tilevault/internal/store"
)

var paris = models.Bounds{West: 2.3522, South: 48.8566, East: 2.3522, North: 48.8566}

// tileServer serves a style, tile packs, sprites and glyphs.
type tileServer struct {
	*httptest.Server

	mu          sync.Mutex
	hits        map[string]int
	notModified int
	// gate, when set, holds tile requests until closed.
	gate    chan struct{}
	arrived chan string
	// fail maps a path prefix to a status code.
	fail map[string]int
}

func newTileServer(t *testing.T) *tileServer {
	t.Helper()
	ts := &tileServer{
		hits:    make(map[string]int),
		arrived: make(chan string, 64),
		fail:    make(map[string]int),
	}
	ts.Server = httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *tileServer) styleURL() string { return ts.URL + "/styles/streets.json" }

func (ts *tileServer) serve(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	ts.mu.Lock()
	gate := ts.gate
	status := 0
	for prefix, code := range ts.fail {
		if strings.HasPrefix(path, prefix) {
			status = code
		}
	}
	ts.mu.Unlock()

	if path == "/styles/streets.json" {
		fmt.Fprintf(w, `{
  "version": 8,
  "sprite": %[1]q,
  "glyphs": %[2]q,
  "sources": {"streets": {"type": "vector", "tiles": [%[3]q], "minzoom": 0, "maxzoom": 16}},
  "layers": [{"id": "names", "type": "symbol", "source": "streets", "layout": {"text-font": ["Noto Sans Regular"]}}]
}`, ts.URL+"/sprites/streets", ts.URL+"/fonts/{fontstack}/{range}.pbf", ts.URL+"/streets/{z}/{x}/{y}.mvt")
		return
	}

	if strings.HasPrefix(path, "/streets/") {
		select {
		case ts.arrived <- path:
		default:
		}
		if gate != nil {
			select {
			case <-gate:
			case <-r.Context().Done():
				return
			}
		}
	}

	ts.mu.Lock()
	if status != 0 {
		ts.mu.Unlock()
		w.WriteHeader(status)
		return
	}
	if r.Header.Get("If-None-Match") == `"v1"` {
		ts.notModified++
		ts.mu.Unlock()
		w.Header().Set("Cache-Control", "max-age=3600")
		w.WriteHeader(http.StatusNotModified)
		return
	}
	ts.hits[path]++
	ts.mu.Unlock()

	w.Header().Set("ETag", `"v1"`)
	w.Header().Set("Cache-Control", "max-age=3600")
	fmt.Fprintf(w, "content of %s", path)
}

func (ts *tileServer) tileHits() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for p, c := range ts.hits {
		if strings.HasPrefix(p, "/streets/") {
			n += c
		}
	}
	return n
}

// block holds later tile requests and forgets earlier arrivals.
func (ts *tileServer) block() {
	ts.mu.Lock()
	ts.gate = make(chan struct{})
	ts.mu.Unlock()
	for {
		select {
		case <-ts.arrived:
		default:
			return
		}
	}
}

func (ts *tileServer) failPath(prefix string, code int) {
	ts.mu.Lock()
	ts.fail[prefix] = code
	ts.mu.Unlock()
}

func (ts *tileServer) unblock() {
	ts.mu.Lock()
	if ts.gate != nil {
		close(ts.gate)
		ts.gate = nil
	}
	ts.mu.Unlock()
}

func (ts *tileServer) waitArrival(t *testing.T) {
	t.Helper()
	select {
	case <-ts.arrived:
	case <-time.After(5 * time.Second):
		t.Fatal("no tile request arrived")
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Publish(_ context.Context, ev events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) types(subject string) []events.Type {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Type
	for _, ev := range s.events {
		if ev.Subject == subject && ev.Type != events.TypeLoadProgress {
			out = append(out, ev.Type)
		}
	}
	return out
}

type harness struct {
	orch     *Orchestrator
	store    *store.Store
	resolver *resolver.Resolver
	server   *tileServer
	sink     *recordingSink
}

func newHarness(t *testing.T, budget int64) *harness {
	t.Helper()
	settings.Reset()
	t.Cleanup(settings.Reset)

	st, err := store.OpenForTesting(t.TempDir(), budget)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	dcfg := download.DefaultConfig()
	dcfg.RequestsPerSecond = 0
	dcfg.Retention = 0
	dm := download.NewManager(dcfg, nil)
	t.Cleanup(dm.Close)

	res := resolver.New(resolver.NewGLStyleSource(dm, 0), resolver.DefaultConfig())
	sink := &recordingSink{}
	orch, err := New(DefaultConfig(), st, res, dm, sink)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)

	return &harness{orch: orch, store: st, resolver: res, server: newTileServer(t), sink: sink}
}

func (h *harness) parisOptions() models.TileRegionLoadOptions {
	g := paris
	return models.TileRegionLoadOptions{
		Geometry: &g,
		Descriptors: []models.TilesetDescriptorOptions{
			{StyleURI: h.server.styleURL(), MinZoom: 0, MaxZoom: 14, PixelRatio: 1},
		},
	}
}

func waitRegion(t *testing.T, op *Operation[*models.TileRegion]) (*models.TileRegion, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	r, err := op.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("operation did not finish")
	}
	return r, err
}

func requireRegionError(t *testing.T, err error, want models.TileRegionErrorType) {
	t.Helper()
	var tre *models.TileRegionError
	if !errors.As(err, &tre) {
		t.Fatalf("expected *TileRegionError %s, got %v", want, err)
	}
	if tre.Type != want {
		t.Fatalf("error type = %s, want %s (%s)", tre.Type, want, tre.Message)
	}
}

type progressLog struct {
	mu        sync.Mutex
	snapshots []models.TileRegionLoadProgress
	finished  int
	late      bool
}

func (p *progressLog) onProgress(s models.TileRegionLoadProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished > 0 {
		p.late = true
	}
	p.snapshots = append(p.snapshots, s)
}

func (p *progressLog) onFinished(*models.TileRegion, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished++
}

func TestLoadTileRegionParis(t *testing.T) {
	h := newHarness(t, 0)
	log := &progressLog{}

	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), log.onProgress, log.onFinished))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if region.RequiredResourceCount != 3 || region.CompletedResourceCount != 3 {
		t.Errorf("counts = %d/%d, want 3/3", region.CompletedResourceCount, region.RequiredResourceCount)
	}
	if !region.IsComplete() {
		t.Error("expected a complete region")
	}
	if region.Expires == nil {
		t.Error("expected an expiry from max-age")
	}
	if got := h.server.tileHits(); got != 3 {
		t.Errorf("tile requests = %d, want 3", got)
	}

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.finished != 1 {
		t.Errorf("finished callback ran %d times", log.finished)
	}
	if log.late {
		t.Error("progress delivered after the terminal callback")
	}
	if len(log.snapshots) == 0 {
		t.Fatal("expected progress snapshots")
	}
	for i := 1; i < len(log.snapshots); i++ {
		if log.snapshots[i].CompletedResourceCount < log.snapshots[i-1].CompletedResourceCount {
			t.Fatalf("progress went backwards: %+v", log.snapshots)
		}
	}
	final := log.snapshots[len(log.snapshots)-1]
	if final.CompletedResourceCount != 3 || final.LoadedResourceCount != 3 {
		t.Errorf("final progress = %+v", final)
	}

	stored, err := h.orch.GetTileRegion("paris")
	if err != nil {
		t.Fatal(err)
	}
	if len(stored.Descriptors) != 1 || stored.Descriptors[0].MaxZoom != 14 {
		t.Errorf("stored descriptors = %+v", stored.Descriptors)
	}
	refs, err := h.store.References(store.RegionOwner("paris"))
	if err != nil || len(refs) != 3 {
		t.Errorf("references = %d (%v), want 3", len(refs), err)
	}

	types := h.sink.types("paris")
	if len(types) != 2 || types[0] != events.TypeLoadStarted || types[1] != events.TypeLoadFinished {
		t.Errorf("events = %v", types)
	}
}

func TestLoadTileRegionIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}

	log := &progressLog{}
	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), log.onProgress, log.onFinished))
	if err != nil {
		t.Fatal(err)
	}
	if got := h.server.tileHits(); got != 3 {
		t.Errorf("second load issued requests: %d tile requests in total", got)
	}
	if !region.IsComplete() {
		t.Error("expected a complete region")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	final := log.snapshots[len(log.snapshots)-1]
	if final.LoadedResourceCount != 0 || final.CompletedResourceCount != 3 {
		t.Errorf("second load progress = %+v", final)
	}
}

func TestLoadTileRegionUsesStoredOptions(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}
	meta := models.StringValue("trip")
	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", models.TileRegionLoadOptions{Metadata: &meta}, nil, nil))
	if err != nil {
		t.Fatal(err)
	}
	if region.RequiredResourceCount != 3 || !region.Metadata.Equal(meta) {
		t.Errorf("region = %+v", region)
	}
}

func TestLoadTileRegionErrors(t *testing.T) {
	tests := []struct {
		name   string
		opts   func(h *harness) models.TileRegionLoadOptions
		before func()
		want   models.TileRegionErrorType
	}{
		{
			name: "new region without geometry",
			opts: func(h *harness) models.TileRegionLoadOptions {
				o := h.parisOptions()
				o.Geometry = nil
				return o
			},
			want: models.TileRegionErrorDoesNotExist,
		},
		{
			name: "min zoom above max zoom",
			opts: func(h *harness) models.TileRegionLoadOptions {
				o := h.parisOptions()
				o.Descriptors[0].MinZoom, o.Descriptors[0].MaxZoom = 10, 2
				return o
			},
			want: models.TileRegionErrorTilesetDescriptor,
		},
		{
			name: "negative pixel ratio",
			opts: func(h *harness) models.TileRegionLoadOptions {
				o := h.parisOptions()
				o.Descriptors[0].PixelRatio = -1
				return o
			},
			want: models.TileRegionErrorTilesetDescriptor,
		},
		{
			name: "style unavailable",
			opts: func(h *harness) models.TileRegionLoadOptions {
				o := h.parisOptions()
				o.Descriptors[0].StyleURI = h.server.URL + "/styles/missing.json"
				return o
			},
			want: models.TileRegionErrorOther,
		},
		{
			name:   "tile count limit",
			opts:   func(h *harness) models.TileRegionLoadOptions { return h.parisOptions() },
			before: func() { settings.SetOfflineMapboxTileCountLimit(10) },
			want:   models.TileRegionErrorTileCountExceeded,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 0)
			if tt.before != nil {
				tt.before()
			}
			if tt.name == "style unavailable" {
				h.server.failPath("/styles/missing.json", http.StatusNotFound)
			}
			calls := 0
			_, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "r", tt.opts(h), nil, func(*models.TileRegion, error) { calls++ }))
			requireRegionError(t, err, tt.want)
			if calls != 1 {
				t.Errorf("finished callback ran %d times", calls)
			}
			if h.server.tileHits() != 0 {
				t.Error("no tile should be requested")
			}
			if _, err := h.orch.GetTileRegion("r"); err == nil {
				t.Error("failed load must not create the region")
			}
		})
	}
}

func TestLoadTileRegionPartialFailure(t *testing.T) {
	h := newHarness(t, 0)
	h.server.failPath("/streets/11/", http.StatusNotFound)

	log := &progressLog{}
	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), log.onProgress, nil))
	if err != nil {
		t.Fatalf("partial failure must not fail the load: %v", err)
	}
	if region.CompletedResourceCount != 2 || region.RequiredResourceCount != 3 {
		t.Errorf("counts = %d/%d, want 2/3", region.CompletedResourceCount, region.RequiredResourceCount)
	}
	if region.IsComplete() {
		t.Error("region must not be complete")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	if final := log.snapshots[len(log.snapshots)-1]; final.ErroredResourceCount != 1 {
		t.Errorf("errored = %d, want 1", final.ErroredResourceCount)
	}
}

func TestLoadTileRegionDiskFull(t *testing.T) {
	h := newHarness(t, 10)
	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil))
	requireRegionError(t, err, models.TileRegionErrorDiskFull)
	if region == nil || region.CompletedResourceCount != 0 {
		t.Errorf("region = %+v", region)
	}
	types := h.sink.types("paris")
	if len(types) == 0 || types[len(types)-1] != events.TypeLoadFailed {
		t.Errorf("events = %v", types)
	}
}

func TestCancelTileRegionLoad(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()
	defer h.server.unblock()

	log := &progressLog{}
	op := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), log.onProgress, log.onFinished)
	h.server.waitArrival(t)
	op.Cancel()

	region, err := waitRegion(t, op)
	requireRegionError(t, err, models.TileRegionErrorCanceled)
	if region == nil || region.RequiredResourceCount != 3 {
		t.Fatalf("canceled region = %+v", region)
	}
	if region.CompletedResourceCount != 0 {
		t.Errorf("completed = %d, want 0", region.CompletedResourceCount)
	}
	op.Cancel()

	log.mu.Lock()
	defer log.mu.Unlock()
	if log.finished != 1 {
		t.Errorf("finished callback ran %d times", log.finished)
	}
	if log.late {
		t.Error("progress delivered after the terminal callback")
	}
	types := h.sink.types("paris")
	if types[len(types)-1] != events.TypeLoadCanceled {
		t.Errorf("events = %v", types)
	}
}

func TestProgressOnTransferStart(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()
	defer h.server.unblock()

	log := &progressLog{}
	op := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), log.onProgress, log.onFinished)
	h.server.waitArrival(t)

	// The initial snapshot and at least one for a started transfer, all
	// before anything completed.
	deadline := time.Now().Add(5 * time.Second)
	for {
		log.mu.Lock()
		n := len(log.snapshots)
		var completed int64
		if n > 0 {
			completed = log.snapshots[n-1].CompletedResourceCount
		}
		log.mu.Unlock()
		if completed != 0 {
			t.Fatalf("resource completed while tiles were held")
		}
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d progress snapshots before any completion, want at least 2", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.server.unblock()
	if _, err := waitRegion(t, op); err != nil {
		t.Fatalf("load failed: %v", err)
	}
}

func TestCancelKeepsFinishedResources(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "small", models.TileRegionLoadOptions{
		Geometry:    &paris,
		Descriptors: []models.TilesetDescriptorOptions{{StyleURI: h.server.styleURL(), MinZoom: 0, MaxZoom: 5}},
	}, nil, nil)); err != nil {
		t.Fatal(err)
	}

	h.server.block()
	defer h.server.unblock()
	op := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)
	h.server.waitArrival(t)
	op.Cancel()

	region, err := waitRegion(t, op)
	requireRegionError(t, err, models.TileRegionErrorCanceled)
	if region.CompletedResourceCount != 1 {
		t.Errorf("completed = %d, want the already stored pack", region.CompletedResourceCount)
	}
}

func TestLoadSupersedesActiveLoad(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()

	var firstErr error
	first := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, func(_ *models.TileRegion, err error) {
		firstErr = err
	})
	h.server.waitArrival(t)

	second := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)
	if _, err := waitRegion(t, first); err == nil {
		t.Fatal("superseded load must fail")
	}
	requireRegionError(t, firstErr, models.TileRegionErrorCanceled)

	h.server.unblock()
	region, err := waitRegion(t, second)
	if err != nil {
		t.Fatalf("second load failed: %v", err)
	}
	if !region.IsComplete() {
		t.Errorf("region = %+v", region)
	}
}

func TestConcurrentLoadsShareDownloads(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()

	a := h.orch.LoadTileRegion(context.Background(), "a", h.parisOptions(), nil, nil)
	b := h.orch.LoadTileRegion(context.Background(), "b", h.parisOptions(), nil, nil)
	waitWaiters(t, h.orch, 6)
	h.server.unblock()

	for _, op := range []*Operation[*models.TileRegion]{a, b} {
		r, err := waitRegion(t, op)
		if err != nil {
			t.Fatal(err)
		}
		if !r.IsComplete() {
			t.Errorf("region %s incomplete", r.ID)
		}
	}
	if got := h.server.tileHits(); got != 3 {
		t.Errorf("tile requests = %d, want 3", got)
	}
}

// waitWaiters blocks until n operations wait on shared downloads.
func waitWaiters(t *testing.T, o *Orchestrator, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		o.mu.Lock()
		refs := 0
		for _, f := range o.fetches {
			refs += f.refs
		}
		o.mu.Unlock()
		if refs == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d waiters on shared downloads", n)
}

func TestRemoveTileRegion(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}
	if h.resolver.Registry().Len() != 1 {
		t.Fatalf("registry holds %d descriptors", h.resolver.Registry().Len())
	}

	ctx := context.Background()
	if err := h.orch.RemoveTileRegion(ctx, "paris"); err != nil {
		t.Fatal(err)
	}
	_, err := h.orch.GetTileRegion("paris")
	requireRegionError(t, err, models.TileRegionErrorDoesNotExist)

	if n := len(h.store.ListReferenced()); n != 0 {
		t.Errorf("%d keys still referenced", n)
	}
	if h.resolver.Registry().Len() != 0 {
		t.Error("descriptors must be released")
	}
	// Files stay until eviction.
	if h.store.Stats().Records != 3 {
		t.Errorf("records = %d, want 3", h.store.Stats().Records)
	}
	if err := h.orch.RemoveTileRegion(ctx, "paris"); err != nil {
		t.Errorf("second remove: %v", err)
	}

	types := h.sink.types("paris")
	if types[len(types)-1] != events.TypeRemoved {
		t.Errorf("events = %v", types)
	}
}

func TestRemoveCancelsActiveLoad(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()
	defer h.server.unblock()

	op := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)
	h.server.waitArrival(t)

	if err := h.orch.RemoveTileRegion(context.Background(), "paris"); err != nil {
		t.Fatal(err)
	}
	_, err := waitRegion(t, op)
	requireRegionError(t, err, models.TileRegionErrorCanceled)
	if _, err := h.orch.GetTileRegion("paris"); err == nil {
		t.Error("removed region must not be saved by the canceled load")
	}
	if h.orch.InFlight() != 0 {
		t.Errorf("%d downloads still in flight", h.orch.InFlight())
	}
}

func TestInvalidateTileRegion(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}

	region, err := waitRegion(t, h.orch.InvalidateTileRegion(context.Background(), "paris", nil))
	if err != nil {
		t.Fatal(err)
	}
	if !region.IsComplete() {
		t.Errorf("region = %+v", region)
	}
	h.server.mu.Lock()
	notModified := h.server.notModified
	h.server.mu.Unlock()
	if notModified != 3 {
		t.Errorf("304 answers = %d, want 3", notModified)
	}
	if got := h.server.tileHits(); got != 3 {
		t.Errorf("unchanged resources were downloaded again: %d tile requests", got)
	}

	_, err = waitRegion(t, h.orch.InvalidateTileRegion(context.Background(), "nowhere", nil))
	requireRegionError(t, err, models.TileRegionErrorDoesNotExist)
}

func TestCancelQueuedInvalidate(t *testing.T) {
	h := newHarness(t, 0)
	h.server.block()
	defer h.server.unblock()

	load := h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)
	h.server.waitArrival(t)

	inv := h.orch.InvalidateTileRegion(context.Background(), "paris", nil)
	inv.Cancel()
	select {
	case <-inv.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("canceled invalidation waited for the running load")
	}
	_, err := inv.Wait(context.Background())
	requireRegionError(t, err, models.TileRegionErrorCanceled)

	// A later operation still runs after the load.
	next := h.orch.InvalidateTileRegion(context.Background(), "paris", nil)
	select {
	case <-next.Done():
		t.Fatal("invalidation ran while the load was active")
	case <-time.After(100 * time.Millisecond):
	}
	select {
	case <-load.Done():
		t.Fatal("load finished while its tiles were held")
	default:
	}

	h.server.unblock()
	if _, err := waitRegion(t, load); err != nil {
		t.Fatalf("load: %v", err)
	}
	region, err := waitRegion(t, next)
	if err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if !region.IsComplete() {
		t.Errorf("region = %+v", region)
	}
}

func TestTileRegionMetadata(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}

	meta := models.MapValue(map[string]models.Value{"name": models.StringValue("Paris")})
	if err := h.orch.SetTileRegionMetadata("paris", meta); err != nil {
		t.Fatal(err)
	}
	got, err := h.orch.GetTileRegionMetadata("paris")
	if err != nil || !got.Equal(meta) {
		t.Errorf("metadata = %v (%v)", got, err)
	}
	err = h.orch.SetTileRegionMetadata("nowhere", meta)
	requireRegionError(t, err, models.TileRegionErrorDoesNotExist)

	ok, err := h.orch.TileRegionContainsDescriptors("paris", []models.TilesetDescriptorOptions{
		{StyleURI: h.server.styleURL(), MinZoom: 1, MaxZoom: 12, PixelRatio: 1},
	})
	if err != nil || !ok {
		t.Errorf("expected band-equivalent descriptor to match: %v %v", ok, err)
	}
	ok, err = h.orch.TileRegionContainsDescriptors("paris", []models.TilesetDescriptorOptions{
		{StyleURI: h.server.styleURL(), MinZoom: 0, MaxZoom: 16, PixelRatio: 1},
	})
	if err != nil || ok {
		t.Errorf("expected no match: %v %v", ok, err)
	}

	all, err := h.orch.GetAllTileRegions()
	if err != nil || len(all) != 1 {
		t.Errorf("regions = %d (%v)", len(all), err)
	}
}

func TestRecoverHoldsStoredDescriptors(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil)); err != nil {
		t.Fatal(err)
	}

	dm := download.NewManager(download.DefaultConfig(), nil)
	defer dm.Close()
	res := resolver.New(resolver.NewGLStyleSource(dm, 0), resolver.DefaultConfig())
	orch, err := New(DefaultConfig(), h.store, res, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer orch.Close()
	if res.Registry().Len() != 1 {
		t.Errorf("recovered descriptors = %d, want 1", res.Registry().Len())
	}
}

func TestStylePackLifecycle(t *testing.T) {
	h := newHarness(t, 0)
	uri := h.server.styleURL()

	var snapshots []models.StylePackLoadProgress
	var mu sync.Mutex
	op := h.orch.LoadStylePack(context.Background(), uri, models.StylePackLoadOptions{
		GlyphsRasterizationMode: models.AllGlyphsRasterizedLocally,
	}, func(p models.StylePackLoadProgress) {
		mu.Lock()
		snapshots = append(snapshots, p)
		mu.Unlock()
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pack, err := op.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// style + 4 sprite files, no glyphs.
	if pack.RequiredResourceCount != 5 || !pack.IsComplete() {
		t.Errorf("pack = %+v", pack)
	}
	mu.Lock()
	if len(snapshots) == 0 || snapshots[len(snapshots)-1].CompletedResourceCount != 5 {
		t.Errorf("snapshots = %+v", snapshots)
	}
	mu.Unlock()

	meta := models.BoolValue(true)
	if err := h.orch.SetStylePackMetadata(uri, meta); err != nil {
		t.Fatal(err)
	}
	if got, _ := h.orch.GetStylePackMetadata(uri); !got.Equal(meta) {
		t.Errorf("metadata = %v", got)
	}
	if packs, _ := h.orch.GetAllStylePacks(); len(packs) != 1 {
		t.Errorf("packs = %d", len(packs))
	}

	if err := h.orch.RemoveStylePack(context.Background(), uri); err != nil {
		t.Fatal(err)
	}
	_, err = h.orch.GetStylePack(uri)
	var spe *models.StylePackError
	if !errors.As(err, &spe) || spe.Type != models.StylePackErrorDoesNotExist {
		t.Errorf("expected DOES_NOT_EXIST, got %v", err)
	}
	if err := h.orch.RemoveStylePack(context.Background(), uri); err != nil {
		t.Errorf("second remove: %v", err)
	}
}

func TestStylePackUnavailable(t *testing.T) {
	h := newHarness(t, 0)
	h.server.failPath("/styles/gone.json", http.StatusNotFound)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := h.orch.LoadStylePack(context.Background(), h.server.URL+"/styles/gone.json", models.StylePackLoadOptions{}, nil, nil).Wait(ctx)
	var spe *models.StylePackError
	if !errors.As(err, &spe) || spe.Type != models.StylePackErrorOther {
		t.Errorf("expected OTHER, got %v", err)
	}
}

func TestOfflineSwitchFailsResources(t *testing.T) {
	h := newHarness(t, 0)
	// Resolve the style first so only tile downloads are affected.
	if _, err := h.resolver.Style(context.Background(), h.server.styleURL()); err != nil {
		t.Fatal(err)
	}
	settings.SetMapboxStackConnected(false)

	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil))
	if err != nil {
		t.Fatalf("resource failures must not fail the load: %v", err)
	}
	if region.CompletedResourceCount != 0 {
		t.Errorf("completed = %d, want 0", region.CompletedResourceCount)
	}
	if h.server.tileHits() != 0 {
		t.Error("no tile may be requested while offline")
	}
}

func TestClosedOrchestrator(t *testing.T) {
	h := newHarness(t, 0)
	h.orch.Close()

	_, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", h.parisOptions(), nil, nil))
	requireRegionError(t, err, models.TileRegionErrorCanceled)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	cfg.MaxFetchesPerLoad = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero fetches per load")
	}
}

func TestRangeRejectedRestartsDownload(t *testing.T) {
	h := newHarness(t, 0)
	opts := h.parisOptions()

	resolution, err := h.resolver.Resolve(context.Background(), opts.Descriptors[0], opts.Geometry)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	// Stale partials make every download a range request, which the test
	// server answers with a full 200.
	for _, r := range resolution.Resources {
		if err := os.WriteFile(h.store.PartialPath(r.Key), []byte("stale"), 0o600); err != nil {
			t.Fatalf("write partial: %v", err)
		}
	}

	region, err := waitRegion(t, h.orch.LoadTileRegion(context.Background(), "paris", opts, nil, nil))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if !region.IsComplete() {
		t.Fatalf("counts = %d/%d", region.CompletedResourceCount, region.RequiredResourceCount)
	}

	for _, r := range resolution.Resources {
		rec, err := h.store.Get(r.Key)
		if err != nil {
			t.Fatalf("get %s: %v", r.Key.URL, err)
		}
		data, err := os.ReadFile(rec.LocalPath)
		if err != nil {
			t.Fatalf("read blob: %v", err)
		}
		u, err := url.Parse(r.Key.URL)
		if err != nil {
			t.Fatalf("parse url: %v", err)
		}
		if want := "content of " + u.Path; string(data) != want {
			t.Errorf("blob = %q, want %q", data, want)
		}
	}
}
