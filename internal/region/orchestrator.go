// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/store"
)

// Downloader starts download sessions. *download.Manager implements it.
type Downloader interface {
	Start(ctx context.Context, opts models.DownloadOptions) (*download.Session, error)
}

// Orchestrator runs tile region and style pack operations.
type Orchestrator struct {
	cfg       Config
	store     *store.Store
	resolver  *resolver.Resolver
	downloads Downloader
	sink      events.Sink
	global    *semaphore.Weighted

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu      sync.Mutex
	jobs    map[string]*job
	fetches map[string]*fetch
	// held lists the descriptor ids each region holds in the registry.
	held   map[string][]string
	closed bool
	wg     sync.WaitGroup

	// catalogMu serializes read-modify-write of catalog entries.
	catalogMu sync.Mutex
}

// New creates an orchestrator and re-registers the descriptors of stored
// regions. A nil sink discards events.
func New(cfg Config, st *store.Store, res *resolver.Resolver, dl Downloader, sink events.Sink) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sink == nil {
		sink = events.Discard
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		store:      st,
		resolver:   res,
		downloads:  dl,
		sink:       sink,
		global:     semaphore.NewWeighted(cfg.MaxConcurrentFetches),
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       make(map[string]*job),
		fetches:    make(map[string]*fetch),
		held:       make(map[string][]string),
	}
	if err := o.recover(); err != nil {
		cancel(ErrClosed)
		return nil, err
	}
	return o, nil
}

func (o *Orchestrator) recover() error {
	regions, err := o.store.ListRegions()
	if err != nil {
		return fmt.Errorf("list tile regions: %w", err)
	}
	for _, r := range regions {
		o.holdDescriptors(store.RegionOwner(r.ID), r.Descriptors)
	}
	if len(regions) > 0 {
		logging.Info().Int("regions", len(regions)).Msg("Recovered tile regions")
	}
	return nil
}

// holdDescriptors makes descs the descriptors held by owner.
func (o *Orchestrator) holdDescriptors(owner string, descs []models.TilesetDescriptor) {
	reg := o.resolver.Registry()
	ids := make([]string, 0, len(descs))
	for _, d := range descs {
		ids = append(ids, reg.Acquire(d).ID)
	}
	o.mu.Lock()
	prev := o.held[owner]
	if len(ids) == 0 {
		delete(o.held, owner)
	} else {
		o.held[owner] = ids
	}
	o.mu.Unlock()
	for _, id := range prev {
		reg.Release(id)
	}
}

// Close cancels every operation and waits for them to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.mu.Unlock()

	o.baseCancel(ErrClosed)
	o.wg.Wait()
}

// ReduceMemoryUse evicts expired and least recently used unreferenced
// resources until the store fits its budget.
func (o *Orchestrator) ReduceMemoryUse(ctx context.Context) (store.EvictionResult, error) {
	return o.store.ReduceMemoryUse(ctx)
}

// ActiveOperations returns the ids of owners with a running operation.
func (o *Orchestrator) ActiveOperations() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.jobs))
	for owner := range o.jobs {
		out = append(out, owner)
	}
	return out
}

func (o *Orchestrator) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.EventTimeout)
	defer cancel()
	if err := o.sink.Publish(ctx, ev); err != nil {
		logging.Debug().Err(err).Str("type", string(ev.Type)).Str("subject", ev.Subject).Msg("Event publish failed")
	}
}

func (o *Orchestrator) publishTerminal(kind events.Kind, subject string, p models.TileRegionLoadProgress, err error, started time.Time) {
	result := outcome(err)
	metrics.RecordLoad(string(kind), result, time.Since(started))

	typ := events.TypeLoadFinished
	switch result {
	case "canceled":
		typ = events.TypeLoadCanceled
	case "failed":
		typ = events.TypeLoadFailed
	}
	ev := events.New(typ, kind, subject)
	ev.Progress = progressEvent(p)
	if err != nil {
		ev.Message = err.Error()
		switch e := err.(type) {
		case *models.TileRegionError:
			ev.ErrorType = string(e.Type)
		case *models.StylePackError:
			ev.ErrorType = string(e.Type)
		}
	}
	o.publish(ev)
}

func progressEvent(p models.TileRegionLoadProgress) *events.Progress {
	return &events.Progress{
		RequiredResourceCount:  p.RequiredResourceCount,
		CompletedResourceCount: p.CompletedResourceCount,
		CompletedResourceSize:  p.CompletedResourceSize,
		ErroredResourceCount:   p.ErroredResourceCount,
		LoadedResourceCount:    p.LoadedResourceCount,
		LoadedResourceSize:     p.LoadedResourceSize,
	}
}
