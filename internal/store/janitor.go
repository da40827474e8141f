// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
)

// staleTempAge is how old a temporary blob must be before the sweep deletes it.
const staleTempAge = time.Hour

// Janitor runs periodic store maintenance: budget enforcement, removal of
// orphan blobs and abandoned partial downloads, and value log GC.
type Janitor struct {
	store *Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// NewJanitor creates a janitor for s.
func NewJanitor(s *Store) *Janitor {
	return &Janitor{store: s}
}

// Start begins the background maintenance loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.running = true
	j.mu.Unlock()

	j.wg.Add(1)
	go j.run()

	logging.Info().Dur("interval", j.store.cfg.JanitorInterval).Msg("Store janitor started")
	return nil
}

// Stop stops the loop and waits for a running pass to finish.
func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.cancel()
	j.running = false
	j.mu.Unlock()

	j.wg.Wait()
	logging.Info().Msg("Store janitor stopped")
}

// IsRunning returns whether the loop is active.
func (j *Janitor) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// LastRun returns when the last pass completed.
func (j *Janitor) LastRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *Janitor) run() {
	defer j.wg.Done()

	interval := j.store.cfg.JanitorInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			j.RunOnce(j.ctx)
		}
	}
}

// RunOnce performs one maintenance pass.
func (j *Janitor) RunOnce(ctx context.Context) {
	start := time.Now()

	if budget := j.store.Budget(); budget > 0 && j.store.TotalSize() > budget {
		res := j.store.SetBudget(budget)
		metrics.StoreJanitorRuns.WithLabelValues("evict").Inc()
		if res.Evicted > 0 {
			logging.Info().Int("evicted", res.Evicted).Msg("Janitor enforced store budget")
		}
	}

	removed, err := j.store.SweepOrphans(ctx, j.store.cfg.PartialTTL)
	metrics.StoreJanitorRuns.WithLabelValues("sweep").Inc()
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Janitor sweep failed")
	}

	if err := j.store.RunGC(); err != nil && !errors.Is(err, ErrClosed) {
		logging.Error().Err(err).Msg("Janitor GC failed")
	}
	metrics.StoreJanitorRuns.WithLabelValues("gc").Inc()

	j.mu.Lock()
	j.lastRun = time.Now()
	j.mu.Unlock()

	if removed > 0 {
		logging.Info().Int("removed", removed).Dur("duration", time.Since(start)).Msg("Janitor removed orphan files")
	}
}

// SweepOrphans deletes blob files without a catalog record, stale temporary
// files and partial downloads older than partialTTL. It returns the number
// of files removed.
func (s *Store) SweepOrphans(ctx context.Context, partialTTL time.Duration) (int, error) {
	release, err := s.enter()
	if err != nil {
		return 0, err
	}
	defer release()

	now := s.now()
	removed := 0

	err = filepath.WalkDir(s.blobDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if isTempFile(name) {
			if info, err := d.Info(); err == nil && now.Sub(info.ModTime()) > staleTempAge {
				if os.Remove(path) == nil {
					removed++
				}
			}
			return nil
		}

		unlock, ok := s.locks.tryLock(name)
		if !ok {
			return nil
		}
		defer unlock()
		if _, err := s.getRecord(name); errors.Is(err, ErrNotFound) {
			if os.Remove(path) == nil {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}

	if partialTTL <= 0 {
		return removed, nil
	}
	entries, err := os.ReadDir(s.partialDir)
	if err != nil {
		return removed, err
	}
	for _, e := range entries {
		info, err := e.Info()
		if err != nil || e.IsDir() {
			continue
		}
		if now.Sub(info.ModTime()) > partialTTL {
			if os.Remove(filepath.Join(s.partialDir, e.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}
