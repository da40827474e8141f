// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"context"

	"github.com/tomtom215/tilevault/internal/cache"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
)

// EvictionResult summarizes one eviction pass.
type EvictionResult struct {
	Evicted    int   `json:"evicted"`
	FreedBytes int64 `json:"freed_bytes"`
}

func (r *EvictionResult) add(rec *models.ResourceRecord) {
	r.Evicted++
	r.FreedBytes += rec.SizeBytes
	metrics.RecordEviction(rec.SizeBytes)
}

// evictLocked removes unreferenced records, least recently accessed first,
// until the store holds at most target bytes or no candidate is left.
// Records locked by a concurrent operation are skipped. Caller holds quotaMu.
func (s *Store) evictLocked(target int64, onlyExpired bool) EvictionResult {
	var result EvictionResult
	if s.size.Load() <= target && !onlyExpired {
		return result
	}

	records, err := s.scanRecords(context.Background())
	if err != nil {
		logging.Error().Err(err).Msg("Evictor failed to scan catalog")
		return result
	}

	now := s.now()
	candidates := cache.NewMinHeap[*models.ResourceRecord](len(records))
	for _, rec := range records {
		id := rec.Key.ID()
		if s.isReferencedID(id) {
			continue
		}
		if onlyExpired && !rec.Expired(now) {
			continue
		}
		candidates.Push(id, rec, rec.LastAccessedAt)
	}

	for onlyExpired || s.size.Load() > target {
		entry := candidates.Pop()
		if entry == nil {
			break
		}
		rec, ok := s.evictOne(entry.Key)
		if !ok {
			continue
		}
		result.add(rec)
		logging.Debug().
			Str("url", rec.Key.URL).
			Int64("size", rec.SizeBytes).
			Time("last_accessed", rec.LastAccessedAt).
			Msg("Evicted resource")
	}
	return result
}

// evictOne deletes the record of id unless it is pinned or locked. refMu
// is held across the check and the delete, so SetReferences either pins the
// key before the check or sees it gone.
func (s *Store) evictOne(id string) (*models.ResourceRecord, bool) {
	unlock, ok := s.locks.tryLock(id)
	if !ok {
		return nil, false
	}
	defer unlock()

	s.refMu.RLock()
	defer s.refMu.RUnlock()
	if s.refCount[id] > 0 {
		return nil, false
	}
	rec, err := s.deleteLocked(id)
	if err != nil {
		return nil, false
	}
	return rec, true
}

// ReduceMemoryUse removes every unreferenced expired record, then evicts
// unreferenced records in LRU order until the store fits its budget.
func (s *Store) ReduceMemoryUse(ctx context.Context) (EvictionResult, error) {
	release, err := s.enter()
	if err != nil {
		return EvictionResult{}, err
	}
	defer release()
	if err := ctx.Err(); err != nil {
		return EvictionResult{}, err
	}

	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()

	result := s.evictLocked(0, true)
	if budget := s.budget.Load(); budget > 0 {
		more := s.evictLocked(budget, false)
		result.Evicted += more.Evicted
		result.FreedBytes += more.FreedBytes
	}

	if result.Evicted > 0 {
		logging.Info().
			Int("evicted", result.Evicted).
			Int64("freed_bytes", result.FreedBytes).
			Int64("size_bytes", s.size.Load()).
			Msg("Reduced store disk use")
	}
	return result, nil
}

// SetBudget changes the storage budget and evicts down to it. A budget the
// referenced records alone exceed is kept; later writes fail with
// DiskFullError until references are released.
func (s *Store) SetBudget(budget int64) EvictionResult {
	if budget < 0 {
		budget = 0
	}
	s.budget.Store(budget)
	s.publishGauges()

	release, err := s.enter()
	if err != nil {
		return EvictionResult{}
	}
	defer release()

	if budget == 0 {
		return EvictionResult{}
	}
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	return s.evictLocked(budget, false)
}
