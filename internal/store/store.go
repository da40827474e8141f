// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
)

// Prefix keys for the catalog
const (
	prefixResource  = "res:"
	prefixRef       = "ref:"
	prefixRegion    = "region:"
	prefixStylePack = "stylepack:"
)

// PutOptions carries the metadata stored alongside content.
type PutOptions struct {
	Kind         models.ResourceKind
	ExpiresAt    *time.Time
	ETag         string
	LastModified string
}

// Stats is a point-in-time view of the store.
type Stats struct {
	SizeBytes       int64 `json:"size_bytes"`
	Records         int64 `json:"records"`
	ReferencedCount int   `json:"referenced"`
	BudgetBytes     int64 `json:"budget_bytes"`
}

// Store is the resource store. It is safe for concurrent use.
type Store struct {
	db         *badger.DB
	cfg        Config
	blobDir    string
	partialDir string

	// mu guards closed; operations hold the read lock while they run so
	// Close waits for them.
	mu     sync.RWMutex
	closed bool

	locks *keyLocks

	// quotaMu serializes space reservation and eviction.
	quotaMu sync.Mutex
	size    atomic.Int64
	records atomic.Int64
	budget  atomic.Int64

	refMu    sync.RWMutex
	refCount map[string]int
	refKeys  map[string]models.ResourceKey
	owners   map[string][]string

	now func() time.Time
}

// Open opens (or creates) the store rooted at cfg.Path.
func Open(cfg *Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid store config: %w", err)
	}
	return open(cfg)
}

// OpenForTesting opens a store without configuration validation.
// WARNING: Do not use in production code.
func OpenForTesting(path string, budget int64) (*Store, error) {
	cfg := DefaultConfig()
	cfg.Path = path
	cfg.BudgetBytes = budget
	cfg.SyncWrites = false
	cfg.Compression = false
	return open(&cfg)
}

func open(cfg *Config) (*Store, error) {
	s := &Store{
		cfg:        *cfg,
		blobDir:    filepath.Join(cfg.Path, "blobs"),
		partialDir: filepath.Join(cfg.Path, "partial"),
		locks:      newKeyLocks(),
		refCount:   make(map[string]int),
		refKeys:    make(map[string]models.ResourceKey),
		owners:     make(map[string][]string),
		now:        time.Now,
	}
	s.budget.Store(cfg.BudgetBytes)

	for _, dir := range []string{s.blobDir, s.partialDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "catalog"))
	opts.SyncWrites = cfg.SyncWrites
	if cfg.MemTableSize > 0 {
		opts.MemTableSize = cfg.MemTableSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumCompactors >= 2 {
		opts.NumCompactors = cfg.NumCompactors
	}
	if cfg.Compression {
		opts.Compression = options.Snappy
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open BadgerDB: %w", err)
	}
	s.db = db

	if err := s.recover(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().
		Str("path", cfg.Path).
		Int64("budget_bytes", cfg.BudgetBytes).
		Int64("size_bytes", s.size.Load()).
		Int64("records", s.records.Load()).
		Msg("Resource store opened")
	s.publishGauges()
	return s, nil
}

// recover rebuilds size accounting and reference counts, dropping records
// whose blob is gone.
func (s *Store) recover() error {
	var missing [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixResource)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec models.ResourceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			if _, err := os.Stat(rec.LocalPath); err != nil {
				missing = append(missing, it.Item().KeyCopy(nil))
				continue
			}
			s.size.Add(rec.SizeBytes)
			s.records.Add(1)
		}

		prefix = []byte(prefixRef)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			owner, id, ok := splitRefKey(it.Item().Key())
			if !ok {
				continue
			}
			var key models.ResourceKey
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &key)
			}); err != nil {
				return fmt.Errorf("unmarshal reference: %w", err)
			}
			s.refCount[id]++
			s.refKeys[id] = key
			s.owners[owner] = append(s.owners[owner], id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("recover catalog: %w", err)
	}

	if len(missing) > 0 {
		wb := s.db.NewWriteBatch()
		defer wb.Cancel()
		for _, k := range missing {
			if err := wb.Delete(k); err != nil {
				return fmt.Errorf("drop dangling record: %w", err)
			}
		}
		if err := wb.Flush(); err != nil {
			return fmt.Errorf("drop dangling records: %w", err)
		}
		logging.Warn().Int("records", len(missing)).Msg("Dropped catalog records with missing blobs")
	}
	return nil
}

// enter guards an operation against Close. The returned function must be
// called when the operation ends.
func (s *Store) enter() (func(), error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	return s.mu.RUnlock, nil
}

// Ping returns ErrClosed once the store is closed.
func (s *Store) Ping() error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	release()
	return nil
}

// Close waits for running operations and closes the catalog.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close BadgerDB: %w", err)
	}
	logging.Info().Msg("Resource store closed")
	return nil
}

// Get returns the record for key, or ErrNotFound.
func (s *Store) Get(key models.ResourceKey) (*models.ResourceRecord, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.getRecord(key.ID())
}

// Put stores data under key atomically and returns the new record.
// Concurrent puts of one key are serialized; the last writer wins.
func (s *Store) Put(ctx context.Context, key models.ResourceKey, data []byte, opts PutOptions) (*models.ResourceRecord, error) {
	return s.store(ctx, key, int64(len(data)), opts, func(dst string) error {
		return writeFileAtomic(dst, data)
	})
}

// Commit adopts the finished file at src as the content of key. src is
// moved, not copied, when it lives on the store's filesystem.
func (s *Store) Commit(ctx context.Context, key models.ResourceKey, src string, opts PutOptions) (*models.ResourceRecord, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", src, err)
	}
	return s.store(ctx, key, info.Size(), opts, func(dst string) error {
		return moveFileAtomic(src, dst)
	})
}

func (s *Store) store(ctx context.Context, key models.ResourceKey, size int64, opts PutOptions, write func(dst string) error) (*models.ResourceRecord, error) {
	if key.URL == "" {
		return nil, ErrEmptyURL
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	id := key.ID()
	unlock := s.locks.lock(id)
	defer unlock()

	existing, err := s.getRecord(id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	delta := size
	if existing != nil {
		delta -= existing.SizeBytes
	}

	if err := s.reserve(delta); err != nil {
		metrics.StorePutsTotal.WithLabelValues("disk_full").Inc()
		return nil, err
	}

	path := s.blobPath(id)
	if err := write(path); err != nil {
		s.size.Add(-delta)
		result := "error"
		if IsDiskFull(err) {
			result = "disk_full"
		}
		metrics.StorePutsTotal.WithLabelValues(result).Inc()
		return nil, fmt.Errorf("write blob %s: %w", key, err)
	}

	now := s.now().UTC()
	rec := &models.ResourceRecord{
		Key:            key,
		Kind:           opts.Kind,
		LocalPath:      path,
		SizeBytes:      size,
		ExpiresAt:      opts.ExpiresAt,
		LastAccessedAt: now,
		CreatedAt:      now,
		ETag:           opts.ETag,
		LastModified:   opts.LastModified,
	}
	if rec.Kind == "" {
		rec.Kind = models.ResourceKindOther
	}
	if existing != nil {
		rec.CreatedAt = existing.CreatedAt
	}

	if err := s.putRecord(rec); err != nil {
		s.size.Add(-delta)
		if existing == nil {
			_ = os.Remove(path)
		}
		metrics.StorePutsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if existing == nil {
		s.records.Add(1)
	}

	metrics.StorePutsTotal.WithLabelValues("ok").Inc()
	s.publishGauges()
	return rec, nil
}

// reserve accounts delta bytes against the budget, evicting when needed.
func (s *Store) reserve(delta int64) error {
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()

	budget := s.budget.Load()
	if budget > 0 && delta > 0 && s.size.Load()+delta > budget {
		s.evictLocked(budget-delta, false)
		if used := s.size.Load(); used+delta > budget {
			return &models.DiskFullError{Needed: delta, Budget: budget, Used: used}
		}
	}
	s.size.Add(delta)
	return nil
}

// Touch marks key as accessed now.
func (s *Store) Touch(key models.ResourceKey) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	id := key.ID()
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return err
	}
	rec.LastAccessedAt = s.now().UTC()
	return s.putRecord(rec)
}

// Refresh updates expiry and validators of an existing record, as after a
// 304 Not Modified revalidation. Empty validators keep their old values.
func (s *Store) Refresh(key models.ResourceKey, opts PutOptions) (*models.ResourceRecord, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	id := key.ID()
	unlock := s.locks.lock(id)
	defer unlock()

	rec, err := s.getRecord(id)
	if err != nil {
		return nil, err
	}
	rec.ExpiresAt = opts.ExpiresAt
	if opts.ETag != "" {
		rec.ETag = opts.ETag
	}
	if opts.LastModified != "" {
		rec.LastModified = opts.LastModified
	}
	rec.LastAccessedAt = s.now().UTC()
	if err := s.putRecord(rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record and its blob. Deleting a missing key is not
// an error.
func (s *Store) Delete(key models.ResourceKey) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	id := key.ID()
	unlock := s.locks.lock(id)
	defer unlock()

	_, err = s.deleteLocked(id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// deleteLocked removes the record then the file. Caller holds the key lock.
func (s *Store) deleteLocked(id string) (*models.ResourceRecord, error) {
	rec, err := s.getRecord(id)
	if err != nil {
		return nil, err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(prefixResource + id))
	}); err != nil {
		return nil, fmt.Errorf("delete record: %w", err)
	}
	if err := os.Remove(rec.LocalPath); err != nil && !os.IsNotExist(err) {
		logging.Warn().Err(err).Str("path", rec.LocalPath).Msg("Failed to remove blob; janitor will retry")
	}
	s.size.Add(-rec.SizeBytes)
	s.records.Add(-1)
	s.publishGauges()
	return rec, nil
}

// ReadBlob returns the content of key and marks it accessed.
func (s *Store) ReadBlob(key models.ResourceKey) ([]byte, *models.ResourceRecord, error) {
	rec, err := s.Get(key)
	if err != nil {
		return nil, nil, err
	}
	data, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read blob %s: %w", key, err)
	}
	if err := s.Touch(key); err != nil && !errors.Is(err, ErrNotFound) {
		logging.Debug().Err(err).Str("url", key.URL).Msg("Touch after read failed")
	}
	return data, rec, nil
}

// Records returns every record in the catalog.
func (s *Store) Records(ctx context.Context) ([]*models.ResourceRecord, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()
	return s.scanRecords(ctx)
}

func (s *Store) scanRecords(ctx context.Context) ([]*models.ResourceRecord, error) {
	var out []*models.ResourceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixResource)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec models.ResourceRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return fmt.Errorf("unmarshal record: %w", err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	return out, err
}

// PartialPath returns where a resumable download of key is kept.
func (s *Store) PartialPath(key models.ResourceKey) string {
	return filepath.Join(s.partialDir, key.ID()+".part")
}

// TotalSize returns the bytes held by committed blobs.
func (s *Store) TotalSize() int64 { return s.size.Load() }

// Budget returns the current storage budget (0 = unlimited).
func (s *Store) Budget() int64 { return s.budget.Load() }

// Stats returns the store's current counters.
func (s *Store) Stats() Stats {
	s.refMu.RLock()
	referenced := len(s.refCount)
	s.refMu.RUnlock()
	return Stats{
		SizeBytes:       s.size.Load(),
		Records:         s.records.Load(),
		ReferencedCount: referenced,
		BudgetBytes:     s.budget.Load(),
	}
}

// RunGC runs BadgerDB value log garbage collection until nothing is left
// to rewrite.
func (s *Store) RunGC() error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	for {
		err := s.db.RunValueLogGC(s.cfg.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

func (s *Store) getRecord(id string) (*models.ResourceRecord, error) {
	var rec models.ResourceRecord
	if err := s.getJSON(prefixResource+id, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) putRecord(rec *models.ResourceRecord) error {
	return s.setJSON(prefixResource+rec.Key.ID(), rec)
}

func (s *Store) getJSON(key string, v interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func (s *Store) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) publishGauges() {
	metrics.UpdateStoreGauges(s.size.Load(), s.records.Load(), s.budget.Load())
}
