// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"bytes"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/models"
)

// RegionOwner and StylePackOwner name the owners of reference sets.
func RegionOwner(id string) string { return "region:" + id }
func StylePackOwner(styleURI string) string { return "stylepack:" + styleURI }

func refKey(owner, id string) []byte {
	return []byte(prefixRef + owner + "\x00" + id)
}

func refPrefix(owner string) []byte {
	return []byte(prefixRef + owner + "\x00")
}

func splitRefKey(k []byte) (owner, id string, ok bool) {
	rest := bytes.TrimPrefix(k, []byte(prefixRef))
	i := bytes.LastIndexByte(rest, 0)
	if i < 0 {
		return "", "", false
	}
	return string(rest[:i]), string(rest[i+1:]), true
}

// SetReferences replaces the set of keys pinned by owner. Pinned records are
// never evicted. Pinning a key that has no record yet is allowed; it
// protects the record once the download commits.
func (s *Store) SetReferences(owner string, keys []models.ResourceKey) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	next := make(map[string]models.ResourceKey, len(keys))
	for _, k := range keys {
		next[k.ID()] = k
	}

	// Holding refMu across the write keeps memory and catalog in step for
	// concurrent updates of one owner.
	s.refMu.Lock()
	defer s.refMu.Unlock()

	prev := s.owners[owner]
	prevSet := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		prevSet[id] = struct{}{}
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, id := range prev {
		if _, keep := next[id]; !keep {
			if err := wb.Delete(refKey(owner, id)); err != nil {
				return fmt.Errorf("delete reference: %w", err)
			}
		}
	}
	for id, k := range next {
		if _, had := prevSet[id]; had {
			continue
		}
		data, err := json.Marshal(k)
		if err != nil {
			return fmt.Errorf("marshal reference: %w", err)
		}
		if err := wb.Set(refKey(owner, id), data); err != nil {
			return fmt.Errorf("set reference: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write references for %s: %w", owner, err)
	}

	for _, id := range prev {
		if _, keep := next[id]; keep {
			continue
		}
		s.refCount[id]--
		if s.refCount[id] <= 0 {
			delete(s.refCount, id)
			delete(s.refKeys, id)
		}
	}
	ids := make([]string, 0, len(next))
	for id, k := range next {
		ids = append(ids, id)
		if _, had := prevSet[id]; had {
			continue
		}
		s.refCount[id]++
		s.refKeys[id] = k
	}
	if len(ids) == 0 {
		delete(s.owners, owner)
	} else {
		s.owners[owner] = ids
	}
	return nil
}

// ReleaseReferences drops every key pinned by owner.
func (s *Store) ReleaseReferences(owner string) error {
	return s.SetReferences(owner, nil)
}

// References returns the keys pinned by owner, read from the catalog.
func (s *Store) References(owner string) ([]models.ResourceKey, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var keys []models.ResourceKey
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := refPrefix(owner)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var k models.ResourceKey
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &k)
			}); err != nil {
				return err
			}
			keys = append(keys, k)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list references of %s: %w", owner, err)
	}
	return keys, nil
}

// ListReferenced returns every key pinned by at least one owner, by id.
func (s *Store) ListReferenced() map[string]models.ResourceKey {
	s.refMu.RLock()
	defer s.refMu.RUnlock()

	out := make(map[string]models.ResourceKey, len(s.refKeys))
	for id, k := range s.refKeys {
		out[id] = k
	}
	return out
}

// IsReferenced reports whether any owner pins key.
func (s *Store) IsReferenced(key models.ResourceKey) bool {
	return s.isReferencedID(key.ID())
}

func (s *Store) isReferencedID(id string) bool {
	s.refMu.RLock()
	defer s.refMu.RUnlock()
	return s.refCount[id] > 0
}
