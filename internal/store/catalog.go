// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/models"
)

// PutRegion writes the catalog entry of a tile region.
func (s *Store) PutRegion(region *models.TileRegion) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()
	return s.setJSON(prefixRegion+region.ID, region)
}

// GetRegion returns the tile region with id, or ErrNotFound.
func (s *Store) GetRegion(id string) (*models.TileRegion, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var region models.TileRegion
	if err := s.getJSON(prefixRegion+id, &region); err != nil {
		return nil, err
	}
	return &region, nil
}

// DeleteRegion removes the catalog entry. Missing regions are ignored.
func (s *Store) DeleteRegion(id string) error {
	return s.deleteKey(prefixRegion + id)
}

// ListRegions returns all tile regions sorted by id.
func (s *Store) ListRegions() ([]*models.TileRegion, error) {
	var regions []*models.TileRegion
	err := s.scanPrefix(prefixRegion, func(val []byte) error {
		var r models.TileRegion
		if err := json.Unmarshal(val, &r); err != nil {
			return err
		}
		regions = append(regions, &r)
		return nil
	})
	sort.Slice(regions, func(i, j int) bool { return regions[i].ID < regions[j].ID })
	return regions, err
}

// PutStylePack writes the catalog entry of a style pack.
func (s *Store) PutStylePack(pack *models.StylePack) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()
	return s.setJSON(prefixStylePack+pack.StyleURI, pack)
}

// GetStylePack returns the style pack for styleURI, or ErrNotFound.
func (s *Store) GetStylePack(styleURI string) (*models.StylePack, error) {
	release, err := s.enter()
	if err != nil {
		return nil, err
	}
	defer release()

	var pack models.StylePack
	if err := s.getJSON(prefixStylePack+styleURI, &pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

// DeleteStylePack removes the catalog entry. Missing packs are ignored.
func (s *Store) DeleteStylePack(styleURI string) error {
	return s.deleteKey(prefixStylePack + styleURI)
}

// ListStylePacks returns all style packs sorted by style URI.
func (s *Store) ListStylePacks() ([]*models.StylePack, error) {
	var packs []*models.StylePack
	err := s.scanPrefix(prefixStylePack, func(val []byte) error {
		var p models.StylePack
		if err := json.Unmarshal(val, &p); err != nil {
			return err
		}
		packs = append(packs, &p)
		return nil
	})
	sort.Slice(packs, func(i, j int) bool { return packs[i].StyleURI < packs[j].StyleURI })
	return packs, err
}

func (s *Store) deleteKey(key string) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	}); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) scanPrefix(prefix string, fn func(val []byte) error) error {
	release, err := s.enter()
	if err != nil {
		return err
	}
	defer release()

	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := it.Item().Value(fn); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
		}
		return nil
	})
}
