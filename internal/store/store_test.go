// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/tilevault/internal/models"
)

// testClock hands out strictly increasing timestamps.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func openTestStore(t *testing.T, budget int64) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := OpenForTesting(dir, budget)
	if err != nil {
		t.Fatalf("OpenForTesting: %v", err)
	}
	clock := &testClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clock.Now
	t.Cleanup(func() { _ = s.Close() })
	return s, dir
}

func key(n int) models.ResourceKey {
	return models.ResourceKey{URL: fmt.Sprintf("https://tiles.example.com/pack/%d", n)}
}

func TestPutGet(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	rec, err := s.Put(ctx, key(1), []byte("hello"), PutOptions{Kind: models.ResourceKindTilePack, ETag: `"v1"`})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if rec.SizeBytes != 5 || rec.ETag != `"v1"` {
		t.Errorf("unexpected record %+v", rec)
	}
	data, err := os.ReadFile(rec.LocalPath)
	if err != nil || string(data) != "hello" {
		t.Fatalf("blob content = %q, %v", data, err)
	}

	got, err := s.Get(key(1))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LocalPath != rec.LocalPath || got.Kind != models.ResourceKindTilePack {
		t.Errorf("Get = %+v", got)
	}
	if _, err := s.Get(key(2)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}
	if s.TotalSize() != 5 {
		t.Errorf("TotalSize = %d, want 5", s.TotalSize())
	}
}

func TestPutReplacesSameKey(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	if _, err := s.Put(ctx, key(1), []byte("12345"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key(1), []byte("123"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if s.TotalSize() != 3 {
		t.Errorf("TotalSize = %d, want 3", s.TotalSize())
	}
	if st := s.Stats(); st.Records != 1 {
		t.Errorf("Records = %d, want 1", st.Records)
	}
}

func TestConcurrentPutsOfOneKey(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()
	payload := bytes.Repeat([]byte("x"), 1024)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Put(ctx, key(7), payload, PutOptions{}); err != nil {
				t.Errorf("Put: %v", err)
			}
		}()
	}
	wg.Wait()

	if s.TotalSize() != 1024 {
		t.Errorf("TotalSize = %d, want 1024", s.TotalSize())
	}
	if st := s.Stats(); st.Records != 1 {
		t.Errorf("Records = %d, want 1", st.Records)
	}
}

func TestQuotaEvictsExactlyEnoughLRU(t *testing.T) {
	s, _ := openTestStore(t, 100)
	ctx := context.Background()

	// Four 25-byte records fill the budget; key(0) is the least recently used.
	for i := 0; i < 4; i++ {
		if _, err := s.Put(ctx, key(i), bytes.Repeat([]byte{'a'}, 25), PutOptions{}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	// Touch key(0) so key(1) becomes the oldest.
	if err := s.Touch(key(0)); err != nil {
		t.Fatal(err)
	}

	// 40 more bytes require evicting two 25-byte records: key(1) and key(2).
	if _, err := s.Put(ctx, key(9), bytes.Repeat([]byte{'b'}, 40), PutOptions{}); err != nil {
		t.Fatalf("Put over budget: %v", err)
	}

	for _, tc := range []struct {
		n       int
		present bool
	}{{0, true}, {1, false}, {2, false}, {3, true}, {9, true}} {
		_, err := s.Get(key(tc.n))
		if present := err == nil; present != tc.present {
			t.Errorf("key %d present = %v, want %v", tc.n, present, tc.present)
		}
	}
	if s.TotalSize() != 90 {
		t.Errorf("TotalSize = %d, want 90", s.TotalSize())
	}
}

func TestQuotaNeverEvictsReferenced(t *testing.T) {
	s, _ := openTestStore(t, 50)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := s.Put(ctx, key(i), bytes.Repeat([]byte{'a'}, 25), PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetReferences(RegionOwner("paris"), []models.ResourceKey{key(0), key(1)}); err != nil {
		t.Fatal(err)
	}

	_, err := s.Put(ctx, key(5), []byte("x"), PutOptions{})
	var dfe *models.DiskFullError
	if !errors.As(err, &dfe) {
		t.Fatalf("Put = %v, want DiskFullError", err)
	}
	if !IsDiskFull(err) {
		t.Error("IsDiskFull should recognize DiskFullError")
	}
	if _, err := s.Get(key(0)); err != nil {
		t.Errorf("referenced record evicted: %v", err)
	}

	// Releasing the region makes its records evictable again.
	if err := s.ReleaseReferences(RegionOwner("paris")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key(5), []byte("x"), PutOptions{}); err != nil {
		t.Errorf("Put after release: %v", err)
	}
}

func TestReferencesSharedAcrossOwners(t *testing.T) {
	s, _ := openTestStore(t, 0)

	shared := key(1)
	if err := s.SetReferences(RegionOwner("a"), []models.ResourceKey{shared, key(2)}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReferences(RegionOwner("b"), []models.ResourceKey{shared}); err != nil {
		t.Fatal(err)
	}
	if err := s.ReleaseReferences(RegionOwner("a")); err != nil {
		t.Fatal(err)
	}

	if !s.IsReferenced(shared) {
		t.Error("shared key must stay referenced by region b")
	}
	if s.IsReferenced(key(2)) {
		t.Error("key(2) must be released")
	}
	refs := s.ListReferenced()
	if len(refs) != 1 || refs[shared.ID()] != shared {
		t.Errorf("ListReferenced = %v", refs)
	}
	keys, err := s.References(RegionOwner("b"))
	if err != nil || len(keys) != 1 || keys[0] != shared {
		t.Errorf("References(b) = %v, %v", keys, err)
	}
}

func TestReopenRecoversState(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenForTesting(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	kept, err := s.Put(ctx, key(1), []byte("keep"), PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	lost, err := s.Put(ctx, key(2), []byte("lost"), PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetReferences(StylePackOwner("mapbox://styles/x"), []models.ResourceKey{key(1)}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate a blob lost behind the catalog's back.
	if err := os.Remove(lost.LocalPath); err != nil {
		t.Fatal(err)
	}

	s, err = OpenForTesting(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Get(key(2)); !errors.Is(err, ErrNotFound) {
		t.Errorf("dangling record survived reopen: %v", err)
	}
	if got, err := s.Get(key(1)); err != nil || got.LocalPath != kept.LocalPath {
		t.Errorf("Get(kept) = %v, %v", got, err)
	}
	if s.TotalSize() != 4 {
		t.Errorf("TotalSize after reopen = %d, want 4", s.TotalSize())
	}
	if !s.IsReferenced(key(1)) {
		t.Error("references not recovered")
	}
}

func TestCommitMovesPartialFile(t *testing.T) {
	s, _ := openTestStore(t, 0)
	partial := s.PartialPath(key(3))
	if err := os.WriteFile(partial, []byte("tile-pack-bytes"), 0o600); err != nil {
		t.Fatal(err)
	}

	expires := time.Now().Add(time.Hour)
	rec, err := s.Commit(context.Background(), key(3), partial, PutOptions{ExpiresAt: &expires})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := os.Stat(partial); !os.IsNotExist(err) {
		t.Error("partial file should be moved")
	}
	data, _, err := s.ReadBlob(key(3))
	if err != nil || string(data) != "tile-pack-bytes" {
		t.Errorf("ReadBlob = %q, %v", data, err)
	}
	if rec.ExpiresAt == nil || rec.SizeBytes != int64(len("tile-pack-bytes")) {
		t.Errorf("record = %+v", rec)
	}
}

func TestRefreshAndDelete(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	if _, err := s.Put(ctx, key(1), []byte("abc"), PutOptions{ETag: `"1"`, LastModified: "Mon"}); err != nil {
		t.Fatal(err)
	}
	later := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	rec, err := s.Refresh(key(1), PutOptions{ExpiresAt: &later, ETag: `"2"`})
	if err != nil {
		t.Fatal(err)
	}
	if rec.ETag != `"2"` || rec.LastModified != "Mon" || !rec.ExpiresAt.Equal(later) {
		t.Errorf("Refresh = %+v", rec)
	}

	if err := s.Delete(key(1)); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(key(1)); err != nil {
		t.Errorf("second Delete = %v, want nil", err)
	}
	if _, err := os.Stat(rec.LocalPath); !os.IsNotExist(err) {
		t.Error("blob should be removed")
	}
	if s.TotalSize() != 0 {
		t.Errorf("TotalSize = %d", s.TotalSize())
	}
}

func TestReduceMemoryUse(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()

	past := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := s.Put(ctx, key(1), []byte("expired"), PutOptions{ExpiresAt: &past}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key(2), []byte("expired-but-pinned"), PutOptions{ExpiresAt: &past}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(ctx, key(3), []byte("fresh"), PutOptions{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetReferences(RegionOwner("r"), []models.ResourceKey{key(2)}); err != nil {
		t.Fatal(err)
	}

	res, err := s.ReduceMemoryUse(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Evicted != 1 || res.FreedBytes != int64(len("expired")) {
		t.Errorf("ReduceMemoryUse = %+v", res)
	}
	if _, err := s.Get(key(2)); err != nil {
		t.Error("pinned record must survive")
	}
	if _, err := s.Get(key(3)); err != nil {
		t.Error("fresh record must survive")
	}
}

func TestEvictOneSkipsPinnedAndLocked(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		if _, err := s.Put(ctx, key(i), []byte("data"), PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.SetReferences(RegionOwner("r"), []models.ResourceKey{key(1)}); err != nil {
		t.Fatal(err)
	}
	unlock := s.locks.lock(key(2).ID())

	if _, ok := s.evictOne(key(1).ID()); ok {
		t.Error("pinned record evicted")
	}
	if _, ok := s.evictOne(key(2).ID()); ok {
		t.Error("locked record evicted")
	}
	unlock()
	rec, ok := s.evictOne(key(3).ID())
	if !ok || rec.Key != key(3) {
		t.Fatalf("evictOne(3) = %+v, %v", rec, ok)
	}
	if _, err := s.Get(key(3)); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after evict = %v, want ErrNotFound", err)
	}
}

func TestPinnedRecordSurvivesConcurrentEviction(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()
	owner := RegionOwner("r")

	for i := 0; i < 200; i++ {
		k := key(i)
		if _, err := s.Put(ctx, k, []byte("data"), PutOptions{}); err != nil {
			t.Fatal(err)
		}

		var wg sync.WaitGroup
		var seen bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := s.SetReferences(owner, []models.ResourceKey{k}); err != nil {
				t.Error(err)
				return
			}
			_, err := s.Get(k)
			seen = err == nil
		}()
		go func() {
			defer wg.Done()
			s.evictOne(k.ID())
		}()
		wg.Wait()

		// Once pinned and seen, the record stays.
		if _, err := s.Get(k); seen && err != nil {
			t.Fatalf("iteration %d: pinned record evicted: %v", i, err)
		}
	}
}

func TestSetBudgetEvicts(t *testing.T) {
	s, _ := openTestStore(t, 0)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		if _, err := s.Put(ctx, key(i), bytes.Repeat([]byte{'z'}, 10), PutOptions{}); err != nil {
			t.Fatal(err)
		}
	}
	res := s.SetBudget(25)
	if res.Evicted != 2 || s.TotalSize() != 20 {
		t.Errorf("SetBudget = %+v, size %d", res, s.TotalSize())
	}
	if _, err := s.Get(key(0)); !errors.Is(err, ErrNotFound) {
		t.Error("oldest record should be evicted first")
	}
}

func TestRegionCatalog(t *testing.T) {
	s, _ := openTestStore(t, 0)

	meta := models.MapValue(map[string]models.Value{"name": models.StringValue("Paris")})
	region := &models.TileRegion{ID: "paris", RequiredResourceCount: 3, CompletedResourceCount: 3, Metadata: meta}
	if err := s.PutRegion(region); err != nil {
		t.Fatal(err)
	}
	if err := s.PutRegion(&models.TileRegion{ID: "berlin"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetRegion("paris")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Metadata.Equal(meta) || !got.IsComplete() {
		t.Errorf("GetRegion = %+v", got)
	}

	all, err := s.ListRegions()
	if err != nil || len(all) != 2 || all[0].ID != "berlin" {
		t.Errorf("ListRegions = %v, %v", all, err)
	}

	if err := s.DeleteRegion("paris"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetRegion("paris"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRegion after delete = %v", err)
	}

	pack := &models.StylePack{StyleURI: "mapbox://styles/mapbox/streets-v12", RequiredResourceCount: 5}
	if err := s.PutStylePack(pack); err != nil {
		t.Fatal(err)
	}
	packs, err := s.ListStylePacks()
	if err != nil || len(packs) != 1 || packs[0].StyleURI != pack.StyleURI {
		t.Errorf("ListStylePacks = %v, %v", packs, err)
	}
}

func TestSweepOrphans(t *testing.T) {
	s, dir := openTestStore(t, 0)

	orphanID := key(99).ID()
	orphan := filepath.Join(dir, "blobs", orphanID[:2], orphanID)
	if err := os.MkdirAll(filepath.Dir(orphan), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphan, []byte("orphan"), 0o600); err != nil {
		t.Fatal(err)
	}
	rec, err := s.Put(context.Background(), key(1), []byte("live"), PutOptions{})
	if err != nil {
		t.Fatal(err)
	}
	stale := s.PartialPath(key(5))
	if err := os.WriteFile(stale, []byte("part"), 0o600); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-100 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatal(err)
	}
	s.now = time.Now

	removed, err := s.SweepOrphans(context.Background(), 72*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if removed != 2 {
		t.Errorf("removed = %d, want 2", removed)
	}
	if _, err := os.Stat(rec.LocalPath); err != nil {
		t.Error("live blob removed")
	}
}

func TestClosedStore(t *testing.T) {
	s, _ := openTestStore(t, 0)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(key(1)); !errors.Is(err, ErrClosed) {
		t.Errorf("Get after Close = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"empty path", func(c *Config) { c.Path = "" }, true},
		{"negative budget", func(c *Config) { c.BudgetBytes = -1 }, true},
		{"one compactor", func(c *Config) { c.NumCompactors = 1 }, true},
		{"gc ratio", func(c *Config) { c.GCRatio = 1 }, true},
		{"janitor interval", func(c *Config) { c.JanitorInterval = time.Millisecond }, true},
	}
	for _, tt := range tests {
		cfg := DefaultConfig()
		tt.mutate(&cfg)
		if err := cfg.Validate(); (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
	}
}
