// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/settings"
)

type fakeFetcher struct {
	mu    sync.Mutex
	docs  map[string]string
	calls map[string]int
}

func newFakeFetcher(docs map[string]string) *fakeFetcher {
	return &fakeFetcher{docs: docs, calls: make(map[string]int)}
}

func (f *fakeFetcher) Get(_ context.Context, req models.HTTPRequest) (*download.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	body, ok := f.docs[req.URL]
	if !ok {
		return nil, &models.DownloadError{
			Code:       models.DownloadErrorCodeNetwork,
			Type:       models.DownloadErrorOther,
			Message:    "not found",
			StatusCode: http.StatusNotFound,
		}
	}
	return &download.Response{StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *fakeFetcher) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

const (
	styleURL    = "https://maps.example.com/styles/streets.json"
	tileJSONURL = "https://maps.example.com/tilesets/terrain.json"
)

const streetsStyle = `{
  "version": 8,
  "sprite": "https://maps.example.com/sprites/streets",
  "glyphs": "https://maps.example.com/fonts/{fontstack}/{range}.pbf",
  "sources": {
    "streets": {"type": "vector", "tiles": ["https://tiles.example.com/streets/{z}/{x}/{y}.mvt"], "minzoom": 0, "maxzoom": 16},
    "labels": {"type": "geojson", "data": {}}
  },
  "layers": [
    {"id": "roads", "type": "line", "source": "streets"},
    {"id": "names", "type": "symbol", "source": "streets", "layout": {"text-font": ["Noto Sans Regular"]}},
    {"id": "pois", "type": "symbol", "source": "streets", "layout": {"text-font": ["step", ["zoom"], ["literal", ["A"]], 10, ["literal", ["B"]]]}}
  ]
}`

var paris = models.Bounds{West: 2.3522, South: 48.8566, East: 2.3522, North: 48.8566}

func newTestResolver(t *testing.T, docs map[string]string) (*Resolver, *fakeFetcher) {
	t.Helper()
	settings.Reset()
	t.Cleanup(settings.Reset)
	if docs == nil {
		docs = map[string]string{styleURL: streetsStyle}
	}
	f := newFakeFetcher(docs)
	return New(NewGLStyleSource(f, 0), DefaultConfig()), f
}

func keyURLs(res []Resource) []string {
	out := make([]string, len(res))
	for i, r := range res {
		out[i] = r.Key.URL
	}
	return out
}

func TestCoveringBands(t *testing.T) {
	tests := []struct {
		min, max int
		want     []Band
	}{
		{0, 0, []Band{{0, 5}}},
		{3, 5, []Band{{0, 5}}},
		{5, 6, []Band{{0, 5}, {6, 10}}},
		{0, 14, []Band{{0, 5}, {6, 10}, {11, 14}}},
		{12, 22, []Band{{11, 14}, {15, 16}}},
		{18, 20, []Band{{15, 16}}},
	}
	for _, tt := range tests {
		got := CoveringBands(tt.min, tt.max)
		if len(got) != len(tt.want) {
			t.Errorf("CoveringBands(%d, %d) = %v, want %v", tt.min, tt.max, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("CoveringBands(%d, %d) = %v, want %v", tt.min, tt.max, got, tt.want)
				break
			}
		}
	}

	if lo, hi := ExpandZoomRange(7, 12); lo != 6 || hi != 14 {
		t.Errorf("ExpandZoomRange(7, 12) = %d-%d, want 6-14", lo, hi)
	}
	if b := BandFor(20); b != (Band{15, 16}) {
		t.Errorf("BandFor(20) = %v", b)
	}
}

func TestDescriptorValidation(t *testing.T) {
	tests := []struct {
		name string
		opts models.TilesetDescriptorOptions
	}{
		{"min above max", models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: 10, MaxZoom: 4}},
		{"negative pixel ratio", models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 4, PixelRatio: -1}},
		{"negative zoom", models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: -1, MaxZoom: 4}},
		{"nothing to resolve", models.TilesetDescriptorOptions{MaxZoom: 4}},
	}
	r, f := newTestResolver(t, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(context.Background(), tt.opts, &paris)
			var de *DescriptorError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want DescriptorError", err)
			}
		})
	}
	if f.count(styleURL) != 0 {
		t.Error("invalid descriptors must not fetch the style")
	}
	if r.Registry().Len() != 0 {
		t.Errorf("registry holds %d descriptors after failed resolutions", r.Registry().Len())
	}
}

func TestResolveParisScenario(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	res, err := r.Resolve(context.Background(), models.TilesetDescriptorOptions{
		StyleURI: styleURL, MinZoom: 0, MaxZoom: 14, PixelRatio: 1,
	}, &paris)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	urls := keyURLs(res.Resources)
	want := []string{
		"https://tiles.example.com/streets/0/0/0.mvt?batch=0-5",
		"https://tiles.example.com/streets/6/32/22.mvt?batch=6-10",
		"https://tiles.example.com/streets/11/1037/704.mvt?batch=11-14",
	}
	if len(urls) != len(want) {
		t.Fatalf("resolved %d packs %v, want 3", len(urls), urls)
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Errorf("pack %d = %s, want %s", i, urls[i], want[i])
		}
		if res.Resources[i].Kind != models.ResourceKindTilePack {
			t.Errorf("pack %d kind = %s", i, res.Resources[i].Kind)
		}
	}
	if res.Descriptor.MinZoom != 0 || res.Descriptor.MaxZoom != 14 {
		t.Errorf("descriptor zooms = %d-%d", res.Descriptor.MinZoom, res.Descriptor.MaxZoom)
	}
	if res.TileCount != 15 {
		t.Errorf("tile count = %d, want 15 (one tile per zoom)", res.TileCount)
	}
}

func TestResolveDedupWithinBand(t *testing.T) {
	r, f := newTestResolver(t, nil)
	ctx := context.Background()

	a, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: 1, MaxZoom: 3}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: 2, MaxZoom: 5}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	if a.Descriptor.ID != b.Descriptor.ID {
		t.Errorf("descriptor ids differ: %s vs %s", a.Descriptor.ID, b.Descriptor.ID)
	}
	if strings.Join(keyURLs(a.Resources), "|") != strings.Join(keyURLs(b.Resources), "|") {
		t.Errorf("resource sets differ:\n%v\n%v", keyURLs(a.Resources), keyURLs(b.Resources))
	}
	if f.count(styleURL) != 1 {
		t.Errorf("style fetched %d times, want 1", f.count(styleURL))
	}
}

func TestResolveDisjointBands(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx := context.Background()

	low, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: 0, MaxZoom: 5}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	high, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MinZoom: 6, MaxZoom: 10}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]bool)
	for _, rsc := range low.Resources {
		seen[rsc.Key.ID()] = true
	}
	for _, rsc := range high.Resources {
		if seen[rsc.Key.ID()] {
			t.Errorf("resource %s resolved for both bands", rsc.Key.URL)
		}
	}
}

func TestResolveWorldAtLowZoom(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	res, err := r.Resolve(context.Background(), models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Resources) != 1 {
		t.Errorf("world 0-5 resolved %d packs, want 1", len(res.Resources))
	}
	// 1 + 4 + 16 + 64 + 256 + 1024
	if res.TileCount != 1365 {
		t.Errorf("tile count = %d, want 1365", res.TileCount)
	}
}

func TestResolveTileCountLimit(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 16}, nil)
	if !errors.Is(err, ErrTileCountExceeded) {
		t.Fatalf("world 0-16 err = %v, want ErrTileCountExceeded", err)
	}

	settings.SetOfflineMapboxTileCountLimit(10)
	_, err = r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 14}, &paris)
	var tce *TileCountError
	if !errors.As(err, &tce) || tce.Count != 15 || tce.Limit != 10 {
		t.Fatalf("err = %v, want TileCountError 15/10", err)
	}

	settings.SetOfflineMapboxTileCountLimit(0)
	if _, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 14}, &paris); err != nil {
		t.Errorf("limit 0 should disable the check: %v", err)
	}
}

func TestResolvePackCap(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx := context.Background()

	// No tile count limit: the world at zoom 16 is still refused before
	// its packs are enumerated.
	settings.SetOfflineMapboxTileCountLimit(0)
	_, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 16}, nil)
	var tce *TileCountError
	if !errors.As(err, &tce) || !tce.Packs || tce.Limit != DefaultConfig().MaxPacks {
		t.Fatalf("world 0-16 err = %v, want a pack count error", err)
	}
	if !errors.Is(err, ErrTileCountExceeded) {
		t.Errorf("pack cap error should wrap ErrTileCountExceeded")
	}

	cfg := DefaultConfig()
	cfg.MaxPacks = 2
	small := New(NewGLStyleSource(newFakeFetcher(map[string]string{styleURL: streetsStyle}), 0), cfg)
	_, err = small.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 14}, &paris)
	if !errors.As(err, &tce) || tce.Count != 3 || tce.Limit != 2 {
		t.Fatalf("paris 0-14 err = %v, want 3 packs over 2", err)
	}
	if _, err := small.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 5}, &paris); err != nil {
		t.Errorf("one pack under the cap: %v", err)
	}
}

func TestResolveRegionAppliesLimitToTotal(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	settings.SetOfflineMapboxTileCountLimit(20)

	descs := []models.TilesetDescriptorOptions{
		{StyleURI: styleURL, MaxZoom: 14},
		{StyleURI: styleURL, MaxZoom: 14, PixelRatio: 2},
	}
	_, err := r.ResolveRegion(context.Background(), &paris, descs)
	if !errors.Is(err, ErrTileCountExceeded) {
		t.Fatalf("err = %v, want ErrTileCountExceeded for 30 tiles", err)
	}

	settings.SetOfflineMapboxTileCountLimit(100)
	res, err := r.ResolveRegion(context.Background(), &paris, descs)
	if err != nil {
		t.Fatal(err)
	}
	// The vector template has no {ratio}, so both descriptors share packs.
	if len(res.Resources) != 3 || len(res.Descriptors) != 2 {
		t.Errorf("resources=%d descriptors=%d, want 3/2", len(res.Resources), len(res.Descriptors))
	}

	if _, err := r.ResolveRegion(context.Background(), &paris, nil); err == nil {
		t.Error("region without descriptors should fail")
	}
}

func TestResolveTileJSONSourceAndTMS(t *testing.T) {
	style := `{"version":8,"sources":{"terrain":{"type":"raster","url":"` + tileJSONURL + `","scheme":"tms"}}}`
	tilejson := `{"tilejson":"2.2.0","version":"3","tiles":["https://tiles.example.com/terrain/{z}/{x}/{y}{ratio}.png?key=k"],"minzoom":0,"maxzoom":12}`
	r, _ := newTestResolver(t, map[string]string{styleURL: style, tileJSONURL: tilejson})

	res, err := r.Resolve(context.Background(), models.TilesetDescriptorOptions{
		StyleURI: styleURL, MinZoom: 6, MaxZoom: 16, PixelRatio: 2,
	}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	// maxzoom 12 excludes the 15-16 band. y at z6 is 22, flipped to 63-22.
	urls := keyURLs(res.Resources)
	if len(urls) != 2 {
		t.Fatalf("packs = %v, want bands 6-10 and 11-14", urls)
	}
	if want := "https://tiles.example.com/terrain/6/32/41@2x.png?key=k&batch=6-10"; urls[0] != want {
		t.Errorf("pack = %s, want %s", urls[0], want)
	}
	if res.Resources[0].Key.Revision != "3" {
		t.Errorf("revision = %q, want TileJSON version", res.Resources[0].Key.Revision)
	}
}

func TestResolveExplicitTilesets(t *testing.T) {
	tilejson := `{"tiles":["https://tiles.example.com/extra/{z}/{x}/{y}.mvt"],"minzoom":0,"maxzoom":5}`
	r, _ := newTestResolver(t, map[string]string{styleURL: streetsStyle, tileJSONURL: tilejson})

	res, err := r.Resolve(context.Background(), models.TilesetDescriptorOptions{
		StyleURI: styleURL, MaxZoom: 5, Tilesets: []string{tileJSONURL},
	}, &paris)
	if err != nil {
		t.Fatal(err)
	}
	urls := keyURLs(res.Resources)
	if len(urls) != 2 || !strings.Contains(urls[1], "/extra/0/0/0.mvt") {
		t.Errorf("packs = %v, want style pack plus tileset pack", urls)
	}
}

func TestStyleUnavailable(t *testing.T) {
	r, _ := newTestResolver(t, map[string]string{styleURL: "{not json"})
	ctx := context.Background()

	_, err := r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 5}, &paris)
	if !errors.Is(err, ErrStyleUnavailable) {
		t.Errorf("malformed style err = %v", err)
	}
	_, err = r.Resolve(ctx, models.TilesetDescriptorOptions{StyleURI: "https://missing.example.com/s.json", MaxZoom: 5}, &paris)
	if !errors.Is(err, ErrStyleUnavailable) {
		t.Errorf("missing style err = %v", err)
	}
}

func TestStyleCacheAndInvalidate(t *testing.T) {
	r, f := newTestResolver(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := r.Style(ctx, styleURL); err != nil {
			t.Fatal(err)
		}
	}
	if f.count(styleURL) != 1 {
		t.Errorf("fetches = %d, want 1", f.count(styleURL))
	}
	r.InvalidateStyle(styleURL)
	if _, err := r.Style(ctx, styleURL); err != nil {
		t.Fatal(err)
	}
	if f.count(styleURL) != 2 {
		t.Errorf("fetches after invalidate = %d, want 2", f.count(styleURL))
	}
}

func TestStyleCancelledWait(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Style(ctx, styleURL); !errors.Is(err, context.Canceled) {
		// The fetch may win the race against the cancelled wait.
		if err != nil {
			t.Errorf("err = %v", err)
		}
	}
}

func TestGlyphRanges(t *testing.T) {
	tests := []struct {
		mode models.GlyphsRasterizationMode
		want int
	}{
		{models.NoGlyphsRasterizedLocally, 256},
		{models.IdeographsRasterizedLocally, 104},
		{"", 104},
		{models.AllGlyphsRasterizedLocally, 0},
	}
	for _, tt := range tests {
		if got := len(GlyphRanges(tt.mode)); got != tt.want {
			t.Errorf("GlyphRanges(%q) = %d ranges, want %d", tt.mode, got, tt.want)
		}
	}
	ranges := GlyphRanges(models.NoGlyphsRasterizedLocally)
	if ranges[0] != "0-255" || ranges[255] != "65280-65535" {
		t.Errorf("range bounds = %s .. %s", ranges[0], ranges[255])
	}
}

func TestResolveStylePack(t *testing.T) {
	r, _ := newTestResolver(t, nil)
	res, err := r.ResolveStylePack(context.Background(), styleURL, models.StylePackLoadOptions{
		GlyphsRasterizationMode: models.IdeographsRasterizedLocally,
	})
	if err != nil {
		t.Fatal(err)
	}

	counts := make(map[models.ResourceKind]int)
	for _, rsc := range res.Resources {
		counts[rsc.Kind]++
	}
	// One literal font stack; the expression-valued text-font is skipped.
	if counts[models.ResourceKindStyle] != 1 || counts[models.ResourceKindSprite] != 4 || counts[models.ResourceKindGlyphs] != 104 {
		t.Errorf("kinds = %v", counts)
	}
	urls := keyURLs(res.Resources)
	if urls[0] != styleURL {
		t.Errorf("first resource = %s, want the style", urls[0])
	}
	if urls[4] != "https://maps.example.com/sprites/streets@2x.png" {
		t.Errorf("sprite = %s", urls[4])
	}
	if urls[5] != "https://maps.example.com/fonts/Noto%20Sans%20Regular/0-255.pbf" {
		t.Errorf("glyph = %s", urls[5])
	}
}

func TestParseStyleResourcesRelativeAndMultiSprite(t *testing.T) {
	doc := `{"version":8,"sprite":[{"id":"default","url":"sprites/base"},{"id":"extra","url":"https://cdn.example.com/x?token=1"}],
	  "sources":{"s":{"type":"vector","url":"tiles.json"}},"layers":[]}`
	sr, err := ParseStyleResources("https://maps.example.com/styles/a.json", []byte(doc))
	if err != nil {
		t.Fatal(err)
	}
	if len(sr.SpriteURLs) != 2 || sr.SpriteURLs[0] != "https://maps.example.com/styles/sprites/base" {
		t.Errorf("sprites = %v", sr.SpriteURLs)
	}
	if got := withPathSuffix(sr.SpriteURLs[1], "@2x.png"); got != "https://cdn.example.com/x@2x.png?token=1" {
		t.Errorf("suffixed sprite = %s", got)
	}
	if len(sr.TileJSONURLs) != 1 || sr.TileJSONURLs[0] != "https://maps.example.com/styles/tiles.json" {
		t.Errorf("tilejson = %v", sr.TileJSONURLs)
	}
}

func TestTileRangesAntimeridian(t *testing.T) {
	ranges := tileRanges(models.Bounds{West: 170, South: -10, East: -170, North: 10}, 2)
	if len(ranges) != 2 {
		t.Fatalf("ranges = %+v, want 2", ranges)
	}
	if ranges[0].MinX != 3 || ranges[0].MaxX != 3 || ranges[1].MinX != 0 || ranges[1].MaxX != 0 {
		t.Errorf("ranges = %+v", ranges)
	}
	if n := countTiles(models.World, 2, 2); n != 16 {
		t.Errorf("world tiles at z2 = %d, want 16", n)
	}
}

func TestDescriptorRegistry(t *testing.T) {
	reg := NewDescriptorRegistry()
	d, err := Descriptor(models.TilesetDescriptorOptions{StyleURI: styleURL, MaxZoom: 8})
	if err != nil {
		t.Fatal(err)
	}
	reg.Acquire(d)
	reg.Acquire(d)
	if reg.Refs(d.ID) != 2 || reg.Len() != 1 {
		t.Fatalf("refs=%d len=%d", reg.Refs(d.ID), reg.Len())
	}
	if reg.Release(d.ID) {
		t.Error("first release should keep the descriptor")
	}
	if !reg.Release(d.ID) {
		t.Error("last release should drop the descriptor")
	}
	if _, ok := reg.Get(d.ID); ok || reg.Release(d.ID) {
		t.Error("released descriptor still present")
	}
}
