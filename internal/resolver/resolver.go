// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/singleflight"

	"github.com/tomtom215/tilevault/internal/cache"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/settings"
)

// Config holds resolver settings.
type Config struct {
	StyleCacheSize int           `koanf:"style_cache_size" validate:"min=1"`
	StyleCacheTTL  time.Duration `koanf:"style_cache_ttl"`

	// MaxPacks bounds the tile packs one descriptor may expand to, whatever
	// the tile count limit says. Zero takes the default.
	MaxPacks int64 `koanf:"max_packs" validate:"gte=0"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		StyleCacheSize: 128,
		StyleCacheTTL:  5 * time.Minute,
		MaxPacks:       1 << 20,
	}
}

// StyleDocument is a fetched style and its tiled sources.
type StyleDocument struct {
	URI     string
	Body    []byte
	Sources []TileSource
}

// Resource is one resource to download.
type Resource struct {
	Key  models.ResourceKey  `json:"key"`
	Kind models.ResourceKind `json:"kind"`
}

// Resolution is the outcome of resolving one descriptor.
type Resolution struct {
	Descriptor models.TilesetDescriptor
	Resources  []Resource
	TileCount  int64
}

// RegionResolution is the union of the resolutions of a region's
// descriptors, with duplicate resources removed.
type RegionResolution struct {
	Descriptors []models.TilesetDescriptor
	Resources   []Resource
	TileCount   int64
}

// StylePackResolution lists the resources of a style pack.
type StylePackResolution struct {
	StyleURI  string
	Resources []Resource
}

// Resolver expands descriptors and style packs into resources.
type Resolver struct {
	src      StyleSource
	styles   *cache.LRU[*StyleDocument]
	group    singleflight.Group
	registry *DescriptorRegistry
	maxPacks int64
}

// New creates a resolver reading styles from src.
func New(src StyleSource, cfg Config) *Resolver {
	if cfg.StyleCacheSize < 1 {
		cfg.StyleCacheSize = DefaultConfig().StyleCacheSize
	}
	if cfg.MaxPacks < 1 {
		cfg.MaxPacks = DefaultConfig().MaxPacks
	}
	return &Resolver{
		src:      src,
		styles:   cache.NewLRU[*StyleDocument](cfg.StyleCacheSize, cfg.StyleCacheTTL),
		registry: NewDescriptorRegistry(),
		maxPacks: cfg.MaxPacks,
	}
}

// Registry returns the descriptor registry.
func (r *Resolver) Registry() *DescriptorRegistry { return r.registry }

// InvalidateStyle drops the cached document of uri.
func (r *Resolver) InvalidateStyle(uri string) {
	r.styles.Remove(uri)
}

// Style returns the parsed style document at uri. Concurrent calls for one
// uri share a fetch; cancelling ctx abandons the wait, not the fetch.
func (r *Resolver) Style(ctx context.Context, uri string) (*StyleDocument, error) {
	if doc, ok := r.styles.Get(uri); ok {
		metrics.RecordStyleCache(true)
		return doc, nil
	}
	metrics.RecordStyleCache(false)

	ch := r.group.DoChan(uri, func() (any, error) {
		fctx := context.WithoutCancel(ctx)
		body, err := r.src.FetchStyleDocument(fctx, uri)
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrStyleUnavailable, uri, err)
		}
		sources, err := r.src.ParseSourcesAndZoomRanges(fctx, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrStyleUnavailable, uri, err)
		}
		doc := &StyleDocument{URI: uri, Body: body, Sources: sources}
		r.styles.Add(uri, doc)
		logging.Debug().Str("style", uri).Int("sources", len(sources)).Msg("Style document loaded")
		return doc, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*StyleDocument), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Descriptor validates opts and returns the descriptor they produce
// without fetching anything.
func Descriptor(opts models.TilesetDescriptorOptions) (models.TilesetDescriptor, error) {
	switch {
	case opts.StyleURI == "" && len(opts.Tilesets) == 0:
		return models.TilesetDescriptor{}, descriptorErrorf("style URI or tilesets required")
	case opts.MinZoom < 0 || opts.MaxZoom < 0:
		return models.TilesetDescriptor{}, descriptorErrorf("negative zoom %d-%d", opts.MinZoom, opts.MaxZoom)
	case opts.MinZoom > opts.MaxZoom:
		return models.TilesetDescriptor{}, descriptorErrorf("min zoom %d greater than max zoom %d", opts.MinZoom, opts.MaxZoom)
	case opts.PixelRatio < 0 || math.IsNaN(opts.PixelRatio):
		return models.TilesetDescriptor{}, descriptorErrorf("pixel ratio %v is negative", opts.PixelRatio)
	}

	minZoom, maxZoom := ExpandZoomRange(opts.MinZoom, opts.MaxZoom)
	tilesets := append([]string(nil), opts.Tilesets...)
	sort.Strings(tilesets)

	desc := models.TilesetDescriptor{
		StyleURI:   opts.StyleURI,
		MinZoom:    minZoom,
		MaxZoom:    maxZoom,
		PixelRatio: opts.PixelRatio,
		Tilesets:   tilesets,
	}
	desc.ID = descriptorID(desc)
	return desc, nil
}

func descriptorID(d models.TilesetDescriptor) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%g", d.StyleURI, d.MinZoom, d.MaxZoom, d.PixelRatio)
	for _, ts := range d.Tilesets {
		fmt.Fprintf(h, "\x00%s", ts)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Resolve expands one descriptor over geometry; nil geometry covers the
// world.
func (r *Resolver) Resolve(ctx context.Context, opts models.TilesetDescriptorOptions, geometry *models.Bounds) (*Resolution, error) {
	desc, err := Descriptor(opts)
	if err != nil {
		return nil, err
	}
	desc = r.registry.Acquire(desc)
	defer r.registry.Release(desc.ID)

	sources, err := r.sources(ctx, desc)
	if err != nil {
		return nil, err
	}

	bounds := models.World
	if geometry != nil {
		bounds = *geometry
	}
	bands := CoveringBands(desc.MinZoom, desc.MaxZoom)

	var count, packs int64
	for _, band := range bands {
		for _, src := range sources {
			if !overlaps(src, band) {
				continue
			}
			count += countTiles(bounds, band.Min, band.Max)
			for _, tr := range tileRanges(bounds, band.Min) {
				packs += tr.count()
			}
		}
	}
	if err := checkTileCount(count); err != nil {
		return nil, err
	}
	if packs > r.maxPacks {
		return nil, &TileCountError{Count: packs, Limit: r.maxPacks, Packs: true}
	}

	res := &Resolution{Descriptor: desc, TileCount: count}
	for _, band := range bands {
		for _, src := range sources {
			if !overlaps(src, band) {
				continue
			}
			for _, tr := range tileRanges(bounds, band.Min) {
				for x := tr.MinX; x <= tr.MaxX; x++ {
					for y := tr.MinY; y <= tr.MaxY; y++ {
						res.Resources = append(res.Resources, Resource{
							Key:  models.ResourceKey{URL: packURL(src, band, x, y, desc.PixelRatio), Revision: src.Revision},
							Kind: models.ResourceKindTilePack,
						})
					}
				}
			}
		}
	}

	logging.Ctx(ctx).Debug().
		Str("descriptor", desc.ID).
		Int("min_zoom", desc.MinZoom).
		Int("max_zoom", desc.MaxZoom).
		Int("packs", len(res.Resources)).
		Int64("tiles", count).
		Msg("Resolved tileset descriptor")
	return res, nil
}

// ResolveRegion resolves every descriptor of a region and applies the tile
// count limit to their total.
func (r *Resolver) ResolveRegion(ctx context.Context, geometry *models.Bounds, descriptors []models.TilesetDescriptorOptions) (*RegionResolution, error) {
	if len(descriptors) == 0 {
		return nil, descriptorErrorf("no tileset descriptors")
	}
	out := &RegionResolution{}
	seen := make(map[string]bool)
	for _, opts := range descriptors {
		res, err := r.Resolve(ctx, opts, geometry)
		if err != nil {
			return nil, err
		}
		out.Descriptors = append(out.Descriptors, res.Descriptor)
		out.TileCount += res.TileCount
		for _, rsc := range res.Resources {
			id := rsc.Key.ID()
			if seen[id] {
				continue
			}
			seen[id] = true
			out.Resources = append(out.Resources, rsc)
		}
	}
	if err := checkTileCount(out.TileCount); err != nil {
		return nil, err
	}
	return out, nil
}

func checkTileCount(count int64) error {
	if limit := settings.OfflineMapboxTileCountLimit(); limit > 0 && count > limit {
		return &TileCountError{Count: count, Limit: limit}
	}
	return nil
}

// sources returns the tile sources of the descriptor's style followed by
// those of its explicit tilesets.
func (r *Resolver) sources(ctx context.Context, desc models.TilesetDescriptor) ([]TileSource, error) {
	var out []TileSource
	if desc.StyleURI != "" {
		doc, err := r.Style(ctx, desc.StyleURI)
		if err != nil {
			return nil, err
		}
		out = append(out, doc.Sources...)
	}
	if len(desc.Tilesets) > 0 {
		style := glStyle{Version: 8, Sources: make(map[string]glSource, len(desc.Tilesets))}
		for i, ts := range desc.Tilesets {
			style.Sources[fmt.Sprintf("tileset-%03d", i)] = glSource{Type: "vector", URL: ts}
		}
		doc, err := json.Marshal(style)
		if err != nil {
			return nil, err
		}
		extra, err := r.src.ParseSourcesAndZoomRanges(ctx, doc)
		if err != nil {
			return nil, fmt.Errorf("%w: tilesets: %v", ErrStyleUnavailable, err)
		}
		out = append(out, extra...)
	}
	return out, nil
}

func overlaps(src TileSource, band Band) bool {
	return src.MinZoom <= band.Max && src.MaxZoom >= band.Min
}

// packURL expands the source template at the pack root tile of band.
func packURL(src TileSource, band Band, x, y uint32, pixelRatio float64) string {
	z := band.Min
	if src.Scheme == "tms" {
		y = uint32(1)<<uint(z) - 1 - y
	}
	ratio := ""
	if pixelRatio >= 2 {
		ratio = "@2x"
	}
	u := strings.NewReplacer(
		"{z}", strconv.Itoa(z),
		"{x}", strconv.FormatUint(uint64(x), 10),
		"{y}", strconv.FormatUint(uint64(y), 10),
		"{ratio}", ratio,
		"{prefix}", fmt.Sprintf("%x%x", x%16, y%16),
	).Replace(src.Template)

	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "batch=" + band.String()
}

// ResolveStylePack lists the style document, its TileJSON documents,
// sprites in both pixel ratios and the glyph ranges the rasterization mode
// requires.
func (r *Resolver) ResolveStylePack(ctx context.Context, styleURI string, opts models.StylePackLoadOptions) (*StylePackResolution, error) {
	doc, err := r.Style(ctx, styleURI)
	if err != nil {
		return nil, err
	}
	sr, err := ParseStyleResources(styleURI, doc.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStyleUnavailable, err)
	}

	out := &StylePackResolution{StyleURI: styleURI}
	add := func(u string, kind models.ResourceKind) {
		out.Resources = append(out.Resources, Resource{Key: models.ResourceKey{URL: u}, Kind: kind})
	}

	add(styleURI, models.ResourceKindStyle)
	for _, u := range sr.TileJSONURLs {
		add(u, models.ResourceKindTileJSON)
	}
	for _, base := range sr.SpriteURLs {
		for _, suffix := range []string{".json", ".png", "@2x.json", "@2x.png"} {
			add(withPathSuffix(base, suffix), models.ResourceKindSprite)
		}
	}
	if sr.GlyphsTemplate != "" {
		base, _ := url.Parse(styleURI)
		for _, stack := range sr.FontStacks {
			for _, rg := range GlyphRanges(opts.GlyphsRasterizationMode) {
				u := strings.NewReplacer(
					"{fontstack}", url.PathEscape(stack),
					"{range}", rg,
				).Replace(sr.GlyphsTemplate)
				if base != nil {
					if ref, err := url.Parse(u); err == nil {
						u = base.ResolveReference(ref).String()
					}
				}
				add(u, models.ResourceKindGlyphs)
			}
		}
	}
	return out, nil
}

// withPathSuffix appends suffix to the path of u, before any query.
func withPathSuffix(u, suffix string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i] + suffix + u[i:]
	}
	return u + suffix
}

// ideographBlocks are the code point blocks rasterized locally in
// IDEOGRAPHS_RASTERIZED_LOCALLY mode: CJK Extension A, CJK Unified
// Ideographs, Hangul Syllables and CJK Compatibility Ideographs.
var ideographBlocks = [][2]int{
	{0x3400, 0x4DBF},
	{0x4E00, 0x9FFF},
	{0xAC00, 0xD7AF},
	{0xF900, 0xFAFF},
}

// GlyphRanges returns the 256-code-point glyph ranges to download for mode.
// An empty mode means IDEOGRAPHS_RASTERIZED_LOCALLY.
func GlyphRanges(mode models.GlyphsRasterizationMode) []string {
	if mode == models.AllGlyphsRasterizedLocally {
		return nil
	}
	skipIdeographs := mode != models.NoGlyphsRasterizedLocally

	out := make([]string, 0, 256)
	for start := 0; start < 0x10000; start += 256 {
		end := start + 255
		if skipIdeographs && insideIdeographs(start, end) {
			continue
		}
		out = append(out, strconv.Itoa(start)+"-"+strconv.Itoa(end))
	}
	return out
}

func insideIdeographs(start, end int) bool {
	for _, b := range ideographBlocks {
		if start >= b[0] && end <= b[1] {
			return true
		}
	}
	return false
}
