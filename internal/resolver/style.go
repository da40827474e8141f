// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package resolver

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/cache"
	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/models"
)

// TileSource is one tiled source of a style with its zoom range.
type TileSource struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Template string `json:"template"`
	// Scheme is "xyz" or "tms".
	Scheme  string `json:"scheme"`
	MinZoom int    `json:"min_zoom"`
	MaxZoom int    `json:"max_zoom"`
	// Revision is the TileJSON version, if any. It becomes the revision of
	// every resource key derived from the source.
	Revision string `json:"revision,omitempty"`
	// TileJSONURL is set when the source was declared by URL.
	TileJSONURL string `json:"tilejson_url,omitempty"`
}

// StyleSource fetches and interprets style documents.
type StyleSource interface {
	FetchStyleDocument(ctx context.Context, uri string) ([]byte, error)
	ParseSourcesAndZoomRanges(ctx context.Context, doc []byte) ([]TileSource, error)
}

// Fetcher performs in-memory HTTP fetches. *download.Manager implements it.
type Fetcher interface {
	Get(ctx context.Context, req models.HTTPRequest) (*download.Response, error)
}

// glStyle is the subset of a GL style document the resolver reads.
type glStyle struct {
	Version int                 `json:"version"`
	Sprite  json.RawMessage     `json:"sprite"`
	Glyphs  string              `json:"glyphs"`
	Sources map[string]glSource `json:"sources"`
	Layers  []glLayer           `json:"layers"`
}

type glSource struct {
	Type    string   `json:"type"`
	URL     string   `json:"url"`
	Tiles   []string `json:"tiles"`
	Scheme  string   `json:"scheme"`
	MinZoom *int     `json:"minzoom"`
	MaxZoom *int     `json:"maxzoom"`
	Version string   `json:"version"`
}

type glLayer struct {
	Type   string `json:"type"`
	Layout struct {
		TextFont json.RawMessage `json:"text-font"`
	} `json:"layout"`
}

var tiledSourceTypes = map[string]bool{
	"vector":     true,
	"raster":     true,
	"raster-dem": true,
}

// GLStyleSource reads GL style JSON over HTTP. Sources declared by TileJSON
// URL are resolved through the same fetcher and cached.
type GLStyleSource struct {
	fetcher  Fetcher
	timeout  time.Duration
	tileJSON *cache.LRU[glSource]
}

// NewGLStyleSource creates a style source using f for every fetch.
func NewGLStyleSource(f Fetcher, timeout time.Duration) *GLStyleSource {
	return &GLStyleSource{
		fetcher:  f,
		timeout:  timeout,
		tileJSON: cache.NewLRU[glSource](256, 10*time.Minute),
	}
}

// FetchStyleDocument downloads the style document at uri.
func (g *GLStyleSource) FetchStyleDocument(ctx context.Context, uri string) ([]byte, error) {
	resp, err := g.fetcher.Get(ctx, models.HTTPRequest{URL: uri, Timeout: g.timeout})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// ParseSourcesAndZoomRanges returns the tiled sources of doc sorted by id.
func (g *GLStyleSource) ParseSourcesAndZoomRanges(ctx context.Context, doc []byte) ([]TileSource, error) {
	var style glStyle
	if err := json.Unmarshal(doc, &style); err != nil {
		return nil, fmt.Errorf("parse style: %w", err)
	}

	ids := make([]string, 0, len(style.Sources))
	for id, src := range style.Sources {
		if tiledSourceTypes[src.Type] {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]TileSource, 0, len(ids))
	for _, id := range ids {
		src := style.Sources[id]
		ts := TileSource{ID: id, Type: src.Type}
		if src.URL != "" {
			tj, err := g.fetchTileJSON(ctx, src.URL)
			if err != nil {
				return nil, fmt.Errorf("source %s: %w", id, err)
			}
			ts.TileJSONURL = src.URL
			// Inline properties override the TileJSON.
			src = mergeSource(tj, src)
		}
		if len(src.Tiles) == 0 {
			return nil, fmt.Errorf("source %s declares no tile URLs", id)
		}
		ts.Template = src.Tiles[0]
		ts.Scheme = strings.ToLower(src.Scheme)
		if ts.Scheme == "" {
			ts.Scheme = "xyz"
		}
		ts.MinZoom, ts.MaxZoom = 0, 22
		if src.MinZoom != nil {
			ts.MinZoom = *src.MinZoom
		}
		if src.MaxZoom != nil {
			ts.MaxZoom = *src.MaxZoom
		}
		ts.Revision = src.Version
		out = append(out, ts)
	}
	return out, nil
}

func (g *GLStyleSource) fetchTileJSON(ctx context.Context, rawURL string) (glSource, error) {
	if src, ok := g.tileJSON.Get(rawURL); ok {
		return src, nil
	}
	resp, err := g.fetcher.Get(ctx, models.HTTPRequest{URL: rawURL, Timeout: g.timeout})
	if err != nil {
		return glSource{}, fmt.Errorf("fetch tilejson: %w", err)
	}
	var src glSource
	if err := json.Unmarshal(resp.Body, &src); err != nil {
		return glSource{}, fmt.Errorf("parse tilejson: %w", err)
	}
	g.tileJSON.Add(rawURL, src)
	return src, nil
}

func mergeSource(base, inline glSource) glSource {
	out := base
	out.Type = inline.Type
	if len(inline.Tiles) > 0 {
		out.Tiles = inline.Tiles
	}
	if inline.Scheme != "" {
		out.Scheme = inline.Scheme
	}
	if inline.MinZoom != nil {
		out.MinZoom = inline.MinZoom
	}
	if inline.MaxZoom != nil {
		out.MaxZoom = inline.MaxZoom
	}
	return out
}

// StyleResources are the non-tile resources a style references.
type StyleResources struct {
	// SpriteURLs are base sprite URLs without extension.
	SpriteURLs []string
	// GlyphsTemplate contains {fontstack} and {range}.
	GlyphsTemplate string
	FontStacks     []string
	// TileJSONURLs are the TileJSON documents of URL-declared sources.
	TileJSONURLs []string
}

// defaultFontStack is what GL renderers use for symbol layers without a
// text-font.
var defaultFontStack = []string{"Open Sans Regular", "Arial Unicode MS Regular"}

// ParseStyleResources extracts sprites, glyphs and TileJSON references from
// a GL style document. Relative URLs resolve against styleURI. text-font
// values that are expressions are skipped.
func ParseStyleResources(styleURI string, doc []byte) (*StyleResources, error) {
	var style glStyle
	if err := json.Unmarshal(doc, &style); err != nil {
		return nil, fmt.Errorf("parse style: %w", err)
	}
	base, err := url.Parse(styleURI)
	if err != nil {
		return nil, fmt.Errorf("parse style uri: %w", err)
	}
	resolve := func(ref string) string {
		u, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return base.ResolveReference(u).String()
	}

	res := &StyleResources{}
	if len(style.Sprite) > 0 {
		var single string
		var multi []struct {
			ID  string `json:"id"`
			URL string `json:"url"`
		}
		switch {
		case json.Unmarshal(style.Sprite, &single) == nil && single != "":
			res.SpriteURLs = []string{resolve(single)}
		case json.Unmarshal(style.Sprite, &multi) == nil:
			for _, s := range multi {
				if s.URL != "" {
					res.SpriteURLs = append(res.SpriteURLs, resolve(s.URL))
				}
			}
		}
	}

	if style.Glyphs != "" {
		res.GlyphsTemplate = style.Glyphs
		seen := make(map[string]bool)
		hasSymbols := false
		for _, l := range style.Layers {
			if l.Type == "symbol" {
				hasSymbols = true
			}
			var fonts []string
			if len(l.Layout.TextFont) == 0 || json.Unmarshal(l.Layout.TextFont, &fonts) != nil || len(fonts) == 0 {
				continue
			}
			stack := strings.Join(fonts, ",")
			if !seen[stack] {
				seen[stack] = true
				res.FontStacks = append(res.FontStacks, stack)
			}
		}
		if len(res.FontStacks) == 0 && hasSymbols {
			res.FontStacks = []string{strings.Join(defaultFontStack, ",")}
		}
		sort.Strings(res.FontStacks)
	}

	ids := make([]string, 0, len(style.Sources))
	for id := range style.Sources {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if u := style.Sources[id].URL; u != "" {
			res.TileJSONURLs = append(res.TileJSONURLs, resolve(u))
		}
	}
	return res, nil
}
