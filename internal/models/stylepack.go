// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package models

import (
	"fmt"
	"time"
)

// GlyphsRasterizationMode selects which glyph ranges a style pack downloads.
type GlyphsRasterizationMode string

const (
	// NoGlyphsRasterizedLocally downloads every glyph range.
	NoGlyphsRasterizedLocally GlyphsRasterizationMode = "NO_GLYPHS_RASTERIZED_LOCALLY"
	// IdeographsRasterizedLocally skips CJK ideograph ranges.
	IdeographsRasterizedLocally GlyphsRasterizationMode = "IDEOGRAPHS_RASTERIZED_LOCALLY"
	// AllGlyphsRasterizedLocally downloads no glyphs.
	AllGlyphsRasterizedLocally GlyphsRasterizationMode = "ALL_GLYPHS_RASTERIZED_LOCALLY"
)

// StylePack holds a style document and the sprite and glyph resources it
// needs, keyed by style URI.
type StylePack struct {
	StyleURI                string                  `json:"style_uri"`
	GlyphsRasterizationMode GlyphsRasterizationMode `json:"glyphs_rasterization_mode"`
	RequiredResourceCount   int64                   `json:"required_resource_count"`
	CompletedResourceCount  int64                   `json:"completed_resource_count"`
	CompletedResourceSize   int64                   `json:"completed_resource_size"`
	Expires                 *time.Time              `json:"expires,omitempty"`
	Metadata                Value                   `json:"metadata"`
	Resources               []ResourceKey           `json:"resources,omitempty"`
	UpdatedAt               time.Time               `json:"updated_at"`
}

// IsComplete reports whether every required resource is present.
func (p *StylePack) IsComplete() bool {
	return p.CompletedResourceCount == p.RequiredResourceCount
}

// StylePackLoadOptions configures a style pack load.
type StylePackLoadOptions struct {
	GlyphsRasterizationMode GlyphsRasterizationMode `json:"glyphs_rasterization_mode"`
	Metadata                *Value                  `json:"metadata,omitempty"`
	AcceptExpired           bool                    `json:"accept_expired"`
	NetworkRestriction      NetworkRestriction      `json:"network_restriction"`
}

// StylePackLoadProgress is a cumulative snapshot delivered during a load.
type StylePackLoadProgress struct {
	RequiredResourceCount  int64 `json:"required_resource_count"`
	CompletedResourceCount int64 `json:"completed_resource_count"`
	CompletedResourceSize  int64 `json:"completed_resource_size"`
	ErroredResourceCount   int64 `json:"errored_resource_count"`
	LoadedResourceCount    int64 `json:"loaded_resource_count"`
	LoadedResourceSize     int64 `json:"loaded_resource_size"`
}

// StylePackErrorType classifies a failed style pack operation.
type StylePackErrorType string

const (
	StylePackErrorCanceled     StylePackErrorType = "CANCELED"
	StylePackErrorDoesNotExist StylePackErrorType = "DOES_NOT_EXIST"
	StylePackErrorDiskFull     StylePackErrorType = "DISK_FULL"
	StylePackErrorOther        StylePackErrorType = "OTHER"
)

// StylePackError is the terminal error of a style pack operation.
type StylePackError struct {
	Type    StylePackErrorType `json:"type"`
	Message string             `json:"message"`
}

func (e *StylePackError) Error() string {
	return fmt.Sprintf("style pack %s: %s", e.Type, e.Message)
}
