// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package models

import (
	"fmt"
	"time"
)

// Bounds is a WGS84 bounding box covering a region. West may exceed East
// for boxes crossing the antimeridian.
type Bounds struct {
	West  float64 `json:"west" validate:"gte=-180,lte=180"`
	South float64 `json:"south" validate:"gte=-90,lte=90"`
	East  float64 `json:"east" validate:"gte=-180,lte=180"`
	North float64 `json:"north" validate:"gte=-90,lte=90"`
}

// World is the full Web Mercator extent.
var World = Bounds{West: -180, South: -85.0511287798066, East: 180, North: 85.0511287798066}

// TilesetDescriptorOptions is what a caller asks for; the resolver turns it
// into a TilesetDescriptor.
type TilesetDescriptorOptions struct {
	StyleURI   string   `json:"style_uri" validate:"required"`
	MinZoom    int      `json:"min_zoom"`
	MaxZoom    int      `json:"max_zoom"`
	PixelRatio float64  `json:"pixel_ratio"`
	Tilesets   []string `json:"tilesets,omitempty"`
}

// TilesetDescriptor is immutable once produced. MinZoom and MaxZoom are the
// band-expanded range actually downloaded.
type TilesetDescriptor struct {
	ID         string   `json:"id"`
	StyleURI   string   `json:"style_uri"`
	MinZoom    int      `json:"min_zoom"`
	MaxZoom    int      `json:"max_zoom"`
	PixelRatio float64  `json:"pixel_ratio"`
	Tilesets   []string `json:"tilesets,omitempty"`
}

// TileRegion is a named collection of resources kept available offline.
type TileRegion struct {
	ID                     string              `json:"id"`
	RequiredResourceCount  int64               `json:"required_resource_count"`
	CompletedResourceCount int64               `json:"completed_resource_count"`
	CompletedResourceSize  int64               `json:"completed_resource_size"`
	Expires                *time.Time          `json:"expires,omitempty"`
	Descriptors            []TilesetDescriptor `json:"descriptors"`
	Metadata               Value               `json:"metadata"`
	Geometry               *Bounds             `json:"geometry,omitempty"`
	// Resources are the keys pinned by the region, in resolution order.
	Resources []ResourceKey `json:"resources,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// IsComplete reports whether every required resource is present.
func (r *TileRegion) IsComplete() bool {
	return r.CompletedResourceCount == r.RequiredResourceCount
}

// TileRegionLoadOptions configures a load.
type TileRegionLoadOptions struct {
	Geometry    *Bounds                    `json:"geometry,omitempty"`
	Descriptors []TilesetDescriptorOptions `json:"descriptors"`
	// Metadata replaces the stored metadata when set.
	Metadata           *Value             `json:"metadata,omitempty"`
	AcceptExpired      bool               `json:"accept_expired"`
	NetworkRestriction NetworkRestriction `json:"network_restriction"`
}

// TileRegionLoadProgress is a cumulative snapshot delivered during a load.
type TileRegionLoadProgress struct {
	RequiredResourceCount  int64 `json:"required_resource_count"`
	CompletedResourceCount int64 `json:"completed_resource_count"`
	CompletedResourceSize  int64 `json:"completed_resource_size"`
	ErroredResourceCount   int64 `json:"errored_resource_count"`
	LoadedResourceCount    int64 `json:"loaded_resource_count"`
	LoadedResourceSize     int64 `json:"loaded_resource_size"`
}

// TileRegionErrorType classifies a failed tile region operation.
type TileRegionErrorType string

const (
	TileRegionErrorCanceled          TileRegionErrorType = "CANCELED"
	TileRegionErrorDoesNotExist      TileRegionErrorType = "DOES_NOT_EXIST"
	TileRegionErrorTilesetDescriptor TileRegionErrorType = "TILESET_DESCRIPTOR"
	TileRegionErrorDiskFull          TileRegionErrorType = "DISK_FULL"
	TileRegionErrorOther             TileRegionErrorType = "OTHER"
	TileRegionErrorTileCountExceeded TileRegionErrorType = "TILE_COUNT_EXCEEDED"
)

// TileRegionError is the terminal error of a tile region operation.
type TileRegionError struct {
	Type    TileRegionErrorType `json:"type"`
	Message string              `json:"message"`
}

func (e *TileRegionError) Error() string {
	return fmt.Sprintf("tile region %s: %s", e.Type, e.Message)
}
