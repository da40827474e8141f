// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

/*
Package models defines the data records shared by every Tilevault component.

Model Categories:

1. Store Records:
  - ResourceKey: immutable (url, revision) identity of a cacheable unit
  - ResourceRecord: catalog entry for a blob owned by the resource store
  - DiskFullError: returned when the storage budget cannot be met

2. Offline Regions:
  - TileRegion, TileRegionLoadOptions, TileRegionLoadProgress, TileRegionError
  - TilesetDescriptorOptions and the resolved, immutable TilesetDescriptor
  - StylePack, StylePackLoadOptions, StylePackLoadProgress, StylePackError

3. Download Sessions:
  - HTTPRequest and DownloadOptions describe a transfer
  - DownloadStatus snapshots a session; DownloadError classifies failures
  - NetworkRestriction and NetworkReachability drive the restriction policy

4. Metadata:
  - Value is a closed tagged variant (null, string, number, bool, bytes,
    list, map) with well-defined equality and JSON encoding. Byte strings
    encode as {"$bytes": "<base64>"}.

All records carry JSON tags; they are persisted by the store with goccy/go-json
and returned unchanged by the admin API.
*/
package models
