// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

// Package validation provides struct validation using go-playground/validator v10.
//
// A single validator instance is built on first use. Field names in errors
// come from json tags, so messages match the request bodies clients send.
//
// Custom tags:
//
//   - region_id: tile region ids used in URLs and the catalog
//   - style_uri: style URIs accepted by the resolver and style pack API
//
// Example:
//
//	type loadRegionRequest struct {
//	    ID      string  `json:"id" validate:"region_id"`
//	    StyleURI string `json:"style_uri" validate:"omitempty,style_uri"`
//	    MinZoom int     `json:"min_zoom" validate:"gte=0,lte=22"`
//	}
//
//	if verr := validation.ValidateStruct(&req); verr != nil {
//	    apiErr := verr.ToAPIError()
//	    respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
//	    return
//	}
//
// The config package uses the same validator for its struct tags.
package validation
