// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/settings"
)

// SettingsResponse is the JSON view of the process-wide settings.
type SettingsResponse struct {
	Connected      bool                       `json:"connected"`
	TileCountLimit int64                      `json:"tile_count_limit"`
	Network        models.NetworkReachability `json:"network"`
}

func currentSettings() SettingsResponse {
	cfg := settings.Snapshot()
	return SettingsResponse{
		Connected:      cfg.Connected,
		TileCountLimit: cfg.TileCountLimit,
		Network:        cfg.Network,
	}
}

type offlineSwitchRequest struct {
	Connected *bool `json:"connected" validate:"required"`
}

type tileCountLimitRequest struct {
	Limit *int64 `json:"limit" validate:"required"`
}

type networkRequest struct {
	Reachability models.NetworkReachability `json:"reachability" validate:"required,oneof=NOT_REACHABLE WIFI ETHERNET CELLULAR"`
}

// GetSettings handles GET /api/v1/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, currentSettings())
}

// GetOfflineSwitch handles GET /api/v1/settings/offline-switch.
func (h *Handler) GetOfflineSwitch(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]bool{"connected": settings.MapboxStackConnected()})
}

// SetOfflineSwitch handles PUT /api/v1/settings/offline-switch. Turning the
// switch off fails every running download.
func (h *Handler) SetOfflineSwitch(w http.ResponseWriter, r *http.Request) {
	var req offlineSwitchRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	settings.SetMapboxStackConnected(*req.Connected)
	respondData(w, r, http.StatusOK, currentSettings())
}

// GetTileCountLimit handles GET /api/v1/settings/tile-count-limit.
func (h *Handler) GetTileCountLimit(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]int64{"limit": settings.OfflineMapboxTileCountLimit()})
}

// SetTileCountLimit handles PUT /api/v1/settings/tile-count-limit. Zero or a
// negative limit disables the check.
func (h *Handler) SetTileCountLimit(w http.ResponseWriter, r *http.Request) {
	var req tileCountLimitRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	settings.SetOfflineMapboxTileCountLimit(*req.Limit)
	respondData(w, r, http.StatusOK, currentSettings())
}

// GetNetwork handles GET /api/v1/settings/network.
func (h *Handler) GetNetwork(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, map[string]models.NetworkReachability{"reachability": settings.NetworkReachability()})
}

// SetNetwork handles PUT /api/v1/settings/network.
func (h *Handler) SetNetwork(w http.ResponseWriter, r *http.Request) {
	var req networkRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	settings.SetNetworkReachability(req.Reachability)
	respondData(w, r, http.StatusOK, currentSettings())
}
