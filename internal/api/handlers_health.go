// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"
	"time"

	"github.com/tomtom215/tilevault/internal/websocket"
)

// HealthResponse is returned by the health endpoints.
type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// HealthLive handles GET /api/v1/health/live. It succeeds while the process
// serves requests.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, HealthResponse{
		Status:        "alive",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	})
}

// HealthReady handles GET /api/v1/health/ready. It fails while the store is
// closed.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        "ready",
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Checks:        map[string]string{"store": "ok"},
	}
	if err := h.store.Ping(); err != nil {
		resp.Status = "not_ready"
		resp.Checks["store"] = err.Error()
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "store unavailable", resp)
		return
	}
	respondData(w, r, http.StatusOK, resp)
}

// WebSocket handles GET /api/v1/ws, upgrading to the event stream.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWS(h.hub, &h.upgrader, w, r)
}
