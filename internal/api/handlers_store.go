// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/tomtom215/tilevault/internal/store"
)

// StoreStatsResponse adds orchestrator activity to the store statistics.
type StoreStatsResponse struct {
	store.Stats
	ActiveOperations []string `json:"active_operations"`
	InFlightFetches  int      `json:"in_flight_fetches"`
	ActiveDownloads  int      `json:"active_downloads"`
}

type budgetRequest struct {
	BudgetBytes *int64 `json:"budget_bytes" validate:"required,gte=0"`
}

// StoreStats handles GET /api/v1/store/stats.
func (h *Handler) StoreStats(w http.ResponseWriter, r *http.Request) {
	ops := h.orch.ActiveOperations()
	if ops == nil {
		ops = []string{}
	}
	active := 0
	for _, st := range h.downloads.Sessions() {
		if !st.State.Terminal() {
			active++
		}
	}
	respondData(w, r, http.StatusOK, StoreStatsResponse{
		Stats:            h.store.Stats(),
		ActiveOperations: ops,
		InFlightFetches:  h.orch.InFlight(),
		ActiveDownloads:  active,
	})
}

// ReduceMemoryUse handles POST /api/v1/store/reduce-memory-use. It evicts
// unreferenced and expired resources.
func (h *Handler) ReduceMemoryUse(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.ReduceMemoryUse(r.Context())
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, res)
}

// SetBudget handles PUT /api/v1/store/budget. Lowering the budget evicts
// right away.
func (h *Handler) SetBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	res := h.store.SetBudget(*req.BudgetBytes)
	respondData(w, r, http.StatusOK, map[string]any{
		"budget_bytes": h.store.Budget(),
		"evicted":      res,
	})
}
