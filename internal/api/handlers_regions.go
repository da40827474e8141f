// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/validation"
)

type descriptorRequest struct {
	StyleURI   string   `json:"style_uri" validate:"required,style_uri"`
	MinZoom    int      `json:"min_zoom" validate:"gte=0,lte=22"`
	MaxZoom    int      `json:"max_zoom" validate:"gte=0,lte=22"`
	PixelRatio float64  `json:"pixel_ratio"`
	Tilesets   []string `json:"tilesets,omitempty"`
}

func descriptorOptions(reqs []descriptorRequest) []models.TilesetDescriptorOptions {
	out := make([]models.TilesetDescriptorOptions, len(reqs))
	for i, d := range reqs {
		out[i] = models.TilesetDescriptorOptions{
			StyleURI:   d.StyleURI,
			MinZoom:    d.MinZoom,
			MaxZoom:    d.MaxZoom,
			PixelRatio: d.PixelRatio,
			Tilesets:   d.Tilesets,
		}
	}
	return out
}

type loadRegionRequest struct {
	Geometry           *models.Bounds            `json:"geometry,omitempty"`
	Descriptors        []descriptorRequest       `json:"descriptors,omitempty" validate:"dive"`
	Metadata           *models.Value             `json:"metadata,omitempty"`
	AcceptExpired      bool                      `json:"accept_expired"`
	NetworkRestriction models.NetworkRestriction `json:"network_restriction" validate:"omitempty,oneof=NONE DISALLOW_EXPENSIVE DISALLOW_ALL"`
}

type containsRequest struct {
	Descriptors []descriptorRequest `json:"descriptors" validate:"required,dive"`
}

// regionID reads and checks the {id} URL parameter.
func regionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !validation.IsRegionID(id) {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "invalid tile region id", map[string]string{"id": sanitizeLogValue(id)})
		return "", false
	}
	return id, true
}

// ListRegions handles GET /api/v1/regions.
func (h *Handler) ListRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := h.orch.GetAllTileRegions()
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	if regions == nil {
		regions = []*models.TileRegion{}
	}
	respondData(w, r, http.StatusOK, regions)
}

// GetRegion handles GET /api/v1/regions/{id}.
func (h *Handler) GetRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	reg, err := h.orch.GetTileRegion(id)
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, reg)
}

// LoadRegion handles PUT /api/v1/regions/{id}. It creates or updates the
// region and starts downloading its resources. Without ?wait=true it
// answers 202 with the operation status.
func (h *Handler) LoadRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	var req loadRegionRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}

	opts := models.TileRegionLoadOptions{
		Geometry:           req.Geometry,
		Descriptors:        descriptorOptions(req.Descriptors),
		Metadata:           req.Metadata,
		AcceptExpired:      req.AcceptExpired,
		NetworkRestriction: req.NetworkRestriction,
	}

	t := h.track(h.regions, id, "load")
	op := h.orch.LoadTileRegion(r.Context(), id, opts, t.setProgress, func(_ *models.TileRegion, err error) {
		t.finish(err)
	})
	t.setCancel(op.Cancel)

	respondOperation(w, r, t, h.waitTimeout, op.Wait)
}

// InvalidateRegion handles POST /api/v1/regions/{id}/invalidate.
func (h *Handler) InvalidateRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	t := h.track(h.regions, id, "invalidate")
	op := h.orch.InvalidateTileRegion(r.Context(), id, func(_ *models.TileRegion, err error) {
		t.finish(err)
	})
	t.setCancel(op.Cancel)

	respondOperation(w, r, t, h.waitTimeout, op.Wait)
}

// RegionOperation handles GET /api/v1/regions/{id}/operation.
func (h *Handler) RegionOperation(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	t, ok := h.lookup(h.regions, id)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no operation started for this tile region", nil)
		return
	}
	respondData(w, r, http.StatusOK, t.status())
}

// CancelRegion handles POST /api/v1/regions/{id}/cancel.
func (h *Handler) CancelRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	t, ok := h.lookup(h.regions, id)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no operation started for this tile region", nil)
		return
	}
	if !t.stop() {
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "operation already finished", t.status())
		return
	}
	respondData(w, r, http.StatusAccepted, t.status())
}

// RemoveRegion handles DELETE /api/v1/regions/{id}. Removing a region that
// does not exist succeeds.
func (h *Handler) RemoveRegion(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	if err := h.orch.RemoveTileRegion(r.Context(), id); err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	h.mu.Lock()
	delete(h.regions, id)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// GetRegionMetadata handles GET /api/v1/regions/{id}/metadata.
func (h *Handler) GetRegionMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	md, err := h.orch.GetTileRegionMetadata(id)
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, md)
}

// SetRegionMetadata handles PUT /api/v1/regions/{id}/metadata. The body is
// any JSON value.
func (h *Handler) SetRegionMetadata(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	md := models.Null()
	if !decodeBody(w, r, &md) {
		return
	}
	if err := h.orch.SetTileRegionMetadata(id, md); err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, md)
}

// RegionContains handles POST /api/v1/regions/{id}/contains. It reports
// whether the region already covers the given descriptors.
func (h *Handler) RegionContains(w http.ResponseWriter, r *http.Request) {
	id, ok := regionID(w, r)
	if !ok {
		return
	}
	var req containsRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	contains, err := h.orch.TileRegionContainsDescriptors(id, descriptorOptions(req.Descriptors))
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, map[string]bool{"contains": contains})
}
