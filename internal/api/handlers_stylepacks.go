// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"net/http"

	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/validation"
)

type loadStylePackRequest struct {
	GlyphsRasterizationMode models.GlyphsRasterizationMode `json:"glyphs_rasterization_mode" validate:"omitempty,oneof=NO_GLYPHS_RASTERIZED_LOCALLY IDEOGRAPHS_RASTERIZED_LOCALLY ALL_GLYPHS_RASTERIZED_LOCALLY"`
	Metadata                *models.Value                  `json:"metadata,omitempty"`
	AcceptExpired           bool                           `json:"accept_expired"`
	NetworkRestriction      models.NetworkRestriction      `json:"network_restriction" validate:"omitempty,oneof=NONE DISALLOW_EXPENSIVE DISALLOW_ALL"`
}

// styleURI reads the uri query parameter. Style URIs contain slashes, so
// they are not path parameters.
func styleURI(w http.ResponseWriter, r *http.Request) (string, bool) {
	uri := r.URL.Query().Get("uri")
	if !validation.IsStyleURI(uri) {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed, "uri must be a valid style URI", map[string]string{"uri": sanitizeLogValue(uri)})
		return "", false
	}
	return uri, true
}

// stylePackProgress is the tracked view of style pack progress; both
// progress types carry the same counters.
func stylePackProgress(t *tracked) func(models.StylePackLoadProgress) {
	return func(p models.StylePackLoadProgress) {
		t.setProgress(models.TileRegionLoadProgress(p))
	}
}

// ListStylePacks handles GET /api/v1/stylepacks.
func (h *Handler) ListStylePacks(w http.ResponseWriter, r *http.Request) {
	packs, err := h.orch.GetAllStylePacks()
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	if packs == nil {
		packs = []*models.StylePack{}
	}
	respondData(w, r, http.StatusOK, packs)
}

// GetStylePack handles GET /api/v1/stylepacks/pack?uri=.
func (h *Handler) GetStylePack(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	pack, err := h.orch.GetStylePack(uri)
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, pack)
}

// LoadStylePack handles PUT /api/v1/stylepacks/pack?uri=.
func (h *Handler) LoadStylePack(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	var req loadStylePackRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	opts := models.StylePackLoadOptions{
		GlyphsRasterizationMode: req.GlyphsRasterizationMode,
		Metadata:                req.Metadata,
		AcceptExpired:           req.AcceptExpired,
		NetworkRestriction:      req.NetworkRestriction,
	}

	t := h.track(h.packs, uri, "load")
	op := h.orch.LoadStylePack(r.Context(), uri, opts, stylePackProgress(t), func(_ *models.StylePack, err error) {
		t.finish(err)
	})
	t.setCancel(op.Cancel)

	respondOperation(w, r, t, h.waitTimeout, op.Wait)
}

// InvalidateStylePack handles POST /api/v1/stylepacks/pack/invalidate?uri=.
func (h *Handler) InvalidateStylePack(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	t := h.track(h.packs, uri, "invalidate")
	op := h.orch.InvalidateStylePack(r.Context(), uri, func(_ *models.StylePack, err error) {
		t.finish(err)
	})
	t.setCancel(op.Cancel)

	respondOperation(w, r, t, h.waitTimeout, op.Wait)
}

// StylePackOperation handles GET /api/v1/stylepacks/pack/operation?uri=.
func (h *Handler) StylePackOperation(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	t, ok := h.lookup(h.packs, uri)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no operation started for this style pack", nil)
		return
	}
	respondData(w, r, http.StatusOK, t.status())
}

// CancelStylePack handles POST /api/v1/stylepacks/pack/cancel?uri=.
func (h *Handler) CancelStylePack(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	t, ok := h.lookup(h.packs, uri)
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "no operation started for this style pack", nil)
		return
	}
	if !t.stop() {
		respondError(w, r, http.StatusConflict, ErrCodeConflict, "operation already finished", t.status())
		return
	}
	respondData(w, r, http.StatusAccepted, t.status())
}

// RemoveStylePack handles DELETE /api/v1/stylepacks/pack?uri=.
func (h *Handler) RemoveStylePack(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	if err := h.orch.RemoveStylePack(r.Context(), uri); err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	h.mu.Lock()
	delete(h.packs, uri)
	h.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

// GetStylePackMetadata handles GET /api/v1/stylepacks/pack/metadata?uri=.
func (h *Handler) GetStylePackMetadata(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	md, err := h.orch.GetStylePackMetadata(uri)
	if err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, md)
}

// SetStylePackMetadata handles PUT /api/v1/stylepacks/pack/metadata?uri=.
func (h *Handler) SetStylePackMetadata(w http.ResponseWriter, r *http.Request) {
	uri, ok := styleURI(w, r)
	if !ok {
		return
	}
	md := models.Null()
	if !decodeBody(w, r, &md) {
		return
	}
	if err := h.orch.SetStylePackMetadata(uri, md); err != nil {
		respondOperationError(w, r, err, nil)
		return
	}
	respondData(w, r, http.StatusOK, md)
}
