// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/tilevault/internal/download"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
)

type startDownloadRequest struct {
	URL                string                    `json:"url" validate:"required,url"`
	Method             string                    `json:"method" validate:"omitempty,oneof=GET HEAD"`
	Headers            map[string]string         `json:"headers,omitempty"`
	TimeoutSeconds     int                       `json:"timeout_seconds" validate:"gte=0"`
	NetworkRestriction models.NetworkRestriction `json:"network_restriction" validate:"omitempty,oneof=NONE DISALLOW_EXPENSIVE DISALLOW_ALL"`
	// LocalPath is relative to the download directory.
	LocalPath string `json:"local_path" validate:"required"`
	Resume    bool   `json:"resume"`
}

// localPath resolves p inside dir. It rejects absolute paths and paths that
// leave dir.
func localPath(dir, p string) (string, bool) {
	if dir == "" || !filepath.IsLocal(p) {
		return "", false
	}
	return filepath.Join(dir, p), true
}

// StartDownload handles POST /api/v1/downloads.
func (h *Handler) StartDownload(w http.ResponseWriter, r *http.Request) {
	var req startDownloadRequest
	if !decodeBody(w, r, &req) || !validateRequest(w, r, &req) {
		return
	}
	path, ok := localPath(h.downloadDir, req.LocalPath)
	if !ok {
		respondError(w, r, http.StatusBadRequest, ErrCodeValidationFailed,
			"local_path must be a relative path inside the download directory",
			map[string]string{"local_path": sanitizeLogValue(req.LocalPath)})
		return
	}

	opts := models.DownloadOptions{
		Request: models.HTTPRequest{
			Method:             req.Method,
			URL:                req.URL,
			Headers:            req.Headers,
			Timeout:            time.Duration(req.TimeoutSeconds) * time.Second,
			NetworkRestriction: req.NetworkRestriction,
		},
		LocalPath: path,
		Resume:    req.Resume,
	}

	// The session outlives the request.
	s, err := h.downloads.Start(context.WithoutCancel(r.Context()), opts)
	if err != nil {
		switch {
		case errors.Is(err, download.ErrInvalidOptions):
			respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, err.Error(), nil)
		case errors.Is(err, download.ErrManagerClosed):
			respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error(), nil)
		default:
			respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
		}
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("download_id", s.ID()).
		Str("url", sanitizeLogValue(req.URL)).
		Msg("Download started via API")

	if !wantWait(r) {
		respondData(w, r, http.StatusAccepted, s.Status())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()
	st, err := s.Wait(ctx)
	if err != nil {
		respondData(w, r, http.StatusAccepted, s.Status())
		return
	}
	respondData(w, r, http.StatusOK, st)
}

// ListDownloads handles GET /api/v1/downloads.
func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	respondData(w, r, http.StatusOK, h.downloads.Sessions())
}

// GetDownload handles GET /api/v1/downloads/{id}.
func (h *Handler) GetDownload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.downloads.Session(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "download not found", nil)
		return
	}
	respondData(w, r, http.StatusOK, s.Status())
}

// CancelDownload handles DELETE /api/v1/downloads/{id}. The session ends
// FAILED with REQUEST_CANCELLED; the partial file stays for a resume.
func (h *Handler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	s, ok := h.downloads.Session(chi.URLParam(r, "id"))
	if !ok {
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, "download not found", nil)
		return
	}
	s.Cancel()
	respondData(w, r, http.StatusAccepted, s.Status())
}
