// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/store"
)

// APIResponse is the envelope of every API response.
type APIResponse struct {
	Status   string    `json:"status"` // success or error
	Data     any       `json:"data,omitempty"`
	Metadata Metadata  `json:"metadata"`
	Error    *APIError `json:"error,omitempty"`
}

// Metadata accompanies every response.
type Metadata struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Error codes for API responses. Failed loads use the error type of the
// operation (DOES_NOT_EXIST, DISK_FULL, ...) as their code.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeValidationFailed   = "VALIDATION_ERROR"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// sanitizeLogValue escapes control characters so client input cannot forge
// log lines.
func sanitizeLogValue(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7F {
			fmt.Fprintf(&b, "\\x%02x", r)
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// respondJSON writes an envelope with status.
func respondJSON(w http.ResponseWriter, r *http.Request, status int, response *APIResponse) {
	response.Metadata.Timestamp = time.Now().UTC()
	if r != nil {
		response.Metadata.RequestID = chimiddleware.GetReqID(r.Context())
	}

	data, err := json.Marshal(response)
	if err != nil {
		logging.Error().Err(err).Msg("Failed to marshal JSON response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("Failed to write JSON response")
	}
}

func respondData(w http.ResponseWriter, r *http.Request, status int, data any) {
	respondJSON(w, r, status, &APIResponse{Status: "success", Data: data})
}

// respondError writes an error envelope. Server errors are logged.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	if status >= http.StatusInternalServerError {
		ev := logging.Error()
		if r != nil {
			ev = logging.Ctx(r.Context()).Error()
		}
		ev.Str("code", code).Str("error", sanitizeLogValue(message)).Msg("API error")
	}
	respondJSON(w, r, status, &APIResponse{
		Status: "error",
		Error:  &APIError{Code: code, Message: message, Details: details},
	})
}

// decodeBody reads a JSON body into v. An empty body leaves v unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return true
		}
		respondError(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}

// statusForTileRegionError maps a tile region error type to an HTTP status.
func statusForTileRegionError(t models.TileRegionErrorType) int {
	switch t {
	case models.TileRegionErrorDoesNotExist:
		return http.StatusNotFound
	case models.TileRegionErrorTilesetDescriptor:
		return http.StatusBadRequest
	case models.TileRegionErrorTileCountExceeded:
		return http.StatusUnprocessableEntity
	case models.TileRegionErrorDiskFull:
		return http.StatusInsufficientStorage
	case models.TileRegionErrorCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func statusForStylePackError(t models.StylePackErrorType) int {
	switch t {
	case models.StylePackErrorDoesNotExist:
		return http.StatusNotFound
	case models.StylePackErrorDiskFull:
		return http.StatusInsufficientStorage
	case models.StylePackErrorCanceled:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// respondOperationError writes err from the orchestrator or store. result,
// when non-nil, is returned as details so partial counts stay visible.
func respondOperationError(w http.ResponseWriter, r *http.Request, err error, result any) {
	var tre *models.TileRegionError
	var spe *models.StylePackError
	switch {
	case errors.As(err, &tre):
		respondError(w, r, statusForTileRegionError(tre.Type), string(tre.Type), tre.Message, result)
	case errors.As(err, &spe):
		respondError(w, r, statusForStylePackError(spe.Type), string(spe.Type), spe.Message, result)
	case errors.Is(err, store.ErrNotFound):
		respondError(w, r, http.StatusNotFound, ErrCodeNotFound, err.Error(), nil)
	case errors.Is(err, store.ErrClosed):
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, err.Error(), nil)
	default:
		respondError(w, r, http.StatusInternalServerError, ErrCodeInternalError, err.Error(), nil)
	}
}
