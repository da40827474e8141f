// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package models

import (
	"fmt"
	"time"
)

// NetworkRestriction limits which networks a transfer may use.
type NetworkRestriction string

const (
	NetworkRestrictionNone              NetworkRestriction = "NONE"
	NetworkRestrictionDisallowExpensive NetworkRestriction = "DISALLOW_EXPENSIVE"
	NetworkRestrictionDisallowAll       NetworkRestriction = "DISALLOW_ALL"
)

// NetworkReachability is the current network classification reported by
// the host application.
type NetworkReachability string

const (
	NetworkNotReachable NetworkReachability = "NOT_REACHABLE"
	NetworkWiFi         NetworkReachability = "WIFI"
	NetworkEthernet     NetworkReachability = "ETHERNET"
	NetworkCellular     NetworkReachability = "CELLULAR"
)

// Expensive reports whether traffic on this network is metered.
func (n NetworkReachability) Expensive() bool { return n == NetworkCellular }

// Permits reports whether a transfer restricted by r may run on network n.
func (r NetworkRestriction) Permits(n NetworkReachability) bool {
	if n == NetworkNotReachable {
		return false
	}
	switch r {
	case NetworkRestrictionDisallowAll:
		return false
	case NetworkRestrictionDisallowExpensive:
		return !n.Expensive()
	default:
		return true
	}
}

// HTTPRequest describes one transfer. Timeout bounds connect plus transfer;
// zero means unbounded.
type HTTPRequest struct {
	Method             string             `json:"method"`
	URL                string             `json:"url"`
	Headers            map[string]string  `json:"headers,omitempty"`
	Timeout            time.Duration      `json:"timeout"`
	NetworkRestriction NetworkRestriction `json:"network_restriction"`
}

// DownloadOptions describes a download session.
type DownloadOptions struct {
	Request   HTTPRequest `json:"request"`
	LocalPath string      `json:"local_path"`
	// Resume continues from the size of an existing file at LocalPath.
	Resume bool `json:"resume"`
}

// DownloadState is the lifecycle state of a session:
// PENDING -> DOWNLOADING -> {FAILED, FINISHED}.
type DownloadState string

const (
	DownloadStatePending     DownloadState = "PENDING"
	DownloadStateDownloading DownloadState = "DOWNLOADING"
	DownloadStateFailed      DownloadState = "FAILED"
	DownloadStateFinished    DownloadState = "FINISHED"
)

// Terminal reports whether no further transitions are possible.
func (s DownloadState) Terminal() bool {
	return s == DownloadStateFailed || s == DownloadStateFinished
}

// DownloadErrorCode is the coarse failure class.
type DownloadErrorCode string

const (
	DownloadErrorCodeNetwork    DownloadErrorCode = "NETWORK_ERROR"
	DownloadErrorCodeFileSystem DownloadErrorCode = "FILE_SYSTEM_ERROR"
	DownloadErrorCodeDiskFull   DownloadErrorCode = "DISK_FULL"
)

// DownloadErrorType is the detailed failure reason.
type DownloadErrorType string

const (
	DownloadErrorConnection       DownloadErrorType = "CONNECTION_ERROR"
	DownloadErrorSSL              DownloadErrorType = "SSL_ERROR"
	DownloadErrorRequestTimedOut  DownloadErrorType = "REQUEST_TIMED_OUT"
	DownloadErrorRequestCancelled DownloadErrorType = "REQUEST_CANCELLED"
	DownloadErrorRange            DownloadErrorType = "RANGE_ERROR"
	DownloadErrorOther            DownloadErrorType = "OTHER_ERROR"
)

// DownloadError describes why a session failed.
type DownloadError struct {
	Code       DownloadErrorCode `json:"code"`
	Type       DownloadErrorType `json:"type"`
	Message    string            `json:"message"`
	StatusCode int               `json:"status_code,omitempty"`
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s/%s (HTTP %d): %s", e.Code, e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s/%s: %s", e.Code, e.Type, e.Message)
}

// DownloadStatus is a snapshot of a session.
type DownloadStatus struct {
	DownloadID string          `json:"download_id"`
	State      DownloadState   `json:"state"`
	Error      *DownloadError  `json:"error,omitempty"`
	TotalBytes *int64          `json:"total_bytes,omitempty"`
	// ReceivedBytes is the size of the local file, including resumed bytes.
	ReceivedBytes int64 `json:"received_bytes"`
	// TransferredBytes counts bytes read from the network by this session.
	TransferredBytes int64           `json:"transferred_bytes"`
	Options          DownloadOptions `json:"options"`
	HTTPStatus       int             `json:"http_status,omitempty"`
	// NotModified is set when a conditional request answered 304; the local
	// file was left untouched.
	NotModified  bool       `json:"not_modified,omitempty"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}
