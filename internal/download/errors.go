// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tilevault/internal/models"
)

// Cancellation causes attached to a session context.
var (
	// ErrOfflineSwitch is the cause of sessions failed by the offline switch.
	ErrOfflineSwitch = errors.New("offline switch is off")
	// ErrRestricted is the cause of sessions whose network restriction no
	// longer permits the current network.
	ErrRestricted = errors.New("network restriction does not permit current network")
	// ErrCancelled is the cause of sessions cancelled by the caller.
	ErrCancelled = errors.New("download cancelled")
	// ErrManagerClosed is the cause of sessions cut off by Close.
	ErrManagerClosed = errors.New("download manager closed")

	errTimedOut = errors.New("request timed out")
)

func newError(code models.DownloadErrorCode, typ models.DownloadErrorType, msg string) *models.DownloadError {
	return &models.DownloadError{Code: code, Type: typ, Message: msg}
}

func connectionError(msg string) *models.DownloadError {
	return newError(models.DownloadErrorCodeNetwork, models.DownloadErrorConnection, msg)
}

func statusError(typ models.DownloadErrorType, status int) *models.DownloadError {
	e := newError(models.DownloadErrorCodeNetwork, typ, http.StatusText(status))
	e.StatusCode = status
	return e
}

// classify maps a transport error to a DownloadError. The cause of ctx takes
// precedence over err, since a cancelled request surfaces as a generic
// transport failure.
func classify(ctx context.Context, err error) *models.DownloadError {
	var de *models.DownloadError
	if errors.As(err, &de) {
		return de
	}

	if ctx.Err() != nil {
		cause := context.Cause(ctx)
		switch {
		case errors.Is(cause, ErrOfflineSwitch), errors.Is(cause, ErrRestricted):
			return connectionError(cause.Error())
		case errors.Is(cause, errTimedOut), errors.Is(cause, context.DeadlineExceeded):
			return newError(models.DownloadErrorCodeNetwork, models.DownloadErrorRequestTimedOut, "request timed out")
		default:
			return newError(models.DownloadErrorCodeNetwork, models.DownloadErrorRequestCancelled, cause.Error())
		}
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return connectionError(fmt.Sprintf("circuit breaker: %v", err))
	}
	if isTLSError(err) {
		return newError(models.DownloadErrorCodeNetwork, models.DownloadErrorSSL, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(models.DownloadErrorCodeNetwork, models.DownloadErrorRequestTimedOut, err.Error())
	}
	return connectionError(err.Error())
}

// fileError maps a local file failure to a DownloadError.
func fileError(err error) *models.DownloadError {
	if errors.Is(err, syscall.ENOSPC) {
		return newError(models.DownloadErrorCodeDiskFull, models.DownloadErrorOther, err.Error())
	}
	return newError(models.DownloadErrorCodeFileSystem, models.DownloadErrorOther, err.Error())
}

func isTLSError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		invalidCert      x509.CertificateInvalidError
		hostname         x509.HostnameError
		recordHeader     tls.RecordHeaderError
		verification     *tls.CertificateVerificationError
		alert            tls.AlertError
	)
	return errors.As(err, &unknownAuthority) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostname) ||
		errors.As(err, &recordHeader) ||
		errors.As(err, &verification) ||
		errors.As(err, &alert)
}

// countsAsFailure reports whether err should count against a host's
// circuit breaker. Cancellations and client errors say nothing about the
// host's health.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	var de *models.DownloadError
	if errors.As(err, &de) {
		switch {
		case de.Type == models.DownloadErrorRequestCancelled:
			return false
		case de.StatusCode > 0 && de.StatusCode < http.StatusInternalServerError:
			return false
		}
	}
	return true
}
