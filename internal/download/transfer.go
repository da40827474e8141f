// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/settings"
)

const copyBufferSize = 32 << 10

// Response is the result of an in-memory fetch.
type Response struct {
	StatusCode   int        `json:"status_code"`
	Body         []byte     `json:"-"`
	NotModified  bool       `json:"not_modified"`
	ETag         string     `json:"etag,omitempty"`
	LastModified string     `json:"last_modified,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// Get fetches req into memory under the same admission policy as a
// session. Failures are *models.DownloadError. A 304 answer returns a
// Response with NotModified set and no body.
func (m *Manager) Get(ctx context.Context, req models.HTTPRequest) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	req = m.withDefaults(req)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(m.baseCtx, func() { cancel(ErrManagerClosed) })
	defer stop()
	unsubscribe := settings.Subscribe(func(cfg settings.Config) {
		if derr := preflight(req); derr != nil {
			if !cfg.Connected {
				cancel(ErrOfflineSwitch)
			} else {
				cancel(ErrRestricted)
			}
		}
	})
	defer unsubscribe()

	release, derr := m.admit(ctx, req)
	if derr != nil {
		return nil, derr
	}
	defer release()

	// The timeout covers the request itself, not the wait for a slot.
	if req.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeoutCause(ctx, req.Timeout, errTimedOut)
		defer cancelTimeout()
	}

	resp, derr := m.roundTrip(ctx, req, 0)
	if derr != nil {
		return nil, derr
	}
	defer resp.Body.Close()

	out := &Response{
		StatusCode:   resp.StatusCode,
		ETag:         resp.Header.Get("ETag"),
		LastModified: resp.Header.Get("Last-Modified"),
		ExpiresAt:    ExpiryFromHeaders(resp.Header, time.Now()),
	}
	switch {
	case resp.StatusCode == http.StatusNotModified:
		out.NotModified = true
		return out, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, statusError(models.DownloadErrorOther, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.cfg.MaxInMemoryBytes+1))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if int64(len(body)) > m.cfg.MaxInMemoryBytes {
		return nil, newError(models.DownloadErrorCodeNetwork, models.DownloadErrorOther,
			fmt.Sprintf("response body exceeds %d bytes", m.cfg.MaxInMemoryBytes))
	}
	metrics.DownloadBytesTotal.Add(float64(len(body)))
	out.Body = body
	return out, nil
}

// run drives one session from PENDING to a terminal state.
func (m *Manager) run(s *Session) {
	req := s.opts.Request
	ctx := s.ctx

	release, derr := m.admit(ctx, req)
	if derr != nil {
		s.fail(derr)
		return
	}
	defer release()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, req.Timeout, errTimedOut)
		defer cancel()
	}

	if !s.update(func(st *models.DownloadStatus) { st.State = models.DownloadStateDownloading }) {
		return
	}
	metrics.TrackActiveDownload(true)
	defer metrics.TrackActiveDownload(false)

	if derr := m.transfer(ctx, s); derr != nil {
		s.fail(derr)
	}
}

func (m *Manager) transfer(ctx context.Context, s *Session) *models.DownloadError {
	path := s.opts.LocalPath

	var offset int64
	if s.opts.Resume {
		if fi, err := os.Stat(path); err == nil && fi.Mode().IsRegular() {
			offset = fi.Size()
		}
	}

	resp, derr := m.roundTrip(ctx, s.opts.Request, offset)
	if derr != nil {
		return derr
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	expires := ExpiryFromHeaders(resp.Header, time.Now())

	switch code := resp.StatusCode; {
	case code == http.StatusNotModified:
		s.update(func(st *models.DownloadStatus) {
			st.State = models.DownloadStateFinished
			st.HTTPStatus = code
			st.NotModified = true
			st.ReceivedBytes = offset
			st.ETag, st.LastModified, st.ExpiresAt = etag, lastModified, expires
		})
		return nil
	case offset > 0 && (code == http.StatusOK || code == http.StatusRequestedRangeNotSatisfiable):
		e := statusError(models.DownloadErrorRange, code)
		e.Message = fmt.Sprintf("server answered %d to a range request from byte %d", code, offset)
		return e
	case code < 200 || code >= 300:
		return statusError(models.DownloadErrorOther, code)
	}

	appending := offset > 0 && resp.StatusCode == http.StatusPartialContent
	if !appending {
		offset = 0
	} else {
		metrics.DownloadResumedTotal.Inc()
	}
	total := totalBytes(resp, offset)

	s.update(func(st *models.DownloadStatus) {
		st.HTTPStatus = resp.StatusCode
		st.TotalBytes = total
		st.ReceivedBytes = offset
		st.ETag, st.LastModified, st.ExpiresAt = etag, lastModified, expires
	})

	f, err := openTarget(path, appending)
	if err != nil {
		return fileError(err)
	}

	buf := make([]byte, copyBufferSize)
	for {
		nr, rerr := resp.Body.Read(buf)
		if nr > 0 {
			nw, werr := f.Write(buf[:nr])
			metrics.DownloadBytesTotal.Add(float64(nr))
			s.update(func(st *models.DownloadStatus) {
				st.ReceivedBytes += int64(nw)
				st.TransferredBytes += int64(nr)
			})
			if werr == nil && nw < nr {
				werr = io.ErrShortWrite
			}
			if werr != nil {
				_ = f.Close()
				return fileError(werr)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = f.Close()
			return classify(ctx, rerr)
		}
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fileError(err)
	}
	if err := f.Close(); err != nil {
		return fileError(err)
	}

	s.update(func(st *models.DownloadStatus) { st.State = models.DownloadStateFinished })
	return nil
}

// roundTrip sends req through the host's circuit breaker. Server errors are
// returned as DownloadErrors and count as breaker failures.
func (m *Manager) roundTrip(ctx context.Context, req models.HTTPRequest, offset int64) (*http.Response, *models.DownloadError) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, nil)
	if err != nil {
		return nil, newError(models.DownloadErrorCodeNetwork, models.DownloadErrorOther, err.Error())
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if httpReq.Header.Get("User-Agent") == "" && m.cfg.UserAgent != "" {
		httpReq.Header.Set("User-Agent", m.cfg.UserAgent)
	}
	if offset > 0 {
		httpReq.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	cb := m.breaker(hostOf(req.URL))
	resp, err := cb.Execute(func() (*http.Response, error) {
		resp, err := m.client.Do(httpReq)
		if err != nil {
			return nil, classify(ctx, err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
			resp.Body.Close()
			return nil, statusError(models.DownloadErrorOther, resp.StatusCode)
		}
		return resp, nil
	})
	if err != nil {
		return nil, classify(ctx, err)
	}
	return resp, nil
}

// totalBytes returns the full size of the resource, if the response tells.
func totalBytes(resp *http.Response, offset int64) *int64 {
	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes 100-199/200
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if i := strings.LastIndexByte(cr, '/'); i >= 0 {
				if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
					return &n
				}
			}
		}
	}
	if resp.ContentLength >= 0 {
		n := offset + resp.ContentLength
		return &n
	}
	return nil
}

func openTarget(path string, appending bool) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	flags := os.O_CREATE | os.O_WRONLY
	if appending {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	return os.OpenFile(path, flags, 0o644)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Host
}
