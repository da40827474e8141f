// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/store"
)

// fetch is a download shared by every operation waiting for one resource.
type fetch struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	// started is closed once the download session is DOWNLOADING.
	started   chan struct{}
	startOnce sync.Once

	// guarded by Orchestrator.mu
	refs     int
	canceled bool

	// set before done is closed
	rec    *models.ResourceRecord
	loaded bool
	err    error
}

func (f *fetch) markStarted() {
	f.startOnce.Do(func() { close(f.started) })
}

// fetch downloads it, or waits for a download of the same resource already
// running. loaded reports whether new content was stored. onStart, if set,
// runs once when the transfer starts.
func (o *Orchestrator) fetch(ctx context.Context, it item, restriction models.NetworkRestriction, onStart func()) (rec *models.ResourceRecord, loaded bool, err error) {
	f := o.join(it, restriction)
	defer o.leave(f)

	started := f.started
	for {
		select {
		case <-started:
			started = nil
			if onStart != nil {
				onStart()
			}
		case <-f.done:
			return f.rec, f.loaded, f.err
		case <-ctx.Done():
			return nil, false, context.Cause(ctx)
		}
	}
}

func (o *Orchestrator) join(it item, restriction models.NetworkRestriction) *fetch {
	id := it.res.Key.ID()

	o.mu.Lock()
	defer o.mu.Unlock()

	prev := o.fetches[id]
	if prev != nil && !prev.canceled {
		prev.refs++
		return prev
	}

	ctx, cancel := context.WithCancel(o.baseCtx)
	f := &fetch{
		id:      id,
		cancel:  cancel,
		done:    make(chan struct{}),
		started: make(chan struct{}),
		refs:    1,
	}
	o.fetches[id] = f
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		// A cancelled download of the same resource may still hold the
		// partial file.
		if prev != nil {
			<-prev.done
		}
		f.rec, f.loaded, f.err = o.download(ctx, it, restriction, f.markStarted)

		o.mu.Lock()
		if o.fetches[id] == f {
			delete(o.fetches, id)
		}
		o.mu.Unlock()
		cancel()
		close(f.done)
	}()
	return f
}

// leave drops one waiter and cancels the download when none is left.
func (o *Orchestrator) leave(f *fetch) {
	o.mu.Lock()
	defer o.mu.Unlock()
	f.refs--
	if f.refs <= 0 && !f.canceled {
		f.canceled = true
		f.cancel()
	}
}

// InFlight returns the number of resources being downloaded.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, f := range o.fetches {
		if !f.canceled {
			n++
		}
	}
	return n
}

// download transfers one resource into its partial file and commits it to
// the store. A stored record makes the request conditional.
func (o *Orchestrator) download(ctx context.Context, it item, restriction models.NetworkRestriction, onStart func()) (*models.ResourceRecord, bool, error) {
	if err := o.global.Acquire(ctx, 1); err != nil {
		return nil, false, err
	}
	defer o.global.Release(1)

	key := it.res.Key
	partial := o.store.PartialPath(key)
	req := models.HTTPRequest{
		Method:             http.MethodGet,
		URL:                key.URL,
		Timeout:            o.cfg.ResourceTimeout,
		NetworkRestriction: restriction,
	}
	resume := true
	if it.existing != nil {
		req.Headers = conditionalHeaders(it.existing)
		resume = false
	}

	st, err := o.transfer(ctx, req, partial, resume, onStart)
	if err == nil && resume && rangeRejected(st) {
		logging.Ctx(ctx).Debug().Str("url", key.URL).Msg("Range rejected, restarting download")
		if rmErr := os.Remove(partial); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, false, rmErr
		}
		st, err = o.transfer(ctx, req, partial, false, onStart)
	}
	if err != nil {
		return nil, false, err
	}
	if st.State == models.DownloadStateFailed {
		return nil, false, st.Error
	}

	opts := store.PutOptions{
		Kind:         it.res.Kind,
		ExpiresAt:    st.ExpiresAt,
		ETag:         st.ETag,
		LastModified: st.LastModified,
	}
	if st.NotModified {
		rec, err := o.store.Refresh(key, opts)
		return rec, false, err
	}

	// A finished download is committed even if the operation was cancelled
	// meanwhile.
	rec, err := o.store.Commit(context.WithoutCancel(ctx), key, partial, opts)
	if err != nil {
		_ = os.Remove(partial)
		return nil, false, err
	}
	return rec, true, nil
}

// transfer runs one download session to its terminal status. onStart runs
// when the session reaches DOWNLOADING.
func (o *Orchestrator) transfer(ctx context.Context, req models.HTTPRequest, path string, resume bool, onStart func()) (models.DownloadStatus, error) {
	s, err := o.downloads.Start(ctx, models.DownloadOptions{
		Request:   req,
		LocalPath: path,
		Resume:    resume,
	})
	if err != nil {
		return models.DownloadStatus{}, err
	}
	var st models.DownloadStatus
	for st = range s.Watch(ctx) {
		if st.State == models.DownloadStateDownloading {
			onStart()
		}
		if st.State.Terminal() {
			return st, nil
		}
	}
	s.Cancel()
	return st, context.Cause(ctx)
}

func rangeRejected(st models.DownloadStatus) bool {
	return st.State == models.DownloadStateFailed &&
		st.Error != nil &&
		st.Error.Type == models.DownloadErrorRange
}

func conditionalHeaders(rec *models.ResourceRecord) map[string]string {
	h := make(map[string]string, 2)
	if rec.ETag != "" {
		h["If-None-Match"] = rec.ETag
	}
	if rec.LastModified != "" {
		h["If-Modified-Since"] = rec.LastModified
	}
	return h
}
