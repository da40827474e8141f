// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tilevault/internal/async"
	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/resolver"
)

// job is one operation on an owner. Jobs of one owner form a chain: each
// starts after its predecessor finished.
type job struct {
	owner  string
	ctx    context.Context
	cancel context.CancelCauseFunc
	done   chan struct{}
	prev   *job // guarded by Orchestrator.mu
}

// cancelChain cancels j and every unfinished predecessor. Caller holds
// Orchestrator.mu.
func (j *job) cancelChain(cause error) {
	for c := j; c != nil; c = c.prev {
		c.cancel(cause)
	}
}

// begin registers a job for owner. With supersede the owner's pending jobs
// are cancelled.
func (o *Orchestrator) begin(ctx context.Context, owner string, supersede bool) (*job, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrClosed
	}

	base := logging.ContextWithOwner(o.baseCtx, owner)
	if id := logging.CorrelationIDFromContext(ctx); id != "" {
		base = logging.ContextWithCorrelationID(base, id)
	}
	jctx, cancel := context.WithCancelCause(base)
	j := &job{
		owner:  owner,
		ctx:    jctx,
		cancel: cancel,
		done:   make(chan struct{}),
		prev:   o.jobs[owner],
	}
	if supersede && j.prev != nil {
		j.prev.cancelChain(ErrSuperseded)
	}
	o.jobs[owner] = j
	o.wg.Add(1)
	return j, nil
}

// waitPrev blocks until the predecessor of j finished or j is cancelled.
// A cancelled j keeps its predecessor, so end holds back successors until
// the whole chain ahead of them finished.
func (o *Orchestrator) waitPrev(j *job) {
	o.mu.Lock()
	prev := j.prev
	o.mu.Unlock()
	if prev == nil {
		return
	}
	select {
	case <-prev.done:
	case <-j.ctx.Done():
		return
	}
	o.mu.Lock()
	j.prev = nil
	o.mu.Unlock()
}

func (o *Orchestrator) end(j *job) {
	o.mu.Lock()
	prev := j.prev
	o.mu.Unlock()
	if prev != nil {
		<-prev.done
	}

	o.mu.Lock()
	if o.jobs[j.owner] == j {
		delete(o.jobs, j.owner)
	}
	j.prev = nil
	o.mu.Unlock()
	j.cancel(nil)
	close(j.done)
	o.wg.Done()
}

// cancelOwner cancels the pending jobs of owner and waits for the last one.
func (o *Orchestrator) cancelOwner(ctx context.Context, owner string, cause error) error {
	o.mu.Lock()
	j := o.jobs[owner]
	if j != nil {
		j.cancelChain(cause)
	}
	o.mu.Unlock()
	if j == nil {
		return nil
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run starts body as a job of owner and resolves the returned operation
// with its result. finish runs exactly once, before the operation resolves
// and before the next job of owner starts.
func run[T any](o *Orchestrator, ctx context.Context, owner string, supersede bool, finish func(T, error) (T, error), body func(j *job) (T, error)) *Operation[T] {
	op := newOperation[T]()
	j, err := o.begin(ctx, owner, supersede)
	if err != nil {
		var zero T
		val, err := finish(zero, err)
		op.future.Resolve(val, err)
		return op
	}
	op.job = j

	go func() {
		defer o.end(j)
		val, err := body(j)
		val, err = finish(val, err)
		op.future.Resolve(val, err)
	}()
	return op
}

// item is one resource to fetch. existing is the stored record, if any,
// used for conditional requests.
type item struct {
	res      resolver.Resource
	existing *models.ResourceRecord
}

// plan describes the resources of one operation.
type plan struct {
	owner         string
	kind          events.Kind
	subject       string
	resources     []resolver.Resource
	acceptExpired bool
	// revalidate fetches every resource, conditionally when stored.
	revalidate  bool
	restriction models.NetworkRestriction
	onProgress  func(models.TileRegionLoadProgress)
}

// result is the outcome of fetchAll.
type result struct {
	progress  models.TileRegionLoadProgress
	expires   *time.Time
	scheduled int
	// err is a fatal error: a full disk or the job's cancellation cause.
	err error
}

// tracker accumulates progress and delivers coalesced snapshots.
type tracker struct {
	mu       sync.Mutex
	progress models.TileRegionLoadProgress
	expires  *time.Time
	mailbox  *async.Mailbox[models.TileRegionLoadProgress]
}

func (t *tracker) noteExpiry(rec *models.ResourceRecord) {
	if rec == nil || rec.ExpiresAt == nil {
		return
	}
	if t.expires == nil || rec.ExpiresAt.Before(*t.expires) {
		e := *rec.ExpiresAt
		t.expires = &e
	}
}

// record applies fn and posts the new snapshot. Posting under the lock
// keeps delivered snapshots monotonic.
func (t *tracker) record(rec *models.ResourceRecord, fn func(*models.TileRegionLoadProgress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.progress)
	t.noteExpiry(rec)
	t.mailbox.Post(t.progress)
}

// post delivers the current snapshot again, when a transfer starts.
func (t *tracker) post() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mailbox.Post(t.progress)
}

// fetchAll fetches the delta of p and returns the final counts. Progress
// delivery has finished when it returns.
func (o *Orchestrator) fetchAll(ctx context.Context, p plan) result {
	t := &tracker{}
	t.mailbox = async.NewMailbox(func(snap models.TileRegionLoadProgress) {
		if p.onProgress != nil {
			p.onProgress(snap)
		}
		ev := events.New(events.TypeLoadProgress, p.kind, p.subject)
		ev.Progress = progressEvent(snap)
		o.publish(ev)
	})
	defer t.mailbox.Close()

	now := time.Now()
	var pending []item
	t.progress.RequiredResourceCount = int64(len(p.resources))
	for _, r := range p.resources {
		rec, err := o.store.Get(r.Key)
		if err != nil {
			pending = append(pending, item{res: r})
			continue
		}
		if !p.revalidate && rec.Usable(now, p.acceptExpired) {
			t.progress.CompletedResourceCount++
			t.progress.CompletedResourceSize += rec.SizeBytes
			t.noteExpiry(rec)
			if err := o.store.Touch(r.Key); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Str("url", r.Key.URL).Msg("Touch failed")
			}
			continue
		}
		pending = append(pending, item{res: r, existing: rec})
	}
	t.mailbox.Post(t.progress)
	metrics.LoadResourcesScheduled.WithLabelValues(string(p.kind)).Add(float64(len(pending)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxFetchesPerLoad)
	for _, it := range pending {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			rec, loaded, err := o.fetch(gctx, it, p.restriction, t.post)
			switch {
			case err == nil:
				t.record(rec, func(pr *models.TileRegionLoadProgress) {
					pr.CompletedResourceCount++
					pr.CompletedResourceSize += rec.SizeBytes
					if loaded {
						pr.LoadedResourceCount++
						pr.LoadedResourceSize += rec.SizeBytes
					}
				})
			case isDiskFull(err):
				return err
			case gctx.Err() != nil:
			default:
				logging.Ctx(ctx).Debug().Err(err).Str("url", it.res.Key.URL).Msg("Resource fetch failed")
				keep := it.existing != nil && it.existing.Usable(time.Now(), p.acceptExpired || p.revalidate)
				var kept *models.ResourceRecord
				if keep {
					kept = it.existing
				}
				t.record(kept, func(pr *models.TileRegionLoadProgress) {
					pr.ErroredResourceCount++
					if keep {
						pr.CompletedResourceCount++
						pr.CompletedResourceSize += it.existing.SizeBytes
					}
				})
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = context.Cause(ctx)
	}

	t.mailbox.Flush()
	t.mu.Lock()
	defer t.mu.Unlock()
	return result{
		progress:  t.progress,
		expires:   t.expires,
		scheduled: len(pending),
		err:       err,
	}
}
