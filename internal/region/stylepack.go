// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"
	"errors"
	"time"

	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/models"
	"github.com/tomtom215/tilevault/internal/store"
)

// StylePackProgressFunc receives cumulative style pack load progress.
type StylePackProgressFunc func(models.StylePackLoadProgress)

// StylePackFinishedFunc receives the terminal result of a style pack
// operation. err is a *models.StylePackError.
type StylePackFinishedFunc func(pack *models.StylePack, err error)

// LoadStylePack downloads the style document, sprites and glyphs of
// styleURI. An active operation on the same style is superseded.
func (o *Orchestrator) LoadStylePack(ctx context.Context, styleURI string, opts models.StylePackLoadOptions, onProgress StylePackProgressFunc, onFinished StylePackFinishedFunc) *Operation[*models.StylePack] {
	started := time.Now()
	var last models.TileRegionLoadProgress
	finish := func(p *models.StylePack, err error) (*models.StylePack, error) {
		err = stylePackError(err)
		if onFinished != nil {
			onFinished(p, err)
		}
		o.publishTerminal(events.KindStylePack, styleURI, last, err, started)
		return p, err
	}
	return run(o, ctx, store.StylePackOwner(styleURI), true, finish, func(j *job) (*models.StylePack, error) {
		p, prog, err := o.loadStylePack(j, styleURI, opts, onProgress)
		last = prog
		return p, err
	})
}

func (o *Orchestrator) loadStylePack(j *job, styleURI string, opts models.StylePackLoadOptions, onProgress StylePackProgressFunc) (*models.StylePack, models.TileRegionLoadProgress, error) {
	var none models.TileRegionLoadProgress
	ctx := j.ctx
	o.waitPrev(j)
	if ctx.Err() != nil {
		return nil, none, context.Cause(ctx)
	}
	if styleURI == "" {
		return nil, none, &models.StylePackError{Type: models.StylePackErrorOther, Message: "empty style URI"}
	}

	existing, err := o.store.GetStylePack(styleURI)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, none, err
	}
	mode := opts.GlyphsRasterizationMode
	if mode == "" && existing != nil {
		mode = existing.GlyphsRasterizationMode
	}
	if mode == "" {
		mode = models.IdeographsRasterizedLocally
	}
	opts.GlyphsRasterizationMode = mode

	o.publish(events.New(events.TypeLoadStarted, events.KindStylePack, styleURI))

	// A changed style document must be re-read.
	o.resolver.InvalidateStyle(styleURI)
	res, err := o.resolver.ResolveStylePack(ctx, styleURI, opts)
	if err != nil {
		return nil, none, err
	}
	keys := make([]models.ResourceKey, len(res.Resources))
	for i, r := range res.Resources {
		keys[i] = r.Key
	}
	owner := store.StylePackOwner(styleURI)
	if err := o.store.SetReferences(owner, keys); err != nil {
		return nil, none, err
	}

	var progress func(models.TileRegionLoadProgress)
	if onProgress != nil {
		progress = func(p models.TileRegionLoadProgress) {
			onProgress(models.StylePackLoadProgress(p))
		}
	}
	out := o.fetchAll(ctx, plan{
		owner:         owner,
		kind:          events.KindStylePack,
		subject:       styleURI,
		resources:     res.Resources,
		acceptExpired: opts.AcceptExpired,
		restriction:   opts.NetworkRestriction,
		onProgress:    progress,
	})

	pack := &models.StylePack{
		StyleURI:                styleURI,
		GlyphsRasterizationMode: mode,
		RequiredResourceCount:   out.progress.RequiredResourceCount,
		CompletedResourceCount:  out.progress.CompletedResourceCount,
		CompletedResourceSize:   out.progress.CompletedResourceSize,
		Expires:                 out.expires,
		Resources:               keys,
		UpdatedAt:               time.Now().UTC(),
	}
	if existing != nil {
		pack.Metadata = existing.Metadata
	}
	if err := o.saveStylePack(j, pack, opts.Metadata); err != nil {
		return nil, out.progress, err
	}

	logging.Ctx(ctx).Info().
		Str("style", styleURI).
		Int64("required", pack.RequiredResourceCount).
		Int64("completed", pack.CompletedResourceCount).
		Int64("errored", out.progress.ErroredResourceCount).
		Int("scheduled", out.scheduled).
		AnErr("cause", out.err).
		Msg("Style pack load ended")
	return pack, out.progress, out.err
}

func (o *Orchestrator) saveStylePack(j *job, pack *models.StylePack, metadata *models.Value) error {
	if errors.Is(context.Cause(j.ctx), ErrRemoved) {
		return nil
	}
	o.catalogMu.Lock()
	defer o.catalogMu.Unlock()
	if metadata != nil {
		pack.Metadata = *metadata
	} else if cur, err := o.store.GetStylePack(pack.StyleURI); err == nil {
		pack.Metadata = cur.Metadata
	}
	return o.store.PutStylePack(pack)
}

// InvalidateStylePack revalidates every resource of a style pack with
// conditional requests.
func (o *Orchestrator) InvalidateStylePack(ctx context.Context, styleURI string, onFinished StylePackFinishedFunc) *Operation[*models.StylePack] {
	started := time.Now()
	var last models.TileRegionLoadProgress
	finish := func(p *models.StylePack, err error) (*models.StylePack, error) {
		err = stylePackError(err)
		if onFinished != nil {
			onFinished(p, err)
		}
		if err == nil {
			ev := events.New(events.TypeInvalidated, events.KindStylePack, styleURI)
			ev.Progress = progressEvent(last)
			o.publish(ev)
		}
		o.publishTerminal(events.KindStylePack, styleURI, last, err, started)
		return p, err
	}
	return run(o, ctx, store.StylePackOwner(styleURI), false, finish, func(j *job) (*models.StylePack, error) {
		o.waitPrev(j)
		if j.ctx.Err() != nil {
			return nil, context.Cause(j.ctx)
		}
		pack, err := o.store.GetStylePack(styleURI)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errNoStylePack
			}
			return nil, err
		}
		o.resolver.InvalidateStyle(styleURI)

		out := o.fetchAll(j.ctx, plan{
			owner:         store.StylePackOwner(styleURI),
			kind:          events.KindStylePack,
			subject:       styleURI,
			resources:     o.storedResources(pack.Resources, models.ResourceKindOther),
			acceptExpired: true,
			revalidate:    true,
		})
		last = out.progress
		pack.CompletedResourceCount = out.progress.CompletedResourceCount
		pack.CompletedResourceSize = out.progress.CompletedResourceSize
		pack.Expires = out.expires
		pack.UpdatedAt = time.Now().UTC()
		if err := o.saveStylePack(j, pack, nil); err != nil {
			return nil, err
		}
		return pack, out.err
	})
}

// RemoveStylePack cancels any operation on styleURI, deletes the pack from
// the catalog and releases its resources. It is idempotent.
func (o *Orchestrator) RemoveStylePack(ctx context.Context, styleURI string) error {
	owner := store.StylePackOwner(styleURI)
	if err := o.cancelOwner(ctx, owner, ErrRemoved); err != nil {
		return err
	}

	o.catalogMu.Lock()
	_, getErr := o.store.GetStylePack(styleURI)
	err := o.store.DeleteStylePack(styleURI)
	o.catalogMu.Unlock()
	if err != nil {
		return err
	}
	if err := o.store.ReleaseReferences(owner); err != nil {
		return err
	}
	if getErr == nil {
		logging.Ctx(ctx).Info().Str("style", styleURI).Msg("Removed style pack")
		o.publish(events.New(events.TypeRemoved, events.KindStylePack, styleURI))
	}
	return nil
}

// GetStylePack returns the style pack of styleURI or a DOES_NOT_EXIST
// error.
func (o *Orchestrator) GetStylePack(styleURI string) (*models.StylePack, error) {
	p, err := o.store.GetStylePack(styleURI)
	if err != nil {
		return nil, stylePackError(err)
	}
	return p, nil
}

// GetAllStylePacks returns every style pack sorted by style URI.
func (o *Orchestrator) GetAllStylePacks() ([]*models.StylePack, error) {
	packs, err := o.store.ListStylePacks()
	if err != nil {
		return nil, stylePackError(err)
	}
	return packs, nil
}

// GetStylePackMetadata returns the metadata of a style pack.
func (o *Orchestrator) GetStylePackMetadata(styleURI string) (models.Value, error) {
	p, err := o.GetStylePack(styleURI)
	if err != nil {
		return models.Null(), err
	}
	return p.Metadata, nil
}

// SetStylePackMetadata replaces the metadata of a style pack.
func (o *Orchestrator) SetStylePackMetadata(styleURI string, metadata models.Value) error {
	o.catalogMu.Lock()
	defer o.catalogMu.Unlock()
	p, err := o.store.GetStylePack(styleURI)
	if err != nil {
		return stylePackError(err)
	}
	p.Metadata = metadata
	p.UpdatedAt = time.Now().UTC()
	if err := o.store.PutStylePack(p); err != nil {
		return stylePackError(err)
	}
	return nil
}
