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
	"github.com/tomtom215/tilevault/internal/resolver"
	"github.com/tomtom215/tilevault/internal/store"
)

// TileRegionProgressFunc receives cumulative load progress.
type TileRegionProgressFunc func(models.TileRegionLoadProgress)

// TileRegionFinishedFunc receives the terminal result of a tile region
// operation. err is a *models.TileRegionError. On CANCELED and DISK_FULL
// the region carries the counts reached.
type TileRegionFinishedFunc func(region *models.TileRegion, err error)

// LoadTileRegion creates or updates the tile region id and downloads the
// resources it is missing. Options left empty keep the stored values; a new
// region needs geometry and descriptors. An active operation on id is
// superseded.
func (o *Orchestrator) LoadTileRegion(ctx context.Context, id string, opts models.TileRegionLoadOptions, onProgress TileRegionProgressFunc, onFinished TileRegionFinishedFunc) *Operation[*models.TileRegion] {
	started := time.Now()
	var last models.TileRegionLoadProgress
	finish := func(r *models.TileRegion, err error) (*models.TileRegion, error) {
		err = tileRegionError(err)
		if onFinished != nil {
			onFinished(r, err)
		}
		o.publishTerminal(events.KindTileRegion, id, last, err, started)
		return r, err
	}
	if id == "" {
		return run(o, ctx, "", false, finish, func(*job) (*models.TileRegion, error) {
			return nil, &models.TileRegionError{Type: models.TileRegionErrorOther, Message: "empty tile region id"}
		})
	}

	return run(o, ctx, store.RegionOwner(id), true, finish, func(j *job) (*models.TileRegion, error) {
		r, p, err := o.loadTileRegion(j, id, opts, onProgress)
		last = p
		return r, err
	})
}

func (o *Orchestrator) loadTileRegion(j *job, id string, opts models.TileRegionLoadOptions, onProgress TileRegionProgressFunc) (*models.TileRegion, models.TileRegionLoadProgress, error) {
	var none models.TileRegionLoadProgress
	ctx := j.ctx
	o.waitPrev(j)
	if ctx.Err() != nil {
		return nil, none, context.Cause(ctx)
	}

	existing, err := o.store.GetRegion(id)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, none, err
	}
	geometry, descs := opts.Geometry, opts.Descriptors
	if existing != nil {
		if geometry == nil {
			geometry = existing.Geometry
		}
		if len(descs) == 0 {
			descs = descriptorOptions(existing.Descriptors)
		}
	} else if geometry == nil || len(descs) == 0 {
		return nil, none, &models.TileRegionError{
			Type:    models.TileRegionErrorDoesNotExist,
			Message: "tile region " + id + " does not exist and the load has no geometry or descriptors",
		}
	}

	o.publish(events.New(events.TypeLoadStarted, events.KindTileRegion, id))

	res, err := o.resolver.ResolveRegion(ctx, geometry, descs)
	if err != nil {
		return nil, none, err
	}
	keys := make([]models.ResourceKey, len(res.Resources))
	for i, r := range res.Resources {
		keys[i] = r.Key
	}
	owner := store.RegionOwner(id)
	if err := o.store.SetReferences(owner, keys); err != nil {
		return nil, none, err
	}
	o.holdDescriptors(owner, res.Descriptors)

	out := o.fetchAll(ctx, plan{
		owner:         owner,
		kind:          events.KindTileRegion,
		subject:       id,
		resources:     res.Resources,
		acceptExpired: opts.AcceptExpired,
		restriction:   opts.NetworkRestriction,
		onProgress:    onProgress,
	})

	region := &models.TileRegion{
		ID:                     id,
		RequiredResourceCount:  out.progress.RequiredResourceCount,
		CompletedResourceCount: out.progress.CompletedResourceCount,
		CompletedResourceSize:  out.progress.CompletedResourceSize,
		Expires:                out.expires,
		Descriptors:            res.Descriptors,
		Geometry:               geometry,
		Resources:              keys,
		UpdatedAt:              time.Now().UTC(),
	}
	if existing != nil {
		region.Metadata = existing.Metadata
	}
	if err := o.saveRegion(j, region, opts.Metadata); err != nil {
		return nil, out.progress, err
	}

	logging.Ctx(ctx).Info().
		Str("region", id).
		Int64("required", region.RequiredResourceCount).
		Int64("completed", region.CompletedResourceCount).
		Int64("errored", out.progress.ErroredResourceCount).
		Int("scheduled", out.scheduled).
		AnErr("cause", out.err).
		Msg("Tile region load ended")
	return region, out.progress, out.err
}

// saveRegion writes region unless its owner was removed meanwhile. Without
// new metadata the stored metadata wins, so concurrent metadata updates
// survive a load.
func (o *Orchestrator) saveRegion(j *job, region *models.TileRegion, metadata *models.Value) error {
	if errors.Is(context.Cause(j.ctx), ErrRemoved) {
		return nil
	}
	o.catalogMu.Lock()
	defer o.catalogMu.Unlock()
	if metadata != nil {
		region.Metadata = *metadata
	} else if cur, err := o.store.GetRegion(region.ID); err == nil {
		region.Metadata = cur.Metadata
	}
	return o.store.PutRegion(region)
}

func descriptorOptions(descs []models.TilesetDescriptor) []models.TilesetDescriptorOptions {
	out := make([]models.TilesetDescriptorOptions, len(descs))
	for i, d := range descs {
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

// InvalidateTileRegion revalidates every resource of region id with
// conditional requests. Unchanged resources only get a new expiry. It runs
// after the active operation on id.
func (o *Orchestrator) InvalidateTileRegion(ctx context.Context, id string, onFinished TileRegionFinishedFunc) *Operation[*models.TileRegion] {
	started := time.Now()
	var last models.TileRegionLoadProgress
	finish := func(r *models.TileRegion, err error) (*models.TileRegion, error) {
		err = tileRegionError(err)
		if onFinished != nil {
			onFinished(r, err)
		}
		if err == nil {
			ev := events.New(events.TypeInvalidated, events.KindTileRegion, id)
			ev.Progress = progressEvent(last)
			o.publish(ev)
		}
		o.publishTerminal(events.KindTileRegion, id, last, err, started)
		return r, err
	}
	return run(o, ctx, store.RegionOwner(id), false, finish, func(j *job) (*models.TileRegion, error) {
		o.waitPrev(j)
		if j.ctx.Err() != nil {
			return nil, context.Cause(j.ctx)
		}
		region, err := o.store.GetRegion(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, errNoRegion
			}
			return nil, err
		}

		out := o.fetchAll(j.ctx, plan{
			owner:         store.RegionOwner(id),
			kind:          events.KindTileRegion,
			subject:       id,
			resources:     o.storedResources(region.Resources, models.ResourceKindTilePack),
			acceptExpired: true,
			revalidate:    true,
		})
		last = out.progress
		region.CompletedResourceCount = out.progress.CompletedResourceCount
		region.CompletedResourceSize = out.progress.CompletedResourceSize
		region.Expires = out.expires
		region.UpdatedAt = time.Now().UTC()
		if err := o.saveRegion(j, region, nil); err != nil {
			return nil, err
		}
		return region, out.err
	})
}

// storedResources pairs keys with the kind of their stored record.
func (o *Orchestrator) storedResources(keys []models.ResourceKey, fallback models.ResourceKind) []resolver.Resource {
	out := make([]resolver.Resource, len(keys))
	for i, k := range keys {
		kind := fallback
		if rec, err := o.store.Get(k); err == nil && rec.Kind != "" {
			kind = rec.Kind
		}
		out[i] = resolver.Resource{Key: k, Kind: kind}
	}
	return out
}

// RemoveTileRegion cancels any operation on id, deletes the region from
// the catalog and releases its resources. Removing a missing region is not
// an error.
func (o *Orchestrator) RemoveTileRegion(ctx context.Context, id string) error {
	owner := store.RegionOwner(id)
	if err := o.cancelOwner(ctx, owner, ErrRemoved); err != nil {
		return err
	}

	o.catalogMu.Lock()
	_, getErr := o.store.GetRegion(id)
	err := o.store.DeleteRegion(id)
	o.catalogMu.Unlock()
	if err != nil {
		return err
	}
	if err := o.store.ReleaseReferences(owner); err != nil {
		return err
	}
	o.holdDescriptors(owner, nil)

	if getErr == nil {
		logging.Ctx(ctx).Info().Str("region", id).Msg("Removed tile region")
		o.publish(events.New(events.TypeRemoved, events.KindTileRegion, id))
	}
	return nil
}

// GetTileRegion returns region id or a DOES_NOT_EXIST error.
func (o *Orchestrator) GetTileRegion(id string) (*models.TileRegion, error) {
	r, err := o.store.GetRegion(id)
	if err != nil {
		return nil, tileRegionError(err)
	}
	return r, nil
}

// GetAllTileRegions returns every tile region sorted by id.
func (o *Orchestrator) GetAllTileRegions() ([]*models.TileRegion, error) {
	regions, err := o.store.ListRegions()
	if err != nil {
		return nil, tileRegionError(err)
	}
	return regions, nil
}

// GetTileRegionMetadata returns the metadata of region id.
func (o *Orchestrator) GetTileRegionMetadata(id string) (models.Value, error) {
	r, err := o.GetTileRegion(id)
	if err != nil {
		return models.Null(), err
	}
	return r.Metadata, nil
}

// SetTileRegionMetadata replaces the metadata of region id.
func (o *Orchestrator) SetTileRegionMetadata(id string, metadata models.Value) error {
	o.catalogMu.Lock()
	defer o.catalogMu.Unlock()
	r, err := o.store.GetRegion(id)
	if err != nil {
		return tileRegionError(err)
	}
	r.Metadata = metadata
	r.UpdatedAt = time.Now().UTC()
	if err := o.store.PutRegion(r); err != nil {
		return tileRegionError(err)
	}
	return nil
}

// TileRegionContainsDescriptors reports whether region id already holds
// every descriptor the options resolve to.
func (o *Orchestrator) TileRegionContainsDescriptors(id string, opts []models.TilesetDescriptorOptions) (bool, error) {
	r, err := o.GetTileRegion(id)
	if err != nil {
		return false, err
	}
	have := make(map[string]bool, len(r.Descriptors))
	for _, d := range r.Descriptors {
		have[d.ID] = true
	}
	for _, opt := range opts {
		d, err := resolver.Descriptor(opt)
		if err != nil {
			return false, tileRegionError(err)
		}
		if !have[d.ID] {
			return false, nil
		}
	}
	return true, nil
}
