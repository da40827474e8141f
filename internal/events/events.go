// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind names what an event is about.
type Kind string

const (
	KindTileRegion Kind = "tile_region"
	KindStylePack  Kind = "style_pack"
)

// Type names what happened.
type Type string

const (
	TypeLoadStarted  Type = "load.started"
	TypeLoadProgress Type = "load.progress"
	TypeLoadFinished Type = "load.finished"
	TypeLoadFailed   Type = "load.failed"
	TypeLoadCanceled Type = "load.canceled"
	TypeRemoved      Type = "removed"
	TypeInvalidated  Type = "invalidated"
)

// Progress mirrors the load progress records.
type Progress struct {
	RequiredResourceCount  int64 `json:"required_resource_count"`
	CompletedResourceCount int64 `json:"completed_resource_count"`
	CompletedResourceSize  int64 `json:"completed_resource_size"`
	ErroredResourceCount   int64 `json:"errored_resource_count"`
	LoadedResourceCount    int64 `json:"loaded_resource_count"`
	LoadedResourceSize     int64 `json:"loaded_resource_size"`
}

// Event is one notification.
type Event struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Kind Kind   `json:"kind"`
	// Subject is the region id or style URI.
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Progress  *Progress `json:"progress,omitempty"`
	ErrorType string    `json:"error_type,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// New returns an event with a fresh id and the current time.
func New(typ Type, kind Kind, subject string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Kind:      kind,
		Subject:   subject,
		Timestamp: time.Now().UTC(),
	}
}

// Sink receives events.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(context.Context, Event) error { return nil })

// Multi publishes to every sink and joins their errors.
type Multi []Sink

// Publish delivers ev to each sink in order.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
