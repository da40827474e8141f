// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/tilevault/internal/events"
)

// ErrSubscriptionClosed is returned when the bus closes the subscription
// while the service is still wanted. Suture restarts the forwarder.
var ErrSubscriptionClosed = errors.New("event subscription closed")

// Relay is satisfied by *events.Bus.
type Relay interface {
	Forward(ctx context.Context, sink events.Sink) error
}

// EventForwarderService relays events from the bus (gochannel or NATS) to a
// local sink, normally the WebSocket hub. With NATS, several tilevault
// instances publishing to one topic all reach every connected client.
type EventForwarderService struct {
	relay Relay
	sink  events.Sink
	name  string
}

// NewEventForwarderService forwards relay's events to sink.
func NewEventForwarderService(relay Relay, sink events.Sink) *EventForwarderService {
	return &EventForwarderService{
		relay: relay,
		sink:  sink,
		name:  "event-forwarder",
	}
}

// Serve implements suture.Service.
func (s *EventForwarderService) Serve(ctx context.Context) error {
	if err := s.relay.Forward(ctx, s.sink); err != nil {
		return fmt.Errorf("event forwarder failed: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return ErrSubscriptionClosed
}

func (s *EventForwarderService) String() string {
	return s.name
}
