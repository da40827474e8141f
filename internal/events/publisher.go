// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tilevault/internal/logging"
	"github.com/tomtom215/tilevault/internal/metrics"
)

// ErrPublisherClosed is returned by Publish after Close.
var ErrPublisherClosed = errors.New("event publisher is closed")

// Publisher is a Sink writing events to a Watermill topic.
type Publisher struct {
	publisher message.Publisher
	topic     string
	breaker   *gobreaker.CircuitBreaker[any]

	mu     sync.RWMutex
	closed bool
}

// NewPublisher wraps pub. Publishing goes through a circuit breaker named
// after the topic.
func NewPublisher(pub message.Publisher, topic string, bc BreakerConfig) *Publisher {
	return &Publisher{
		publisher: pub,
		topic:     topic,
		breaker:   newBreaker("events:"+topic, bc),
	}
}

func newBreaker(name string, bc BreakerConfig) *gobreaker.CircuitBreaker[any] {
	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.RecordCircuitBreakerTransition(name, from.String(), to.String())
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Event publisher circuit breaker state changed")
		},
	})
}

// Publish encodes ev as JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return ErrPublisherClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := message.NewMessage(ev.ID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(ev.Type))
	msg.Metadata.Set("kind", string(ev.Kind))
	msg.Metadata.Set("subject", ev.Subject)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.ID)

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(p.topic, msg)
	})
	metrics.RecordEventPublished(string(ev.Type), err)
	if err != nil {
		return fmt.Errorf("publish %s event: %w", ev.Type, err)
	}
	return nil
}

// BreakerState returns the publisher's circuit breaker state name.
func (p *Publisher) BreakerState() string {
	return p.breaker.State().String()
}

// Close marks the publisher closed. The underlying Watermill publisher is
// owned by the Bus.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Decode reads an event from a message published by Publisher.
func Decode(msg *message.Message) (Event, error) {
	var ev Event
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		return Event{}, fmt.Errorf("decode event %s: %w", msg.UUID, err)
	}
	return ev, nil
}

// Forward subscribes to topic and publishes every decoded event to sink
// until ctx ends or the subscription closes. Undecodable messages and sink
// failures are logged and acknowledged.
func Forward(ctx context.Context, sub message.Subscriber, topic string, sink Sink) error {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}

	log := logging.WithComponent("events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			ev, err := Decode(msg)
			if err != nil {
				log.Warn().Err(err).Msg("Dropping undecodable event")
				msg.Ack()
				continue
			}
			if err := sink.Publish(ctx, ev); err != nil {
				log.Debug().Err(err).Str("type", string(ev.Type)).Msg("Event sink failed")
			}
			msg.Ack()
		}
	}
}
