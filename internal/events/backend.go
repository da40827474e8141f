// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
)

// Bus holds the Watermill publisher and subscriber of one backend.
type Bus struct {
	cfg        Config
	publisher  message.Publisher
	subscriber message.Subscriber
	server     *EmbeddedServer
	sink       *Publisher
}

// Open connects the configured backend. The none backend returns a Bus
// whose Sink discards events.
func Open(cfg Config, logger watermill.LoggerAdapter) (*Bus, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	b := &Bus{cfg: cfg}
	switch cfg.Backend {
	case BackendNone:
		return b, nil
	case BackendGoChannel:
		ch := gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: cfg.BufferSize,
		}, logger)
		b.publisher, b.subscriber = ch, ch
	case BackendNATS:
		if err := b.openNATS(logger); err != nil {
			_ = b.Close()
			return nil, err
		}
	}
	b.sink = NewPublisher(b.publisher, cfg.Topic, cfg.Breaker)
	return b, nil
}

func (b *Bus) openNATS(logger watermill.LoggerAdapter) error {
	cfg := b.cfg.NATS
	url := cfg.URL
	if cfg.Embedded {
		srv, err := NewEmbeddedServer(cfg.Host, cfg.Port)
		if err != nil {
			return err
		}
		b.server = srv
		url = srv.ClientURL()
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("tilevault"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream:   wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return fmt.Errorf("create NATS publisher: %w", err)
	}
	b.publisher = pub

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              url,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: 1,
		AckWaitTimeout:   30 * time.Second,
		CloseTimeout:     10 * time.Second,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream:        wmNats.JetStreamConfig{Disabled: true},
	}, logger)
	if err != nil {
		return fmt.Errorf("create NATS subscriber: %w", err)
	}
	b.subscriber = sub
	return nil
}

// Sink returns the event sink publishing to the bus topic.
func (b *Bus) Sink() Sink {
	if b.sink == nil {
		return Discard
	}
	return b.sink
}

// Publisher returns the bus publisher, or nil for the none backend.
func (b *Bus) Publisher() *Publisher { return b.sink }

// Subscriber returns the Watermill subscriber, or nil for the none backend.
func (b *Bus) Subscriber() message.Subscriber { return b.subscriber }

// Topic returns the configured topic.
func (b *Bus) Topic() string { return b.cfg.Topic }

// Backend returns the configured backend name.
func (b *Bus) Backend() string { return b.cfg.Backend }

// Forward relays bus events to sink until ctx ends. With the none backend
// it only waits for ctx.
func (b *Bus) Forward(ctx context.Context, sink Sink) error {
	if b.subscriber == nil {
		<-ctx.Done()
		return nil
	}
	return Forward(ctx, b.subscriber, b.cfg.Topic, sink)
}

// Close closes the publisher, subscriber and embedded server.
func (b *Bus) Close() error {
	var errs []error
	if b.sink != nil {
		_ = b.sink.Close()
	}
	if b.publisher != nil {
		if err := b.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close publisher: %w", err))
		}
	}
	// gochannel uses one value for both sides.
	if b.subscriber != nil && any(b.subscriber) != any(b.publisher) {
		if err := b.subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscriber: %w", err))
		}
	}
	if b.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := b.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown NATS server: %w", err))
		}
	}
	return errors.Join(errs...)
}
