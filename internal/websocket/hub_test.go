// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package websocket

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tilevault/internal/events"
	"github.com/tomtom215/tilevault/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// startHub runs a hub until the test ends.
func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = hub.RunWithContext(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

// createTestClient creates a client without a connection
func createTestClient(hub *Hub) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message, 256)}
}

func finishedEvent(subject string) events.Event {
	return events.New(events.TypeLoadFinished, events.KindTileRegion, subject)
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	if hub.clients == nil {
		t.Fatal("clients map not initialized")
	}
	if cap(hub.broadcast) != broadcastBuffer {
		t.Errorf("broadcast capacity = %d, want %d", cap(hub.broadcast), broadcastBuffer)
	}
	if hub.GetClientCount() != 0 {
		t.Error("new hub should have no clients")
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub()
	c := createTestClient(hub)

	if !hub.Register(c) {
		t.Fatal("Register refused on a fresh hub")
	}
	if hub.GetClientCount() != 1 {
		t.Fatalf("count = %d, want 1", hub.GetClientCount())
	}

	hub.Unregister(c)
	if hub.GetClientCount() != 0 {
		t.Fatalf("count = %d, want 0", hub.GetClientCount())
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed after Unregister")
	}

	// A second Unregister must not close the channel twice.
	hub.Unregister(c)
}

func TestHub_PublishBroadcasts(t *testing.T) {
	hub := startHub(t)
	a, b := createTestClient(hub), createTestClient(hub)
	hub.Register(a)
	hub.Register(b)

	ev := finishedEvent("paris")
	if err := hub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		if msg.Type != MessageTypeEvent {
			t.Errorf("type = %q, want %q", msg.Type, MessageTypeEvent)
		}
		got, ok := msg.Data.(events.Event)
		if !ok || got.ID != ev.ID {
			t.Errorf("data = %#v, want event %s", msg.Data, ev.ID)
		}
	}
}

func TestHub_SubscriptionFilters(t *testing.T) {
	tests := []struct {
		name string
		sub  Subscription
		ev   events.Event
		want bool
	}{
		{"default passes finished", Subscription{}, finishedEvent("paris"), true},
		{"default skips progress", Subscription{},
			events.New(events.TypeLoadProgress, events.KindTileRegion, "paris"), false},
		{"progress opt in", Subscription{Progress: true},
			events.New(events.TypeLoadProgress, events.KindTileRegion, "paris"), true},
		{"kind match", Subscription{Kinds: []events.Kind{events.KindTileRegion}}, finishedEvent("paris"), true},
		{"kind mismatch", Subscription{Kinds: []events.Kind{events.KindStylePack}}, finishedEvent("paris"), false},
		{"subject match", Subscription{Subjects: []string{"berlin", "paris"}}, finishedEvent("paris"), true},
		{"subject mismatch", Subscription{Subjects: []string{"berlin"}}, finishedEvent("paris"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := createTestClient(nil)
			c.Subscribe(tt.sub)
			if got := c.wants(tt.ev); got != tt.want {
				t.Errorf("wants = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHub_BroadcastSkipsUnsubscribed(t *testing.T) {
	hub := startHub(t)
	paris, berlin := createTestClient(hub), createTestClient(hub)
	paris.Subscribe(Subscription{Subjects: []string{"paris"}})
	berlin.Subscribe(Subscription{Subjects: []string{"berlin"}})
	hub.Register(paris)
	hub.Register(berlin)

	_ = hub.Publish(context.Background(), finishedEvent("paris"))

	receive(t, paris)
	expectNothing(t, berlin)
}

func TestHub_SlowClientDropped(t *testing.T) {
	hub := NewHub()
	slow := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message)}
	fast := createTestClient(hub)
	hub.Register(slow)
	hub.Register(fast)

	hub.broadcastToClients(finishedEvent("paris"))

	if hub.GetClientCount() != 1 {
		t.Fatalf("count = %d, want 1", hub.GetClientCount())
	}
	if _, ok := <-slow.send; ok {
		t.Error("slow client channel should be closed")
	}
	receive(t, fast)
}

func TestHub_PublishDropsWhenFull(t *testing.T) {
	hub := NewHub()
	for i := 0; i < broadcastBuffer+10; i++ {
		if err := hub.Publish(context.Background(), finishedEvent("paris")); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if len(hub.broadcast) != broadcastBuffer {
		t.Errorf("queued = %d, want %d", len(hub.broadcast), broadcastBuffer)
	}
}

func TestHub_RunWithContext(t *testing.T) {
	t.Run("returns on cancel", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- hub.RunWithContext(ctx) }()

		cancel()
		select {
		case err := <-errCh:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("err = %v, want context.Canceled", err)
			}
		case <-time.After(time.Second):
			t.Fatal("RunWithContext did not return")
		}
	})

	t.Run("returns on deadline", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		errCh := make(chan error, 1)
		go func() { errCh <- hub.RunWithContext(ctx) }()

		select {
		case err := <-errCh:
			if !errors.Is(err, context.DeadlineExceeded) {
				t.Errorf("err = %v, want context.DeadlineExceeded", err)
			}
		case <-time.After(time.Second):
			t.Fatal("RunWithContext did not return")
		}
	})

	t.Run("closes clients and refuses new ones until restarted", func(t *testing.T) {
		hub := NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() { errCh <- hub.RunWithContext(ctx) }()

		clients := []*Client{createTestClient(hub), createTestClient(hub), createTestClient(hub)}
		for _, c := range clients {
			hub.Register(c)
		}
		cancel()
		<-errCh

		if hub.GetClientCount() != 0 {
			t.Errorf("count = %d after shutdown, want 0", hub.GetClientCount())
		}
		for _, c := range clients {
			if _, ok := <-c.send; ok {
				t.Error("client channel should be closed")
			}
		}
		if hub.Register(createTestClient(hub)) {
			t.Error("Register should fail on a stopped hub")
		}

		ctx2, cancel2 := context.WithCancel(context.Background())
		defer cancel2()
		go func() { errCh <- hub.RunWithContext(ctx2) }()
		deadline := time.Now().Add(time.Second)
		for !hub.Register(createTestClient(hub)) {
			if time.Now().After(deadline) {
				t.Fatal("hub did not accept clients after restart")
			}
			time.Sleep(5 * time.Millisecond)
		}
		cancel2()
		<-errCh
	})
}

func TestGetShutdownReason(t *testing.T) {
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	expired, cancel2 := context.WithTimeout(context.Background(), -time.Second)
	defer cancel2()

	tests := []struct {
		name string
		ctx  context.Context
		want ShutdownReason
	}{
		{"canceled", canceled, ShutdownReasonContextCanceled},
		{"deadline", expired, ShutdownReasonContextDeadline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := getShutdownReason(tt.ctx); got != tt.want {
				t.Errorf("getShutdownReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMarshalMessage(t *testing.T) {
	ev := finishedEvent("paris")
	data, err := MarshalMessage(Message{Type: MessageTypeEvent, Data: ev})
	if err != nil {
		t.Fatalf("MarshalMessage: %v", err)
	}

	var decoded struct {
		Type string       `json:"type"`
		Data events.Event `json:"data"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Type != MessageTypeEvent || decoded.Data.ID != ev.ID || decoded.Data.Subject != "paris" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func BenchmarkHub_Broadcast(b *testing.B) {
	hub := NewHub()
	for i := 0; i < 10; i++ {
		c := &Client{id: clientIDCounter.Add(1), hub: hub, send: make(chan Message, b.N+1)}
		hub.Register(c)
	}
	ev := finishedEvent("paris")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.broadcastToClients(ev)
	}
}
