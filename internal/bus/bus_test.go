// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package bus

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func TestInProcessRoundTrip(t *testing.T) {
	t.Parallel()

	b := NewInProcess(nil)
	defer b.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := b.Subscribe(ctx, TopicLocationUpdates)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	update := models.LocationUpdate{
		AgentID:    "agent-1",
		SiteID:     "site-1",
		Coordinate: models.GeoCoordinate{Latitude: 5, Longitude: 5},
		Timestamp:  time.Now().UTC(),
	}
	msg, err := NewLocationMessage(update)
	if err != nil {
		t.Fatalf("NewLocationMessage: %v", err)
	}
	if err := b.Publish(ctx, TopicLocationUpdates, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-msgs:
		got.Ack()
		decoded, err := DecodeLocationMessage(got)
		if err != nil {
			t.Fatalf("DecodeLocationMessage: %v", err)
		}
		if decoded.AgentID != "agent-1" || decoded.Coordinate.Latitude != 5 {
			t.Errorf("decoded = %+v", decoded)
		}
		if got.Metadata.Get(MetaAgentID) != "agent-1" {
			t.Errorf("metadata agent_id = %q", got.Metadata.Get(MetaAgentID))
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for message")
	}
}

func TestEventMessageRoundTrip(t *testing.T) {
	t.Parallel()

	event := models.GeofenceEvent{
		ID:         uuid.NewString(),
		AgentID:    "agent-1",
		ZoneID:     "z1",
		SiteID:     "site-1",
		EventType:  models.EventEnter,
		Coordinate: models.GeoCoordinate{Latitude: 1, Longitude: 2},
		Timestamp:  time.Now().UTC(),
		Metadata:   map[string]string{"rule_id": "r1"},
	}

	msg, err := NewEventMessage(event)
	if err != nil {
		t.Fatalf("NewEventMessage: %v", err)
	}
	if msg.UUID != event.ID {
		t.Errorf("message UUID = %q, want event ID %q", msg.UUID, event.ID)
	}
	if msg.Metadata.Get(MetaEventType) != "ENTER" {
		t.Errorf("event_type metadata = %q", msg.Metadata.Get(MetaEventType))
	}

	decoded, err := DecodeEventMessage(msg)
	if err != nil {
		t.Fatalf("DecodeEventMessage: %v", err)
	}
	if decoded.ZoneID != "z1" || decoded.Metadata["rule_id"] != "r1" {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := DecodeLocationMessage(message.NewMessage("x", []byte("{"))); err == nil {
		t.Error("expected error for malformed payload")
	}
	if _, err := DecodeLocationMessage(message.NewMessage("x", []byte("{}"))); err == nil {
		t.Error("expected error for missing agent_id")
	}
	if _, err := DecodeEventMessage(message.NewMessage("x", []byte("{}"))); err == nil {
		t.Error("expected error for missing event fields")
	}
}

func TestRouterDeliversAndRetries(t *testing.T) {
	t.Parallel()

	b := NewInProcess(nil)
	defer b.Close() //nolint:errcheck

	cfg := DefaultRouterConfig()
	cfg.RetryInitialInterval = time.Millisecond
	router, err := NewRouter(cfg, b, nil)
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}

	attempts := 0
	done := make(chan struct{})
	router.AddNoPublisherHandler("flaky", TopicGeofenceEvents, func(msg *message.Message) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		close(done)
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() {
		if err := router.Run(ctx); err != nil {
			t.Errorf("router.Run: %v", err)
		}
	}()
	<-router.Running()

	msg, err := NewEventMessage(models.GeofenceEvent{
		ID:        uuid.NewString(),
		AgentID:   "agent-1",
		ZoneID:    "z1",
		SiteID:    "site-1",
		EventType: models.EventExit,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("NewEventMessage: %v", err)
	}
	if err := b.Publish(ctx, TopicGeofenceEvents, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case <-done:
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	case <-ctx.Done():
		t.Fatal("handler never succeeded")
	}
}

func TestEmbeddedNATSRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("embedded NATS server is slow to start")
	}

	cfg := &config.NATSConfig{
		StoreDir:           t.TempDir(),
		MaxMemory:          64 << 20,
		MaxStore:           256 << 20,
		DurableName:        "test-durable",
		QueueGroup:         "test-group",
		RouterCloseTimeout: 10 * time.Second,
	}

	srv, err := StartEmbeddedServer(cfg)
	if err != nil {
		t.Fatalf("StartEmbeddedServer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	}()

	if !srv.IsRunning() {
		t.Fatal("server not running")
	}

	cfg.URL = srv.ClientURL()
	b, err := NewNATS(cfg, nil)
	if err != nil {
		t.Fatalf("NewNATS: %v", err)
	}
	defer b.Close() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	msgs, err := b.Subscribe(ctx, TopicGeofenceEvents)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	event := models.GeofenceEvent{
		ID:        uuid.NewString(),
		AgentID:   "agent-1",
		ZoneID:    "z1",
		SiteID:    "site-1",
		EventType: models.EventEnter,
		Timestamp: time.Now().UTC(),
	}
	msg, err := NewEventMessage(event)
	if err != nil {
		t.Fatalf("NewEventMessage: %v", err)
	}
	if err := b.Publish(ctx, TopicGeofenceEvents, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-msgs:
		got.Ack()
		decoded, err := DecodeEventMessage(got)
		if err != nil {
			t.Fatalf("DecodeEventMessage: %v", err)
		}
		if decoded.ID != event.ID {
			t.Errorf("decoded.ID = %q, want %q", decoded.ID, event.ID)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for JetStream delivery")
	}
}
