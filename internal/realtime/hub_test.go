// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package realtime

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// startHub runs a hub with default tuning until the test ends.
func startHub(t *testing.T, queue *OfflineQueue) *Hub {
	t.Helper()
	return startHubCfg(t, config.RealtimeConfig{}, queue)
}

func startHubCfg(t *testing.T, cfg config.RealtimeConfig, queue *OfflineQueue) *Hub {
	t.Helper()
	hub := NewHub(cfg, queue)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func register(t *testing.T, hub *Hub, identity models.Identity) *Client {
	t.Helper()
	client := NewClient(hub, nil, identity)
	hub.Register <- client
	waitFor(t, func() bool { return hub.IsOnline(identity.UserID) })
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func recvMessage(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestSendToUserOnline(t *testing.T) {
	hub := startHub(t, nil)
	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent"})

	hub.SendToUser("u1", EventNotification, map[string]string{"title": "shift change"})

	msg := recvMessage(t, client)
	if msg.Event != EventNotification {
		t.Errorf("Event = %q, want %q", msg.Event, EventNotification)
	}
}

func TestAutoJoinedRooms(t *testing.T) {
	hub := startHub(t, nil)
	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent", SiteID: "s1"})

	for _, room := range []string{
		models.UserRoom("u1"),
		models.RoleRoom("agent"),
		models.SiteRoom("s1"),
	} {
		if hub.RoomMembers(room) != 1 {
			t.Errorf("RoomMembers(%q) = %d, want 1", room, hub.RoomMembers(room))
		}
	}

	hub.BroadcastToSite("s1", EventGeofence, map[string]string{"zone": "z1"})
	msg := recvMessage(t, client)
	if msg.Event != EventGeofence {
		t.Errorf("Event = %q, want %q", msg.Event, EventGeofence)
	}

	// Other sites stay quiet.
	hub.BroadcastToSite("s2", EventGeofence, nil)
	select {
	case msg := <-client.send:
		t.Errorf("unexpected message for other site: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBroadcastToRoleReachesAllMembers(t *testing.T) {
	hub := startHub(t, nil)
	a := register(t, hub, models.Identity{UserID: "u1", Role: "supervisor"})
	b := register(t, hub, models.Identity{UserID: "u2", Role: "supervisor"})
	other := register(t, hub, models.Identity{UserID: "u3", Role: "agent"})

	hub.BroadcastToRole("supervisor", EventNotification, "all hands")

	// Supervisors also receive presence events for each connect; skip
	// past those to the broadcast itself.
	for _, c := range []*Client{a, b} {
		for {
			msg := recvMessage(t, c)
			if msg.Event == EventNotification {
				break
			}
			if msg.Event != EventPresence {
				t.Fatalf("unexpected event %q", msg.Event)
			}
		}
	}
	select {
	case msg := <-other.send:
		t.Errorf("agent received supervisor broadcast: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOfflineMessagesFlushInOrder(t *testing.T) {
	queue, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	hub := startHub(t, queue)

	// User is offline; messages park in the queue.
	for _, title := range []string{"first", "second", "third"} {
		hub.SendToUser("u1", EventNotification, map[string]string{"title": title})
	}
	waitFor(t, func() bool { return queue.Len() == 3 })

	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent"})

	for _, want := range []string{"first", "second", "third"} {
		msg := recvMessage(t, client)
		raw, ok := msg.Data.(json.RawMessage)
		if !ok {
			t.Fatalf("flushed data type = %T", msg.Data)
		}
		var payload map[string]string
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("unmarshal flushed payload: %v", err)
		}
		if payload["title"] != want {
			t.Errorf("flush order: got %q, want %q", payload["title"], want)
		}
	}
	if queue.Len() != 0 {
		t.Errorf("queue.Len() = %d after flush, want 0", queue.Len())
	}
}

func TestPresenceTransitions(t *testing.T) {
	hub := startHub(t, nil)
	supervisor := register(t, hub, models.Identity{UserID: "sup1", Role: "supervisor"})

	// Supervisor's own connect is the first online transition.
	if msg := recvMessage(t, supervisor); msg.Event != EventPresence {
		t.Fatalf("expected own presence, got %+v", msg)
	}

	agent := register(t, hub, models.Identity{UserID: "a1", Role: "agent"})
	msg := recvMessage(t, supervisor)
	p, ok := msg.Data.(Presence)
	if !ok || p.UserID != "a1" || p.Status != models.PresenceOnline {
		t.Fatalf("expected a1 online presence, got %+v", msg)
	}

	// A second connection for the same user is not a transition.
	agent2 := register(t, hub, models.Identity{UserID: "a1", Role: "agent"})
	_ = agent2
	select {
	case msg := <-supervisor.send:
		t.Fatalf("unexpected presence for second connection: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	// Dropping one of two connections is not a transition either.
	hub.Unregister <- agent
	select {
	case msg := <-supervisor.send:
		t.Fatalf("unexpected presence while still connected: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	// Last connection closing is the offline transition.
	hub.Unregister <- agent2
	msg = recvMessage(t, supervisor)
	p, ok = msg.Data.(Presence)
	if !ok || p.UserID != "a1" || p.Status != models.PresenceOffline {
		t.Fatalf("expected a1 offline presence, got %+v", msg)
	}
}

func TestUnregisterCleansRooms(t *testing.T) {
	hub := startHub(t, nil)
	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent", SiteID: "s1"})

	hub.Unregister <- client
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	for _, room := range []string{
		models.UserRoom("u1"),
		models.RoleRoom("agent"),
		models.SiteRoom("s1"),
	} {
		if n := hub.RoomMembers(room); n != 0 {
			t.Errorf("RoomMembers(%q) = %d after unregister, want 0", room, n)
		}
	}
}

func TestJoinAndLeaveExtraRoom(t *testing.T) {
	hub := startHub(t, nil)
	client := register(t, hub, models.Identity{UserID: "u1", Role: "supervisor"})

	hub.JoinRoom(client, models.SiteRoom("s9"))
	if hub.RoomMembers(models.SiteRoom("s9")) != 1 {
		t.Fatal("JoinRoom did not add member")
	}

	hub.BroadcastToSite("s9", EventLocation, nil)
	// Skip the presence message from the client's own connect.
	for {
		msg := recvMessage(t, client)
		if msg.Event == EventLocation {
			break
		}
	}

	hub.LeaveRoom(client, models.SiteRoom("s9"))
	if hub.RoomMembers(models.SiteRoom("s9")) != 0 {
		t.Error("LeaveRoom did not remove member")
	}
}

func TestReconnectFlushReparksOverflow(t *testing.T) {
	queue, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	hub := startHubCfg(t, config.RealtimeConfig{SendBufferSize: 8}, queue)

	for i := 0; i < 20; i++ {
		hub.SendToUser("u1", EventNotification, map[string]string{"title": fmt.Sprintf("m%02d", i)})
	}
	waitFor(t, func() bool { return queue.Len() == 20 })

	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent"})

	// The flush fills the 8-slot send buffer; the 12-message tail goes
	// back to the queue instead of being dropped.
	waitFor(t, func() bool { return queue.Len() == 12 })

	for i := 0; i < 8; i++ {
		msg := recvMessage(t, client)
		raw, ok := msg.Data.(json.RawMessage)
		if !ok {
			t.Fatalf("flushed data type = %T", msg.Data)
		}
		var payload map[string]string
		if err := json.Unmarshal(raw, &payload); err != nil {
			t.Fatalf("unmarshal flushed payload: %v", err)
		}
		if want := fmt.Sprintf("m%02d", i); payload["title"] != want {
			t.Errorf("flush order: got %q, want %q", payload["title"], want)
		}
	}

	// The re-parked tail keeps its original order for the next flush.
	for i, qm := range queue.Drain("u1") {
		var payload map[string]string
		if err := json.Unmarshal(qm.Payload, &payload); err != nil {
			t.Fatalf("unmarshal re-parked payload: %v", err)
		}
		if want := fmt.Sprintf("m%02d", i+8); payload["title"] != want {
			t.Errorf("re-parked order: got %q, want %q", payload["title"], want)
		}
	}
}

func TestSendToUserBurstFullyReachesQueue(t *testing.T) {
	queue, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	hub := startHub(t, queue)

	// The burst exceeds the intake buffer; back-pressure means every
	// message still lands in the queue.
	for i := 0; i < 400; i++ {
		hub.SendToUser("u1", EventNotification, map[string]int{"seq": i})
	}
	waitFor(t, func() bool { return queue.Len() == 400 })
}

func TestSendToUserAfterShutdownParksOffline(t *testing.T) {
	queue, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	hub := NewHub(config.RealtimeConfig{}, queue)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()
	cancel()
	<-done

	finished := make(chan struct{})
	go func() {
		hub.SendToUser("u1", EventNotification, map[string]string{"title": "late"})
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("SendToUser blocked after hub shutdown")
	}
	if queue.Len() != 1 {
		t.Errorf("queue.Len() = %d, want 1", queue.Len())
	}
}

func TestDetachAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(config.RealtimeConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = hub.RunWithContext(ctx)
	}()

	client := NewClient(hub, nil, models.Identity{UserID: "u1", Role: "agent"})
	hub.Register <- client
	waitFor(t, func() bool { return hub.IsOnline("u1") })

	cancel()
	<-done

	// A read pump exiting after shutdown hands back its registration
	// without anything consuming Unregister.
	finished := make(chan struct{})
	go func() {
		client.detach()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("detach blocked after hub shutdown")
	}
}

func TestConfiguredSendBufferSize(t *testing.T) {
	hub := startHubCfg(t, config.RealtimeConfig{SendBufferSize: 3}, nil)
	client := register(t, hub, models.Identity{UserID: "u1", Role: "agent"})
	if cap(client.send) != 3 {
		t.Errorf("cap(send) = %d, want 3", cap(client.send))
	}

	defaults := startHub(t, nil)
	fallback := register(t, defaults, models.Identity{UserID: "u2", Role: "agent"})
	if cap(fallback.send) != defaultSendBufferSize {
		t.Errorf("cap(send) = %d, want %d", cap(fallback.send), defaultSendBufferSize)
	}
}
