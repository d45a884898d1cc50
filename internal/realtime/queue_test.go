// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package realtime

import (
	"fmt"
	"testing"
	"time"

	"github.com/marcwhitt/ranger/internal/models"
)

func queuedMsg(userID, event string, at time.Time) models.QueuedMessage {
	return models.QueuedMessage{
		UserID:     userID,
		Event:      event,
		Payload:    []byte(`{"k":"v"}`),
		EnqueuedAt: at,
	}
}

func TestQueueFIFO(t *testing.T) {
	t.Parallel()

	q, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		q.Enqueue(queuedMsg("u1", fmt.Sprintf("e%d", i), now.Add(time.Duration(i)*time.Second)))
	}

	got := q.Drain("u1")
	if len(got) != 5 {
		t.Fatalf("Drain = %d messages, want 5", len(got))
	}
	for i, m := range got {
		if m.Event != fmt.Sprintf("e%d", i) {
			t.Errorf("position %d: event %q", i, m.Event)
		}
	}

	if q.Drain("u1") != nil {
		t.Error("second Drain should be empty")
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueuePerUserCapDropsOldest(t *testing.T) {
	t.Parallel()

	q, err := NewOfflineQueue(24*time.Hour, 3, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		q.Enqueue(queuedMsg("u1", fmt.Sprintf("e%d", i), now))
	}

	got := q.Drain("u1")
	if len(got) != 3 {
		t.Fatalf("Drain = %d messages, want cap 3", len(got))
	}
	// Oldest evicted: e0 and e1 are gone.
	for i, want := range []string{"e2", "e3", "e4"} {
		if got[i].Event != want {
			t.Errorf("position %d: got %q, want %q", i, got[i].Event, want)
		}
	}
}

func TestQueueIsolatesUsers(t *testing.T) {
	t.Parallel()

	q, err := NewOfflineQueue(24*time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	now := time.Now().UTC()

	q.Enqueue(queuedMsg("u1", "a", now))
	q.Enqueue(queuedMsg("u2", "b", now))

	if got := q.Drain("u1"); len(got) != 1 || got[0].Event != "a" {
		t.Errorf("u1 drain = %+v", got)
	}
	if got := q.Drain("u2"); len(got) != 1 || got[0].Event != "b" {
		t.Errorf("u2 drain = %+v", got)
	}
}

func TestQueueSweepExpiresOldMessages(t *testing.T) {
	t.Parallel()

	q, err := NewOfflineQueue(time.Hour, 500, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	now := time.Now().UTC()

	q.Enqueue(queuedMsg("u1", "old", now.Add(-2*time.Hour)))
	q.Enqueue(queuedMsg("u1", "fresh", now.Add(-time.Minute)))
	q.Enqueue(queuedMsg("u2", "ancient", now.Add(-3*time.Hour)))

	removed := q.Sweep(now)
	if removed != 2 {
		t.Errorf("Sweep removed %d, want 2", removed)
	}

	if got := q.Drain("u1"); len(got) != 1 || got[0].Event != "fresh" {
		t.Errorf("u1 after sweep = %+v", got)
	}
	if got := q.Drain("u2"); got != nil {
		t.Errorf("u2 after sweep = %+v, want nil", got)
	}
}

func TestQueueSpillSurvivesRestart(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	now := time.Now().UTC()

	q1, err := NewOfflineQueue(24*time.Hour, 500, dir)
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	for i := 0; i < 3; i++ {
		q1.Enqueue(queuedMsg("u1", fmt.Sprintf("e%d", i), now))
	}
	if err := q1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	q2, err := NewOfflineQueue(24*time.Hour, 500, dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}

	got := q2.Drain("u1")
	if len(got) != 3 {
		t.Fatalf("restored %d messages, want 3", len(got))
	}
	for i, m := range got {
		if m.Event != fmt.Sprintf("e%d", i) {
			t.Errorf("restored order: position %d is %q", i, m.Event)
		}
	}

	// Drained messages stay gone across another restart.
	q2.Enqueue(queuedMsg("u1", "post-restart", now))
	if err := q2.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	q3, err := NewOfflineQueue(24*time.Hour, 500, dir)
	if err != nil {
		t.Fatalf("second reopen: %v", err)
	}
	defer q3.Close() //nolint:errcheck

	got = q3.Drain("u1")
	if len(got) != 1 || got[0].Event != "post-restart" {
		t.Errorf("after second restart = %+v", got)
	}
}
