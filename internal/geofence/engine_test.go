// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package geofence

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/geo"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/store"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []models.Notification
	bulk []string // roles
}

func (r *recordingNotifier) Send(_ context.Context, n models.Notification) (models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return n, nil
}

func (r *recordingNotifier) SendBulk(_ context.Context, role string, n models.Notification) ([]models.Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	r.bulk = append(r.bulk, role)
	return []models.Notification{n}, nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

// square returns a zone covering lat/lon [0,10]x[0,10].
func square(id, siteID string, rules ...models.Rule) models.Zone {
	return models.Zone{
		ID:     id,
		SiteID: siteID,
		Name:   "zone " + id,
		Polygon: []models.GeoCoordinate{
			{Latitude: 0, Longitude: 0},
			{Latitude: 0, Longitude: 10},
			{Latitude: 10, Longitude: 10},
			{Latitude: 10, Longitude: 0},
		},
		Rules:    rules,
		IsActive: true,
	}
}

func newTestEngine(t *testing.T, zones ...models.Zone) (*Engine, *store.Memory, *recordingNotifier) {
	t.Helper()

	index := geo.NewIndex()
	mem := store.NewMemory()
	for _, z := range zones {
		if err := index.UpsertZone(z); err != nil {
			t.Fatalf("UpsertZone: %v", err)
		}
		if err := mem.SaveZone(context.Background(), z); err != nil {
			t.Fatalf("SaveZone: %v", err)
		}
	}

	notifier := &recordingNotifier{}
	engine := NewEngine(index, mem, nil, nil, notifier, config.GeofenceConfig{
		UpdatesPerSecond:   1000,
		UpdateBurst:        1000,
		DwellCheckInterval: time.Second,
	})
	return engine, mem, notifier
}

func update(agentID, siteID string, lat, lon float64, at time.Time) models.LocationUpdate {
	return models.LocationUpdate{
		AgentID:    agentID,
		SiteID:     siteID,
		Coordinate: models.GeoCoordinate{Latitude: lat, Longitude: lon},
		Timestamp:  at,
	}
}

func eventTypes(events []models.GeofenceEvent) []models.GeofenceEventType {
	types := make([]models.GeofenceEventType, len(events))
	for i, ev := range events {
		types[i] = ev.EventType
	}
	return types
}

func TestEnterExitTransitions(t *testing.T) {
	t.Parallel()
	engine, mem, _ := newTestEngine(t, square("z1", "site-1"))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	// Outside, no event.
	events, err := engine.ProcessUpdate(ctx, update("a1", "site-1", 50, 50, base))
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want none while outside", eventTypes(events))
	}

	// Crossing in.
	events, err = engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(time.Second)))
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if len(events) != 1 || events[0].EventType != models.EventEnter {
		t.Fatalf("events = %v, want [ENTER]", eventTypes(events))
	}
	if events[0].ZoneID != "z1" || events[0].AgentID != "a1" {
		t.Errorf("event = %+v", events[0])
	}

	// Still inside, idempotent.
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 6, 6, base.Add(2*time.Second)))
	if len(events) != 0 {
		t.Fatalf("events = %v, want none for movement within zone", eventTypes(events))
	}

	// Crossing out.
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 50, 50, base.Add(3*time.Second)))
	if len(events) != 1 || events[0].EventType != models.EventExit {
		t.Fatalf("events = %v, want [EXIT]", eventTypes(events))
	}

	// Both transitions are in the persisted log, newest first.
	logged, err := mem.ListGeofenceEvents(ctx, "a1", time.Time{}, 10)
	if err != nil {
		t.Fatalf("ListGeofenceEvents: %v", err)
	}
	if len(logged) != 2 {
		t.Fatalf("logged = %d events, want 2", len(logged))
	}
	if logged[0].EventType != models.EventExit || logged[1].EventType != models.EventEnter {
		t.Errorf("log order = [%s %s], want [EXIT ENTER]", logged[0].EventType, logged[1].EventType)
	}
}

func TestSiteMismatchIgnoresZone(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t, square("z1", "site-1"))

	events, err := engine.ProcessUpdate(context.Background(),
		update("a1", "site-2", 5, 5, time.Now()))
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want none for a zone of another site", eventTypes(events))
	}
}

func TestMissingSiteDropped(t *testing.T) {
	t.Parallel()
	engine, mem, _ := newTestEngine(t, square("z1", "site-1"))

	events, err := engine.ProcessUpdate(context.Background(),
		update("a1", "", 5, 5, time.Now()))
	if err != nil {
		t.Fatalf("ProcessUpdate: %v", err)
	}
	if len(events) != 0 {
		t.Fatal("dropped update must not produce events")
	}

	// Dropped updates are not persisted either.
	logged, _ := mem.ListGeofenceEvents(context.Background(), "a1", time.Time{}, 10)
	if len(logged) != 0 {
		t.Errorf("logged = %d, want 0", len(logged))
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	t.Parallel()

	index := geo.NewIndex()
	if err := index.UpsertZone(square("z1", "site-1")); err != nil {
		t.Fatalf("UpsertZone: %v", err)
	}
	engine := NewEngine(index, store.NewMemory(), nil, nil, nil, config.GeofenceConfig{
		UpdatesPerSecond:   1,
		UpdateBurst:        1,
		DwellCheckInterval: time.Second,
	})
	ctx := context.Background()
	now := time.Now()

	if _, err := engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, now)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// Burst exhausted; the second back-to-back update is throttled and
	// must not generate an EXIT.
	events, err := engine.ProcessUpdate(ctx, update("a1", "site-1", 50, 50, now))
	if err != nil {
		t.Fatalf("second update: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %v, want none when throttled", eventTypes(events))
	}
}

func TestDwellRuleFiresOnce(t *testing.T) {
	t.Parallel()

	rule := models.Rule{
		ID:         "r-dwell",
		ZoneID:     "z1",
		SiteID:     "site-1",
		Trigger:    models.TriggerDwell,
		Conditions: map[string]float64{"min_duration_s": 60},
		IsActive:   true,
	}
	engine, _, _ := newTestEngine(t, square("z1", "site-1", rule))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	events, _ := engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base))
	if len(events) != 1 || events[0].EventType != models.EventEnter {
		t.Fatalf("events = %v, want [ENTER]", eventTypes(events))
	}

	// Below the threshold.
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(30*time.Second)))
	if len(events) != 0 {
		t.Fatalf("events = %v, want none before the dwell threshold", eventTypes(events))
	}

	// Past the threshold.
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(90*time.Second)))
	if len(events) != 1 || events[0].EventType != models.EventDwell {
		t.Fatalf("events = %v, want [DWELL]", eventTypes(events))
	}
	if events[0].Metadata["rule_id"] != "r-dwell" {
		t.Errorf("rule_id = %q", events[0].Metadata["rule_id"])
	}

	// Latched for the rest of the visit.
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(5*time.Minute)))
	if len(events) != 0 {
		t.Fatalf("events = %v, dwell must fire once per visit", eventTypes(events))
	}

	// Leaving and returning re-arms the rule.
	engine.ProcessUpdate(ctx, update("a1", "site-1", 50, 50, base.Add(6*time.Minute)))
	engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(7*time.Minute)))
	events, _ = engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base.Add(9*time.Minute)))
	if len(events) != 1 || events[0].EventType != models.EventDwell {
		t.Fatalf("events = %v, want [DWELL] after re-entry", eventTypes(events))
	}
}

func TestDwellSweepCoversStationaryAgents(t *testing.T) {
	t.Parallel()

	rule := models.Rule{
		ID:         "r-dwell",
		ZoneID:     "z1",
		SiteID:     "site-1",
		Trigger:    models.TriggerDwell,
		Conditions: map[string]float64{"min_duration_s": 60},
		IsActive:   true,
	}
	engine, _, _ := newTestEngine(t, square("z1", "site-1", rule))
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	engine.ProcessUpdate(context.Background(), update("a1", "site-1", 5, 5, base))

	// No further updates arrive; the sweeper catches the threshold.
	events := engine.sweepDwell(base.Add(2 * time.Minute))
	if len(events) != 1 || events[0].EventType != models.EventDwell {
		t.Fatalf("sweep events = %v, want [DWELL]", eventTypes(events))
	}
	if again := engine.sweepDwell(base.Add(3 * time.Minute)); len(again) != 0 {
		t.Fatalf("sweep events = %v, want none on second pass", eventTypes(again))
	}
}

func TestSpeedViolationEdgeTriggered(t *testing.T) {
	t.Parallel()

	rule := models.Rule{
		ID:         "r-speed",
		ZoneID:     "z1",
		SiteID:     "site-1",
		Trigger:    models.TriggerSpeed,
		Conditions: map[string]float64{"max_speed_mps": 5},
		IsActive:   true,
	}
	engine, _, _ := newTestEngine(t, square("z1", "site-1", rule))
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	speed := func(v float64) *float64 { return &v }

	u := update("a1", "site-1", 5, 5, base)
	u.Speed = speed(3)
	events, _ := engine.ProcessUpdate(ctx, u)
	if len(events) != 1 || events[0].EventType != models.EventEnter {
		t.Fatalf("events = %v, want [ENTER] at compliant speed", eventTypes(events))
	}

	u = update("a1", "site-1", 5, 6, base.Add(time.Second))
	u.Speed = speed(9)
	events, _ = engine.ProcessUpdate(ctx, u)
	if len(events) != 1 || events[0].EventType != models.EventViolation {
		t.Fatalf("events = %v, want [VIOLATION]", eventTypes(events))
	}
	if events[0].Metadata["speed_mps"] != "9.00" {
		t.Errorf("speed_mps = %q", events[0].Metadata["speed_mps"])
	}

	// Still speeding, no repeat while latched.
	u = update("a1", "site-1", 5, 7, base.Add(2*time.Second))
	u.Speed = speed(10)
	events, _ = engine.ProcessUpdate(ctx, u)
	if len(events) != 0 {
		t.Fatalf("events = %v, want none while violation is latched", eventTypes(events))
	}

	// Slowing down re-arms the rule.
	u = update("a1", "site-1", 5, 8, base.Add(3*time.Second))
	u.Speed = speed(2)
	engine.ProcessUpdate(ctx, u)

	u = update("a1", "site-1", 5, 9, base.Add(4*time.Second))
	u.Speed = speed(8)
	events, _ = engine.ProcessUpdate(ctx, u)
	if len(events) != 1 || events[0].EventType != models.EventViolation {
		t.Fatalf("events = %v, want [VIOLATION] after re-arm", eventTypes(events))
	}
}

func TestRuleActionsNotifySupervisors(t *testing.T) {
	t.Parallel()

	rule := models.Rule{
		ID:      "r-enter",
		ZoneID:  "z1",
		SiteID:  "site-1",
		Trigger: models.TriggerEnter,
		Actions: []models.RuleAction{
			{Type: models.ActionNotification, Parameters: map[string]string{"recipient_role": "supervisor"}},
		},
		IsActive: true,
	}
	engine, _, notifier := newTestEngine(t, square("z1", "site-1", rule))

	engine.ProcessUpdate(context.Background(), update("a1", "site-1", 5, 5, time.Now()))

	if notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", notifier.count())
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	n := notifier.sent[0]
	if n.Type != models.NotificationGeofence {
		t.Errorf("Type = %s", n.Type)
	}
	if n.Metadata["agent_id"] != "a1" || n.Metadata["zone_id"] != "z1" {
		t.Errorf("Metadata = %v", n.Metadata)
	}
	if notifier.bulk[0] != "supervisor" {
		t.Errorf("role = %q", notifier.bulk[0])
	}
}

func TestLoadZonesPrimesIndex(t *testing.T) {
	t.Parallel()

	mem := store.NewMemory()
	ctx := context.Background()
	if err := mem.SaveZone(ctx, square("z1", "site-1")); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}
	inactive := square("z2", "site-1")
	inactive.IsActive = false
	if err := mem.SaveZone(ctx, inactive); err != nil {
		t.Fatalf("SaveZone: %v", err)
	}

	index := geo.NewIndex()
	engine := NewEngine(index, mem, nil, nil, nil, config.GeofenceConfig{
		UpdatesPerSecond: 10, UpdateBurst: 10, DwellCheckInterval: time.Second,
	})
	if err := engine.LoadZones(ctx); err != nil {
		t.Fatalf("LoadZones: %v", err)
	}
	if index.Len() != 1 {
		t.Errorf("index.Len = %d, want only the active zone", index.Len())
	}
}

func TestSaveZoneRejectsInvalidPolygon(t *testing.T) {
	t.Parallel()
	engine, mem, _ := newTestEngine(t)

	bad := models.Zone{
		SiteID: "site-1",
		Name:   "two points",
		Polygon: []models.GeoCoordinate{
			{Latitude: 0, Longitude: 0},
			{Latitude: 1, Longitude: 1},
		},
		IsActive: true,
	}
	if _, err := engine.SaveZone(context.Background(), bad); err == nil {
		t.Fatal("SaveZone accepted a two-point polygon")
	}

	zones, err := mem.LoadActiveZones(context.Background())
	if err != nil {
		t.Fatalf("LoadActiveZones: %v", err)
	}
	if len(zones) != 0 {
		t.Error("rejected zone must not be persisted")
	}
}

func TestDeleteZoneForgetsVisits(t *testing.T) {
	t.Parallel()
	engine, _, _ := newTestEngine(t, square("z1", "site-1"))
	ctx := context.Background()
	base := time.Now()

	engine.ProcessUpdate(ctx, update("a1", "site-1", 5, 5, base))
	if err := engine.DeleteZone(ctx, "z1"); err != nil {
		t.Fatalf("DeleteZone: %v", err)
	}

	// Moving outside afterwards must not emit an EXIT for a zone that
	// no longer exists.
	events, _ := engine.ProcessUpdate(ctx, update("a1", "site-1", 50, 50, base.Add(time.Second)))
	if len(events) != 0 {
		t.Fatalf("events = %v, want none after zone deletion", eventTypes(events))
	}
}
