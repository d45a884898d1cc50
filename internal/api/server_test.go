// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/authz"
	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/geo"
	"github.com/marcwhitt/ranger/internal/geofence"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/notify"
	"github.com/marcwhitt/ranger/internal/realtime"
	"github.com/marcwhitt/ranger/internal/store"
)

func init() {
	logging.SetLogger(logging.NewTestLogger(io.Discard))
}

const testSecret = "0123456789abcdef0123456789abcdef"

type apiEnv struct {
	server *httptest.Server
	store  *store.Memory
	hub    *realtime.Hub
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Security.JWTSecret = testSecret
	cfg.Security.RateLimitDisabled = true

	mem := store.NewMemory()
	queue, err := realtime.NewOfflineQueue(time.Hour, 100, "")
	if err != nil {
		t.Fatalf("NewOfflineQueue: %v", err)
	}
	hub := realtime.NewHub(cfg.Realtime, queue)

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

	index := geo.NewIndex()
	dispatcher := notify.NewDispatcher(mem, hub, notify.Gateways{}, cfg.Notify)
	engine := geofence.NewEngine(index, mem, nil, hub, dispatcher, cfg.Geofence)

	az, err := authz.New("", "")
	if err != nil {
		t.Fatalf("authz.New: %v", err)
	}

	srv := NewServer(cfg, mem, engine, dispatcher, hub, nil, az)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	return &apiEnv{server: ts, store: mem, hub: hub}
}

func (e *apiEnv) token(t *testing.T, id models.Identity) string {
	t.Helper()
	token, err := GenerateToken(testSecret, id, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return token
}

func (e *apiEnv) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := e.server.Client().Do(req)
	if err != nil {
		t.Fatalf("request %s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() }) //nolint:errcheck // best-effort cleanup
	return resp
}

func decodeData(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if dst != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, dst); err != nil {
			t.Fatalf("decode data: %v", err)
		}
	}
}

func testZone() models.Zone {
	return models.Zone{
		SiteID: "site-1",
		Name:   "warehouse",
		Polygon: []models.GeoCoordinate{
			{Latitude: 0, Longitude: 0},
			{Latitude: 0, Longitude: 10},
			{Latitude: 10, Longitude: 10},
			{Latitude: 10, Longitude: 0},
		},
		IsActive: true,
	}
}

func TestHealthEndpointIsPublic(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	resp := env.request(t, http.MethodGet, "/api/v1/zones/", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/zones/", "not-a-token", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for garbage token", resp.StatusCode)
	}
}

func TestZoneCRUD(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	supervisor := env.token(t, models.Identity{UserID: "sup", Role: "supervisor"})

	resp := env.request(t, http.MethodPost, "/api/v1/zones/", supervisor, testZone())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var created models.Zone
	decodeData(t, resp, &created)
	if created.ID == "" {
		t.Fatal("created zone has no ID")
	}

	resp = env.request(t, http.MethodGet, "/api/v1/zones/"+created.ID, supervisor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}

	created.Name = "warehouse north"
	resp = env.request(t, http.MethodPut, "/api/v1/zones/"+created.ID, supervisor, created)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	var updated models.Zone
	decodeData(t, resp, &updated)
	if updated.Name != "warehouse north" {
		t.Errorf("Name = %q", updated.Name)
	}

	resp = env.request(t, http.MethodDelete, "/api/v1/zones/"+created.ID, supervisor, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/zones/"+created.ID, supervisor, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete status = %d, want 404", resp.StatusCode)
	}
}

func TestZoneCreateRejectsInvalidPolygon(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	supervisor := env.token(t, models.Identity{UserID: "sup", Role: "supervisor"})

	zone := testZone()
	zone.Polygon = zone.Polygon[:2]
	resp := env.request(t, http.MethodPost, "/api/v1/zones/", supervisor, zone)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}
}

func TestZoneManagementForbiddenForAgents(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	agent := env.token(t, models.Identity{UserID: "u1", Role: "agent", AgentID: "a1"})

	resp := env.request(t, http.MethodPost, "/api/v1/zones/", agent, testZone())
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestNotificationSendAndRead(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := context.Background()

	if err := env.store.SaveUser(ctx, models.User{ID: "u1", Role: "agent"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	supervisor := env.token(t, models.Identity{UserID: "sup", Role: "supervisor"})
	recipient := env.token(t, models.Identity{UserID: "u1", Role: "agent"})

	resp := env.request(t, http.MethodPost, "/api/v1/notifications/", supervisor, map[string]interface{}{
		"type":         "SYSTEM",
		"priority":     "MEDIUM",
		"title":        "roster",
		"message":      "updated",
		"recipient_id": "u1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, want 201", resp.StatusCode)
	}
	var sent models.Notification
	decodeData(t, resp, &sent)
	if sent.SenderID != "sup" {
		t.Errorf("SenderID = %q, want sup", sent.SenderID)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/notifications/?unread=true", recipient, nil)
	var list []models.Notification
	decodeData(t, resp, &list)
	if len(list) != 1 {
		t.Fatalf("unread = %d, want 1", len(list))
	}

	resp = env.request(t, http.MethodPost, "/api/v1/notifications/"+sent.ID+"/read", recipient, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("mark read status = %d, want 200", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/notifications/?unread=true", recipient, nil)
	list = nil
	decodeData(t, resp, &list)
	if len(list) != 0 {
		t.Errorf("unread after read = %d, want 0", len(list))
	}
}

func TestMarkReadForeignNotificationForbidden(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := context.Background()

	if err := env.store.SaveUser(ctx, models.User{ID: "u1", Role: "agent"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}
	n := models.Notification{
		ID: "n1", Type: models.NotificationSystem, Priority: models.PriorityLow,
		Title: "t", Message: "m", RecipientID: "u1", CreatedAt: time.Now(),
	}
	if err := env.store.SaveNotification(ctx, n); err != nil {
		t.Fatalf("SaveNotification: %v", err)
	}

	other := env.token(t, models.Identity{UserID: "u2", Role: "agent"})
	resp := env.request(t, http.MethodPost, "/api/v1/notifications/n1/read", other, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestNotificationSendForbiddenForAgents(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	agent := env.token(t, models.Identity{UserID: "u1", Role: "agent"})

	resp := env.request(t, http.MethodPost, "/api/v1/notifications/", agent, map[string]interface{}{
		"title": "x", "message": "y", "recipient_id": "u1",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestEmergencyRequiresAdmin(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := context.Background()

	if err := env.store.SaveUser(ctx, models.User{ID: "u1", Role: "agent", Email: "u1@example.com"}); err != nil {
		t.Fatalf("SaveUser: %v", err)
	}

	supervisor := env.token(t, models.Identity{UserID: "sup", Role: "supervisor"})
	resp := env.request(t, http.MethodPost, "/api/v1/notifications/emergency", supervisor, map[string]interface{}{
		"title": "evacuate", "message": "now", "recipient_id": "u1",
	})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("supervisor status = %d, want 403", resp.StatusCode)
	}

	admin := env.token(t, models.Identity{UserID: "adm", Role: "admin"})
	resp = env.request(t, http.MethodPost, "/api/v1/notifications/emergency", admin, map[string]interface{}{
		"title": "evacuate", "message": "now", "recipient_id": "u1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("admin status = %d, want 201", resp.StatusCode)
	}
	var sent models.Notification
	decodeData(t, resp, &sent)
	if sent.Priority != models.PriorityCritical {
		t.Errorf("Priority = %s, want CRITICAL", sent.Priority)
	}
	if len(sent.Channels) != len(models.AllChannels) {
		t.Errorf("Channels = %v, want all channels", sent.Channels)
	}
}

func TestLocationIngestProducesEvents(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	supervisor := env.token(t, models.Identity{UserID: "sup", Role: "supervisor"})

	resp := env.request(t, http.MethodPost, "/api/v1/zones/", supervisor, testZone())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create zone status = %d", resp.StatusCode)
	}

	agent := env.token(t, models.Identity{UserID: "u1", Role: "agent", SiteID: "site-1", AgentID: "a1"})
	resp = env.request(t, http.MethodPost, "/api/v1/locations", agent, map[string]interface{}{
		"coordinate": map[string]float64{"latitude": 5, "longitude": 5},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d, want 200", resp.StatusCode)
	}
	var events []models.GeofenceEvent
	decodeData(t, resp, &events)
	if len(events) != 1 || events[0].EventType != models.EventEnter {
		t.Fatalf("events = %+v, want one ENTER", events)
	}
	if events[0].AgentID != "a1" {
		t.Errorf("AgentID = %q, identity must override payload", events[0].AgentID)
	}
}

func TestEventHistoryAccess(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := context.Background()

	ev := models.GeofenceEvent{
		ID: "e1", AgentID: "a1", ZoneID: "z1", SiteID: "site-1",
		EventType: models.EventEnter, Timestamp: time.Now(),
	}
	if err := env.store.AppendGeofenceEvent(ctx, ev); err != nil {
		t.Fatalf("AppendGeofenceEvent: %v", err)
	}

	owner := env.token(t, models.Identity{UserID: "u1", Role: "agent", AgentID: "a1"})
	resp := env.request(t, http.MethodGet, "/api/v1/events?agent_id=a1", owner, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("own events status = %d, want 200", resp.StatusCode)
	}
	var events []models.GeofenceEvent
	decodeData(t, resp, &events)
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}

	other := env.token(t, models.Identity{UserID: "u2", Role: "agent", AgentID: "a2"})
	resp = env.request(t, http.MethodGet, "/api/v1/events?agent_id=a1", other, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign events status = %d, want 403", resp.StatusCode)
	}
}

func TestPreferencesRoundTrip(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	user := env.token(t, models.Identity{UserID: "u1", Role: "agent"})

	resp := env.request(t, http.MethodGet, "/api/v1/preferences/", user, nil)
	var prefs models.NotificationPreferences
	decodeData(t, resp, &prefs)
	if !prefs.SMSOn {
		t.Error("defaults should enable SMS")
	}

	prefs.SMSOn = false
	prefs.QuietHours = models.QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}
	resp = env.request(t, http.MethodPut, "/api/v1/preferences/", user, prefs)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d, want 200", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/preferences/", user, nil)
	var loaded models.NotificationPreferences
	decodeData(t, resp, &loaded)
	if loaded.SMSOn {
		t.Error("SMSOn = true after disable")
	}
	if !loaded.QuietHours.Enabled || loaded.QuietHours.Start != "22:00" {
		t.Errorf("QuietHours = %+v", loaded.QuietHours)
	}
}

func TestUnreadCountEndpoint(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	ctx := context.Background()

	for i, id := range []string{"n1", "n2"} {
		n := models.Notification{
			ID: id, Type: models.NotificationSystem, Priority: models.PriorityLow,
			Title: "t", Message: "m", RecipientID: "u1",
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		}
		if err := env.store.SaveNotification(ctx, n); err != nil {
			t.Fatalf("SaveNotification: %v", err)
		}
	}

	user := env.token(t, models.Identity{UserID: "u1", Role: "agent"})
	resp := env.request(t, http.MethodGet, "/api/v1/notifications/unread-count", user, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var counts map[string]int
	decodeData(t, resp, &counts)
	if counts["unread"] != 2 {
		t.Errorf("unread = %d, want 2", counts["unread"])
	}

	resp = env.request(t, http.MethodPost, "/api/v1/notifications/read-all", user, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("read-all status = %d, want 200", resp.StatusCode)
	}

	resp = env.request(t, http.MethodGet, "/api/v1/notifications/unread-count", user, nil)
	decodeData(t, resp, &counts)
	if counts["unread"] != 0 {
		t.Errorf("unread after read-all = %d, want 0", counts["unread"])
	}
}
