// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package geofence turns raw agent location updates into zone
// transition events. The engine keeps an in-memory membership set per
// agent, diffs it against the zone index on every update, and emits
// ENTER/EXIT/DWELL/VIOLATION events that are persisted, published on
// the bus, and pushed to site subscribers.
package geofence

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/marcwhitt/ranger/internal/bus"
	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/geo"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/metrics"
	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/realtime"
	"github.com/marcwhitt/ranger/internal/store"
)

// Notifier is the slice of the notification dispatcher the engine needs
// to run rule actions.
type Notifier interface {
	Send(ctx context.Context, n models.Notification) (models.Notification, error)
	SendBulk(ctx context.Context, role string, n models.Notification) ([]models.Notification, error)
}

// zoneVisit tracks one agent's ongoing presence inside one zone.
type zoneVisit struct {
	enteredAt time.Time

	// Per-rule latches so a visit fires each dwell rule once and a
	// speed rule only at the compliant-to-violating edge.
	dwellFired map[string]bool
	speeding   map[string]bool
}

// agentState is the engine's view of a single agent. All access is
// serialized under Engine.mu.
type agentState struct {
	siteID    string
	visits    map[string]*zoneVisit // keyed by zone ID
	lastCoord models.GeoCoordinate
	lastSeen  time.Time
	limiter   *rate.Limiter
}

// Engine consumes location updates and produces geofence events.
type Engine struct {
	index    *geo.Index
	store    store.Store
	bus      *bus.Bus
	hub      *realtime.Hub
	notifier Notifier
	cfg      config.GeofenceConfig

	mu     sync.Mutex
	agents map[string]*agentState
}

// NewEngine builds an engine over the shared zone index. The hub and
// notifier may be nil in tooling contexts; events are then only
// persisted and published.
func NewEngine(index *geo.Index, st store.Store, b *bus.Bus, hub *realtime.Hub, notifier Notifier, cfg config.GeofenceConfig) *Engine {
	return &Engine{
		index:    index,
		store:    st,
		bus:      b,
		hub:      hub,
		notifier: notifier,
		cfg:      cfg,
		agents:   make(map[string]*agentState),
	}
}

// LoadZones primes the index from persisted zone definitions. Called
// once at startup before the engine starts consuming updates.
func (e *Engine) LoadZones(ctx context.Context) error {
	zones, err := e.store.LoadActiveZones(ctx)
	if err != nil {
		return fmt.Errorf("load zones: %w", err)
	}
	for _, z := range zones {
		if err := e.index.UpsertZone(z); err != nil {
			logging.Err(err).Str("zone_id", z.ID).Msg("skipping invalid persisted zone")
			continue
		}
	}
	logging.Info().Int("zones", e.index.Len()).Msg("zone index loaded")
	return nil
}

// ProcessUpdate runs one location update through the engine and
// returns the events it produced. Throttled and unroutable updates
// return no events and no error.
func (e *Engine) ProcessUpdate(ctx context.Context, update models.LocationUpdate) ([]models.GeofenceEvent, error) {
	if update.AgentID == "" {
		metrics.LocationUpdates.WithLabelValues("dropped").Inc()
		return nil, nil
	}
	if update.SiteID == "" {
		metrics.LocationUpdates.WithLabelValues("dropped").Inc()
		logging.Warn().Str("agent_id", update.AgentID).Msg("location update without site, dropping")
		return nil, nil
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	state := e.stateFor(update.AgentID, update.SiteID)
	if !state.limiter.Allow() {
		metrics.LocationUpdates.WithLabelValues("throttled").Inc()
		return nil, nil
	}

	if err := e.store.AppendLocationUpdate(ctx, update); err != nil {
		return nil, fmt.Errorf("persist location update: %w", err)
	}

	events := e.evaluate(state, update)
	metrics.LocationUpdates.WithLabelValues("processed").Inc()

	for _, ev := range events {
		e.emit(ctx, ev)
	}
	return events, nil
}

// HandleLocationMessage adapts ProcessUpdate to a bus handler.
// Malformed payloads are dropped rather than retried.
func (e *Engine) HandleLocationMessage(msg *message.Message) error {
	update, err := bus.DecodeLocationMessage(msg)
	if err != nil {
		metrics.LocationUpdates.WithLabelValues("dropped").Inc()
		logging.Err(err).Str("message_id", msg.UUID).Msg("undecodable location update, dropping")
		return nil
	}
	_, err = e.ProcessUpdate(msg.Context(), update)
	return err
}

// RegisterHandlers subscribes the engine to the location update topic.
func (e *Engine) RegisterHandlers(r *bus.Router) {
	r.AddNoPublisherHandler("geofence-location-updates", bus.TopicLocationUpdates, e.HandleLocationMessage)
}

// RunDwellChecker periodically re-evaluates dwell rules for agents
// that stopped reporting while inside a zone. Without it a stationary
// agent would never cross a dwell threshold between updates.
func (e *Engine) RunDwellChecker(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.DwellCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, ev := range e.sweepDwell(now) {
				e.emit(ctx, ev)
			}
		}
	}
}

func (e *Engine) stateFor(agentID, siteID string) *agentState {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, ok := e.agents[agentID]
	if !ok {
		state = &agentState{
			visits:  make(map[string]*zoneVisit),
			limiter: rate.NewLimiter(rate.Limit(e.cfg.UpdatesPerSecond), e.cfg.UpdateBurst),
		}
		e.agents[agentID] = state
	}
	state.siteID = siteID
	return state
}

// evaluate diffs the agent's zone membership against the index and
// applies dwell and speed rules for the zones it is inside.
func (e *Engine) evaluate(state *agentState, update models.LocationUpdate) []models.GeofenceEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := update.Timestamp
	state.lastCoord = update.Coordinate
	state.lastSeen = now

	containing := make(map[string]bool)
	for _, zoneID := range e.index.ZonesContaining(update.Coordinate) {
		zone, err := e.index.Zone(zoneID)
		if err != nil || zone.SiteID != update.SiteID {
			continue
		}
		containing[zoneID] = true
	}

	var events []models.GeofenceEvent

	// Entries.
	for zoneID := range containing {
		if _, inside := state.visits[zoneID]; inside {
			continue
		}
		state.visits[zoneID] = &zoneVisit{
			enteredAt:  now,
			dwellFired: make(map[string]bool),
			speeding:   make(map[string]bool),
		}
		events = append(events, e.newEvent(update, zoneID, models.EventEnter, nil))
	}

	// Exits.
	for zoneID := range state.visits {
		if containing[zoneID] {
			continue
		}
		delete(state.visits, zoneID)
		events = append(events, e.newEvent(update, zoneID, models.EventExit, nil))
	}

	// Rule checks for zones the agent is now inside.
	for zoneID, visit := range state.visits {
		zone, err := e.index.Zone(zoneID)
		if err != nil {
			continue
		}
		for _, rule := range zone.Rules {
			if !rule.IsActive {
				continue
			}
			switch rule.Trigger {
			case models.TriggerDwell:
				if ev, ok := e.checkDwell(update.AgentID, state.siteID, rule, visit, zoneID, update.Coordinate, now); ok {
					events = append(events, ev)
				}
			case models.TriggerSpeed:
				if ev, ok := e.checkSpeed(update, rule, visit, zoneID); ok {
					events = append(events, ev)
				}
			}
		}
	}

	return events
}

func (e *Engine) checkDwell(agentID, siteID string, rule models.Rule, visit *zoneVisit, zoneID string, coord models.GeoCoordinate, now time.Time) (models.GeofenceEvent, bool) {
	minSeconds, ok := rule.Conditions["min_duration_s"]
	if !ok || visit.dwellFired[rule.ID] {
		return models.GeofenceEvent{}, false
	}
	elapsed := now.Sub(visit.enteredAt)
	if elapsed < time.Duration(minSeconds*float64(time.Second)) {
		return models.GeofenceEvent{}, false
	}
	visit.dwellFired[rule.ID] = true

	ev := models.GeofenceEvent{
		ID:         uuid.NewString(),
		AgentID:    agentID,
		ZoneID:     zoneID,
		SiteID:     siteID,
		EventType:  models.EventDwell,
		Coordinate: coord,
		Timestamp:  now,
		Metadata: map[string]string{
			"rule_id":       rule.ID,
			"dwell_seconds": strconv.FormatInt(int64(elapsed.Seconds()), 10),
			"threshold_s":   strconv.FormatInt(int64(minSeconds), 10),
		},
	}
	return ev, true
}

func (e *Engine) checkSpeed(update models.LocationUpdate, rule models.Rule, visit *zoneVisit, zoneID string) (models.GeofenceEvent, bool) {
	maxSpeed, ok := rule.Conditions["max_speed_mps"]
	if !ok || update.Speed == nil {
		return models.GeofenceEvent{}, false
	}
	if *update.Speed <= maxSpeed {
		// Back under the limit re-arms the rule for this visit.
		visit.speeding[rule.ID] = false
		return models.GeofenceEvent{}, false
	}
	if visit.speeding[rule.ID] {
		return models.GeofenceEvent{}, false
	}
	visit.speeding[rule.ID] = true

	ev := models.GeofenceEvent{
		ID:         uuid.NewString(),
		AgentID:    update.AgentID,
		ZoneID:     zoneID,
		SiteID:     update.SiteID,
		EventType:  models.EventViolation,
		Coordinate: update.Coordinate,
		Timestamp:  update.Timestamp,
		Metadata: map[string]string{
			"rule_id":       rule.ID,
			"speed_mps":     strconv.FormatFloat(*update.Speed, 'f', 2, 64),
			"max_speed_mps": strconv.FormatFloat(maxSpeed, 'f', 2, 64),
		},
	}
	return ev, true
}

// sweepDwell fires dwell rules for stationary agents between updates.
func (e *Engine) sweepDwell(now time.Time) []models.GeofenceEvent {
	e.mu.Lock()
	defer e.mu.Unlock()

	var events []models.GeofenceEvent
	for agentID, state := range e.agents {
		for zoneID, visit := range state.visits {
			zone, err := e.index.Zone(zoneID)
			if err != nil {
				continue
			}
			for _, rule := range zone.Rules {
				if !rule.IsActive || rule.Trigger != models.TriggerDwell {
					continue
				}
				if ev, ok := e.checkDwell(agentID, state.siteID, rule, visit, zoneID, state.lastCoord, now); ok {
					events = append(events, ev)
				}
			}
		}
	}
	return events
}

func (e *Engine) newEvent(update models.LocationUpdate, zoneID string, eventType models.GeofenceEventType, metadata map[string]string) models.GeofenceEvent {
	return models.GeofenceEvent{
		ID:         uuid.NewString(),
		AgentID:    update.AgentID,
		ZoneID:     zoneID,
		SiteID:     update.SiteID,
		EventType:  eventType,
		Coordinate: update.Coordinate,
		Timestamp:  update.Timestamp,
		Metadata:   metadata,
	}
}

// emit records, publishes, broadcasts, and acts on one event. Each
// stage is independent; a failed stage logs and the rest proceed.
func (e *Engine) emit(ctx context.Context, ev models.GeofenceEvent) {
	metrics.GeofenceEvents.WithLabelValues(string(ev.EventType)).Inc()

	if err := e.store.AppendGeofenceEvent(ctx, ev); err != nil {
		logging.Err(err).Str("event_id", ev.ID).Msg("failed to persist geofence event")
	}

	if e.bus != nil {
		msg, err := bus.NewEventMessage(ev)
		if err != nil {
			logging.Err(err).Str("event_id", ev.ID).Msg("failed to encode geofence event")
		} else if err := e.bus.Publish(ctx, bus.TopicGeofenceEvents, msg); err != nil {
			logging.Err(err).Str("event_id", ev.ID).Msg("failed to publish geofence event")
		}
	}

	if e.hub != nil {
		e.hub.BroadcastToSite(ev.SiteID, realtime.EventGeofence, ev)
	}

	e.runActions(ctx, ev)

	logging.Info().
		Str("event_id", ev.ID).
		Str("agent_id", ev.AgentID).
		Str("zone_id", ev.ZoneID).
		Str("type", string(ev.EventType)).
		Msg("geofence event")
}

// runActions executes the actions of every active rule matching the
// event's trigger.
func (e *Engine) runActions(ctx context.Context, ev models.GeofenceEvent) {
	zone, err := e.index.Zone(ev.ZoneID)
	if err != nil {
		return
	}

	trigger := triggerForEvent(ev.EventType)
	for _, rule := range zone.Rules {
		if !rule.IsActive || rule.Trigger != trigger {
			continue
		}
		// DWELL and VIOLATION events name the rule that produced them;
		// only that rule's actions run.
		if ruleID := ev.Metadata["rule_id"]; ruleID != "" && ruleID != rule.ID {
			continue
		}
		for _, action := range rule.Actions {
			e.runAction(ctx, zone, rule, action, ev)
		}
	}
}

func (e *Engine) runAction(ctx context.Context, zone models.Zone, rule models.Rule, action models.RuleAction, ev models.GeofenceEvent) {
	switch action.Type {
	case models.ActionNotification, models.ActionAlert:
		if e.notifier == nil {
			return
		}
		n := notificationForEvent(zone, action, ev)
		role := action.Parameters["recipient_role"]
		if role == "" {
			role = "supervisor"
		}
		if _, err := e.notifier.SendBulk(ctx, role, n); err != nil {
			logging.Err(err).Str("rule_id", rule.ID).Msg("rule notification failed")
		}

	case models.ActionAuditLog:
		logging.Info().
			Str("rule_id", rule.ID).
			Str("agent_id", ev.AgentID).
			Str("zone", zone.Name).
			Str("type", string(ev.EventType)).
			Msg("audit: geofence rule triggered")

	case models.ActionCheckIn:
		if e.hub == nil {
			return
		}
		// Prompt the agent's own device to confirm presence.
		e.hub.BroadcastToSite(ev.SiteID, realtime.EventGeofence, map[string]string{
			"action":   "check_in_request",
			"agent_id": ev.AgentID,
			"zone_id":  ev.ZoneID,
		})

	default:
		logging.Warn().Str("type", string(action.Type)).Msg("unknown rule action type")
	}
}

func triggerForEvent(t models.GeofenceEventType) models.RuleTrigger {
	switch t {
	case models.EventEnter:
		return models.TriggerEnter
	case models.EventExit:
		return models.TriggerExit
	case models.EventDwell:
		return models.TriggerDwell
	default:
		return models.TriggerSpeed
	}
}

// notificationForEvent builds the notification a rule action sends,
// with parameter overrides for title, message, and priority.
func notificationForEvent(zone models.Zone, action models.RuleAction, ev models.GeofenceEvent) models.Notification {
	title := action.Parameters["title"]
	if title == "" {
		title = fmt.Sprintf("Geofence %s: %s", ev.EventType, zone.Name)
	}
	msg := action.Parameters["message"]
	if msg == "" {
		msg = fmt.Sprintf("Agent %s triggered %s in zone %s", ev.AgentID, ev.EventType, zone.Name)
	}

	priority := models.PriorityHigh
	if action.Type == models.ActionAlert {
		priority = models.PriorityUrgent
	}
	if p := action.Parameters["priority"]; p != "" {
		priority = models.Priority(p)
	}

	return models.Notification{
		Type:     models.NotificationGeofence,
		Priority: priority,
		Title:    title,
		Message:  msg,
		Metadata: map[string]string{
			"event_id":   ev.ID,
			"event_type": string(ev.EventType),
			"zone_id":    ev.ZoneID,
			"agent_id":   ev.AgentID,
		},
	}
}
