// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package models defines the shared domain types for Ranger: zones and
// geofence events, notifications and delivery receipts, connection
// identities, and queued real-time messages.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// GeoCoordinate is a WGS84 latitude/longitude pair. Immutable value type.
type GeoCoordinate struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// RuleTrigger identifies what kind of movement a geofence rule reacts to.
type RuleTrigger string

const (
	// TriggerEnter fires when an agent crosses into a zone.
	TriggerEnter RuleTrigger = "ENTER"

	// TriggerExit fires when an agent crosses out of a zone.
	TriggerExit RuleTrigger = "EXIT"

	// TriggerDwell fires when an agent remains inside a zone beyond a
	// configured duration.
	TriggerDwell RuleTrigger = "DWELL"

	// TriggerSpeed fires when an agent moves faster than a configured
	// speed while inside a zone.
	TriggerSpeed RuleTrigger = "SPEED"
)

// ActionType identifies what a triggered rule does.
type ActionType string

const (
	ActionNotification ActionType = "NOTIFICATION"
	ActionAlert        ActionType = "ALERT"
	ActionCheckIn      ActionType = "CHECK_IN"
	ActionAuditLog     ActionType = "AUDIT_LOG"
)

// RuleAction is one step executed when a rule triggers.
type RuleAction struct {
	Type ActionType `json:"type"`

	// Parameters carries producer-defined action settings
	// (e.g. notification title/priority overrides).
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Rule belongs to a zone and describes a trigger plus its actions.
type Rule struct {
	ID      string      `json:"id"`
	ZoneID  string      `json:"zone_id"`
	SiteID  string      `json:"site_id"`
	Trigger RuleTrigger `json:"trigger"`

	// Conditions are trigger-specific thresholds. Recognized keys:
	// "min_duration_s" (DWELL) and "max_speed_mps" (SPEED).
	Conditions map[string]float64 `json:"conditions,omitempty"`

	Actions  []RuleAction `json:"actions,omitempty"`
	IsActive bool         `json:"is_active"`
}

// Zone is a named polygonal area tied to a site, used for entry/exit
// detection. The polygon is an ordered closed ring of at least three
// vertices; the last vertex is implicitly connected back to the first.
type Zone struct {
	ID        string          `json:"id"`
	SiteID    string          `json:"site_id" validate:"required"`
	Name      string          `json:"name" validate:"required"`
	Polygon   []GeoCoordinate `json:"polygon" validate:"required,min=3,dive"`
	Rules     []Rule          `json:"rules,omitempty"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// GeofenceEventType classifies a detected transition.
type GeofenceEventType string

const (
	EventEnter     GeofenceEventType = "ENTER"
	EventExit      GeofenceEventType = "EXIT"
	EventDwell     GeofenceEventType = "DWELL"
	EventViolation GeofenceEventType = "VIOLATION"
)

// GeofenceEvent records one detected transition of an agent relative to a
// zone. Immutable once created; persisted append-only.
type GeofenceEvent struct {
	ID         string            `json:"id"`
	AgentID    string            `json:"agent_id"`
	ZoneID     string            `json:"zone_id"`
	SiteID     string            `json:"site_id"`
	EventType  GeofenceEventType `json:"event_type"`
	Coordinate GeoCoordinate     `json:"coordinate"`
	Timestamp  time.Time         `json:"timestamp"`

	// Metadata carries event-specific context (dwell duration,
	// measured speed, triggering rule ID).
	Metadata map[string]string `json:"metadata,omitempty"`
}

// LocationUpdate is one raw position report from an agent device.
// Persisted append-only; the live index keeps only the latest value.
type LocationUpdate struct {
	AgentID    string        `json:"agent_id"`
	SiteID     string        `json:"site_id"`
	Coordinate GeoCoordinate `json:"coordinate"`
	Accuracy   float64       `json:"accuracy"`
	Speed      *float64      `json:"speed,omitempty"`
	Heading    *float64      `json:"heading,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}

// MarshalMetadata encodes free-form metadata for persistence.
func MarshalMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	return json.Marshal(m)
}
