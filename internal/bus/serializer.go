// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package bus

import (
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/marcwhitt/ranger/internal/models"
)

// Message metadata keys.
const (
	MetaAgentID   = "agent_id"
	MetaSiteID    = "site_id"
	MetaEventType = "event_type"
)

// NewLocationMessage encodes a location update for the bus. The agent
// and site ride in metadata so consumers can filter without decoding.
func NewLocationMessage(update models.LocationUpdate) (*message.Message, error) {
	data, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("marshal location update: %w", err)
	}
	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(MetaAgentID, update.AgentID)
	msg.Metadata.Set(MetaSiteID, update.SiteID)
	return msg, nil
}

// DecodeLocationMessage decodes a bus message into a location update.
func DecodeLocationMessage(msg *message.Message) (models.LocationUpdate, error) {
	var update models.LocationUpdate
	if err := json.Unmarshal(msg.Payload, &update); err != nil {
		return models.LocationUpdate{}, fmt.Errorf("unmarshal location update: %w", err)
	}
	if update.AgentID == "" {
		return models.LocationUpdate{}, fmt.Errorf("location update missing agent_id")
	}
	return update, nil
}

// NewEventMessage encodes a geofence event for the bus. The event's own
// ID becomes the message UUID, which JetStream uses for deduplication.
func NewEventMessage(event models.GeofenceEvent) (*message.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal geofence event: %w", err)
	}
	msg := message.NewMessage(event.ID, data)
	msg.Metadata.Set(MetaAgentID, event.AgentID)
	msg.Metadata.Set(MetaSiteID, event.SiteID)
	msg.Metadata.Set(MetaEventType, string(event.EventType))
	return msg, nil
}

// DecodeEventMessage decodes a bus message into a geofence event.
func DecodeEventMessage(msg *message.Message) (models.GeofenceEvent, error) {
	var event models.GeofenceEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return models.GeofenceEvent{}, fmt.Errorf("unmarshal geofence event: %w", err)
	}
	if event.ID == "" || event.AgentID == "" {
		return models.GeofenceEvent{}, fmt.Errorf("geofence event missing id or agent_id")
	}
	return event, nil
}
