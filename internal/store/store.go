// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package store persists zones, geofence events, notifications and
// delivery receipts. The production backend is DuckDB; an in-memory
// implementation backs unit tests and single-process tooling.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/marcwhitt/ranger/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ZoneStore persists geofence zone definitions.
type ZoneStore interface {
	SaveZone(ctx context.Context, zone models.Zone) error
	GetZone(ctx context.Context, zoneID string) (models.Zone, error)
	LoadActiveZones(ctx context.Context) ([]models.Zone, error)
	DeleteZone(ctx context.Context, zoneID string) error
}

// EventStore is the append-only log of geofence activity.
type EventStore interface {
	AppendGeofenceEvent(ctx context.Context, event models.GeofenceEvent) error
	AppendLocationUpdate(ctx context.Context, update models.LocationUpdate) error
	ListGeofenceEvents(ctx context.Context, agentID string, since time.Time, limit int) ([]models.GeofenceEvent, error)
}

// NotificationStore persists notifications, read state and receipts.
// Notifications are written before any delivery attempt so the record
// survives downstream failures.
type NotificationStore interface {
	SaveNotification(ctx context.Context, n models.Notification) error
	GetNotification(ctx context.Context, id string) (models.Notification, error)
	ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id string, at time.Time) error
	MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error)
	CountUnread(ctx context.Context, recipientID string) (int, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	AppendDeliveryReceipt(ctx context.Context, r models.DeliveryReceipt) error
	ListReceipts(ctx context.Context, notificationID string) ([]models.DeliveryReceipt, error)
}

// UserStore resolves recipients and their delivery preferences.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (models.User, error)
	ListUsersByRole(ctx context.Context, role string) ([]models.User, error)
	SaveUser(ctx context.Context, u models.User) error
	GetPreferences(ctx context.Context, userID string) (models.NotificationPreferences, error)
	SavePreferences(ctx context.Context, p models.NotificationPreferences) error
}

// Store aggregates all persistence concerns behind one handle.
type Store interface {
	ZoneStore
	EventStore
	NotificationStore
	UserStore

	Close() error
}
