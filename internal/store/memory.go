// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcwhitt/ranger/internal/models"
)

// Memory is an in-process Store used by unit tests and ephemeral
// tooling. All methods are safe for concurrent use.
type Memory struct {
	mu            sync.RWMutex
	zones         map[string]models.Zone
	events        []models.GeofenceEvent
	locations     []models.LocationUpdate
	notifications map[string]models.Notification
	receipts      []models.DeliveryReceipt
	users         map[string]models.User
	preferences   map[string]models.NotificationPreferences
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		zones:         make(map[string]models.Zone),
		notifications: make(map[string]models.Notification),
		users:         make(map[string]models.User),
		preferences:   make(map[string]models.NotificationPreferences),
	}
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }

// --- ZoneStore ---

func (m *Memory) SaveZone(_ context.Context, zone models.Zone) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[zone.ID] = zone
	return nil
}

func (m *Memory) GetZone(_ context.Context, zoneID string) (models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	zone, ok := m.zones[zoneID]
	if !ok {
		return models.Zone{}, fmt.Errorf("zone %s: %w", zoneID, ErrNotFound)
	}
	return zone, nil
}

func (m *Memory) LoadActiveZones(_ context.Context) ([]models.Zone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var zones []models.Zone
	for _, z := range m.zones {
		if z.IsActive {
			zones = append(zones, z)
		}
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	return zones, nil
}

func (m *Memory) DeleteZone(_ context.Context, zoneID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.zones[zoneID]; !ok {
		return fmt.Errorf("zone %s: %w", zoneID, ErrNotFound)
	}
	delete(m.zones, zoneID)
	return nil
}

// --- EventStore ---

func (m *Memory) AppendGeofenceEvent(_ context.Context, event models.GeofenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) AppendLocationUpdate(_ context.Context, update models.LocationUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations = append(m.locations, update)
	return nil
}

func (m *Memory) ListGeofenceEvents(_ context.Context, agentID string, since time.Time, limit int) ([]models.GeofenceEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.GeofenceEvent
	for _, ev := range m.events {
		if ev.AgentID == agentID && !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// --- NotificationStore ---

func (m *Memory) SaveNotification(_ context.Context, n models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications[n.ID] = n
	return nil
}

func (m *Memory) GetNotification(_ context.Context, id string) (models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, nil
}

func (m *Memory) ListNotifications(_ context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID != recipientID {
			continue
		}
		if unreadOnly && n.IsRead {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkRead(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	n.IsRead = true
	n.ReadAt = &at
	m.notifications[id] = n
	return nil
}

func (m *Memory) MarkAllRead(_ context.Context, recipientID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			n.IsRead = true
			n.ReadAt = &at
			m.notifications[id] = n
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountUnread(_ context.Context, recipientID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && !n.IsRead {
			count++
		}
	}
	return count, nil
}

func (m *Memory) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for id, n := range m.notifications {
		if n.ExpiresAt != nil && !n.ExpiresAt.After(now) {
			delete(m.notifications, id)
			count++
		}
	}
	return count, nil
}

func (m *Memory) AppendDeliveryReceipt(_ context.Context, r models.DeliveryReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.receipts = append(m.receipts, r)
	return nil
}

func (m *Memory) ListReceipts(_ context.Context, notificationID string) ([]models.DeliveryReceipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.DeliveryReceipt
	for _, r := range m.receipts {
		if r.NotificationID == notificationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// --- UserStore ---

func (m *Memory) GetUser(_ context.Context, userID string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u, nil
}

func (m *Memory) ListUsersByRole(_ context.Context, role string) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.User
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveUser(_ context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetPreferences(_ context.Context, userID string) (models.NotificationPreferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.preferences[userID]
	if !ok {
		return models.DefaultPreferences(userID), nil
	}
	return p, nil
}

func (m *Memory) SavePreferences(_ context.Context, p models.NotificationPreferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preferences[p.UserID] = p
	return nil
}
