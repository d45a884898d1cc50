// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package geofence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/marcwhitt/ranger/internal/geo"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

// SaveZone validates, persists, and indexes a zone definition. Invalid
// polygons are rejected before anything is written. Deactivated zones
// leave the live index so containment checks stop matching them.
func (e *Engine) SaveZone(ctx context.Context, zone models.Zone) (models.Zone, error) {
	now := time.Now().UTC()
	if zone.ID == "" {
		zone.ID = uuid.NewString()
		zone.CreatedAt = now
	}
	if zone.CreatedAt.IsZero() {
		zone.CreatedAt = now
	}
	zone.UpdatedAt = now

	if err := geo.ValidateZone(zone); err != nil {
		return models.Zone{}, fmt.Errorf("validate zone: %w", err)
	}

	if err := e.store.SaveZone(ctx, zone); err != nil {
		return models.Zone{}, fmt.Errorf("persist zone: %w", err)
	}

	if zone.IsActive {
		if err := e.index.UpsertZone(zone); err != nil {
			return models.Zone{}, fmt.Errorf("index zone: %w", err)
		}
	} else {
		e.index.RemoveZone(zone.ID)
		e.forgetZone(zone.ID)
	}

	logging.Info().
		Str("zone_id", zone.ID).
		Str("site_id", zone.SiteID).
		Bool("active", zone.IsActive).
		Msg("zone saved")
	return zone, nil
}

// GetZone returns a persisted zone definition.
func (e *Engine) GetZone(ctx context.Context, zoneID string) (models.Zone, error) {
	return e.store.GetZone(ctx, zoneID)
}

// ListZones returns the zones currently held in the live index.
func (e *Engine) ListZones(_ context.Context) []models.Zone {
	return e.index.Zones()
}

// DeleteZone removes a zone from storage and the live index. Agents
// tracked as inside it are forgotten without an EXIT event; the zone
// no longer exists to exit from.
func (e *Engine) DeleteZone(ctx context.Context, zoneID string) error {
	if err := e.store.DeleteZone(ctx, zoneID); err != nil {
		return fmt.Errorf("delete zone: %w", err)
	}
	e.index.RemoveZone(zoneID)
	e.forgetZone(zoneID)

	logging.Info().Str("zone_id", zoneID).Msg("zone deleted")
	return nil
}

// forgetZone drops any in-flight visit state referencing the zone.
func (e *Engine) forgetZone(zoneID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, state := range e.agents {
		delete(state.visits, zoneID)
	}
}
