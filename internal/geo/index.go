// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package geo holds the in-memory spatial index used for zone membership
// tests. The index is read-mostly: it is rebuilt wholesale at startup and
// patched on administrative zone edits, while every location update reads
// it. An RWMutex keeps lookups cheap under that load shape.
package geo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/marcwhitt/ranger/internal/models"
)

// ErrInvalidPolygon is returned when a zone's ring fails validation.
var ErrInvalidPolygon = errors.New("invalid polygon ring")

// ErrZoneNotFound is returned when a zone ID is not in the index.
var ErrZoneNotFound = errors.New("zone not found")

var validate = validator.New()

// Index stores active zones and answers point-in-polygon queries.
type Index struct {
	mu    sync.RWMutex
	zones map[string]models.Zone
}

// NewIndex creates an empty spatial index.
func NewIndex() *Index {
	return &Index{
		zones: make(map[string]models.Zone),
	}
}

// ValidateZone checks a zone's ring before it is admitted to the index:
// struct-level constraints (≥3 vertices, coordinate ranges) and a simple
// (non-self-intersecting) ring. Malformed rings are rejected at creation
// rather than tolerated.
func ValidateZone(zone models.Zone) error {
	if err := validate.Struct(zone); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPolygon, err)
	}
	if selfIntersects(zone.Polygon) {
		return fmt.Errorf("%w: ring is self-intersecting", ErrInvalidPolygon)
	}
	return nil
}

// UpsertZone validates and inserts or replaces a zone.
func (i *Index) UpsertZone(zone models.Zone) error {
	if err := ValidateZone(zone); err != nil {
		return err
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.zones[zone.ID] = zone
	return nil
}

// RemoveZone deletes a zone from the index. Removing an unknown zone is a
// no-op; the caller cannot observe a difference.
func (i *Index) RemoveZone(zoneID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.zones, zoneID)
}

// Zone returns a zone by ID.
func (i *Index) Zone(zoneID string) (models.Zone, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	zone, ok := i.zones[zoneID]
	if !ok {
		return models.Zone{}, ErrZoneNotFound
	}
	return zone, nil
}

// Zones returns all indexed zones.
func (i *Index) Zones() []models.Zone {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]models.Zone, 0, len(i.zones))
	for _, z := range i.zones {
		out = append(out, z)
	}
	return out
}

// Len returns the number of indexed zones.
func (i *Index) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.zones)
}

// ContainsPoint reports whether the point lies inside the named zone.
// Unknown zones contain nothing. Behavior for points exactly on a ring
// edge is unspecified (ray casting is not deterministic on boundary
// coincidence).
func (i *Index) ContainsPoint(zoneID string, point models.GeoCoordinate) bool {
	i.mu.RLock()
	zone, ok := i.zones[zoneID]
	i.mu.RUnlock()

	if !ok || !zone.IsActive {
		return false
	}
	return pointInPolygon(point, zone.Polygon)
}

// ZonesContaining returns the IDs of every active zone containing the
// point. O(Z·N) across Z zones of N vertices, which is fine at the tens
// of zones this domain carries.
func (i *Index) ZonesContaining(point models.GeoCoordinate) []string {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var ids []string
	for id, zone := range i.zones {
		if zone.IsActive && pointInPolygon(point, zone.Polygon) {
			ids = append(ids, id)
		}
	}
	return ids
}

// pointInPolygon is the ray-casting crossing test: count edge crossings of
// a horizontal ray from the point; an odd count means inside.
func pointInPolygon(p models.GeoCoordinate, ring []models.GeoCoordinate) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		if (ring[i].Latitude > p.Latitude) != (ring[j].Latitude > p.Latitude) &&
			p.Longitude < (ring[j].Longitude-ring[i].Longitude)*(p.Latitude-ring[i].Latitude)/
				(ring[j].Latitude-ring[i].Latitude)+ring[i].Longitude {
			inside = !inside
		}
	}
	return inside
}

// selfIntersects reports whether any two non-adjacent ring edges cross.
// O(N²) over N vertices; rings in this domain stay small.
func selfIntersects(ring []models.GeoCoordinate) bool {
	n := len(ring)
	if n < 4 {
		return false
	}
	for i := 0; i < n; i++ {
		a1 := ring[i]
		a2 := ring[(i+1)%n]
		for j := i + 1; j < n; j++ {
			// Skip adjacent edges (shared vertex).
			if j == i || (j+1)%n == i || (i+1)%n == j {
				continue
			}
			b1 := ring[j]
			b2 := ring[(j+1)%n]
			if segmentsCross(a1, a2, b1, b2) {
				return true
			}
		}
	}
	return false
}

// segmentsCross reports proper intersection of segments a1a2 and b1b2.
func segmentsCross(a1, a2, b1, b2 models.GeoCoordinate) bool {
	d1 := cross(b1, b2, a1)
	d2 := cross(b1, b2, a2)
	d3 := cross(a1, a2, b1)
	d4 := cross(a1, a2, b2)
	return ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) &&
		((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0))
}

// cross returns the cross product of (b-a) x (c-a) in lat/lng space.
func cross(a, b, c models.GeoCoordinate) float64 {
	return (b.Longitude-a.Longitude)*(c.Latitude-a.Latitude) -
		(b.Latitude-a.Latitude)*(c.Longitude-a.Longitude)
}
