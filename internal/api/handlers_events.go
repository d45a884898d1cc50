// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/marcwhitt/ranger/internal/bus"
	"github.com/marcwhitt/ranger/internal/models"
)

const defaultEventLimit = 100

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		agentID = identity.AgentID
	}
	if agentID == "" {
		respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if !s.authz.CanReadEvents(identity, agentID) {
		respondError(w, http.StatusForbidden, "event history for other agents requires supervisor role")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = parsed
	}

	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.store.ListGeofenceEvents(r.Context(), agentID, since, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// dispatchLocation routes a stamped update into processing: published
// to the bus when one is attached, run through the engine inline
// otherwise.
func (s *Server) dispatchLocation(ctx context.Context, update models.LocationUpdate) error {
	if s.bus != nil {
		msg, err := bus.NewLocationMessage(update)
		if err != nil {
			return err
		}
		return s.bus.Publish(ctx, bus.TopicLocationUpdates, msg)
	}
	_, err := s.engine.ProcessUpdate(ctx, update)
	return err
}

// handleIngestLocation accepts a position report from an agent device.
// With a bus attached the update is published and processed
// asynchronously; otherwise it runs through the engine inline.
func (s *Server) handleIngestLocation(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var update models.LocationUpdate
	if err := decodeBody(r, &update); err != nil {
		respondError(w, http.StatusBadRequest, "malformed location payload")
		return
	}

	// Devices report for their own agent; the identity is
	// authoritative over the payload.
	if identity.AgentID != "" {
		update.AgentID = identity.AgentID
	}
	if identity.SiteID != "" {
		update.SiteID = identity.SiteID
	}
	if update.AgentID == "" {
		respondError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}

	if s.bus != nil {
		msg, err := bus.NewLocationMessage(update)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to encode update")
			return
		}
		if err := s.bus.Publish(r.Context(), bus.TopicLocationUpdates, msg); err != nil {
			respondError(w, http.StatusServiceUnavailable, "failed to publish update")
			return
		}
		respondJSON(w, http.StatusAccepted, nil)
		return
	}

	events, err := s.engine.ProcessUpdate(r.Context(), update)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to process update")
		return
	}
	respondJSON(w, http.StatusOK, events)
}
