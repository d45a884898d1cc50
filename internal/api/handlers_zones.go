// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/store"
)

func (s *Server) handleListZones(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.ListZones(r.Context()))
}

func (s *Server) handleGetZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.engine.GetZone(r.Context(), chi.URLParam(r, "zoneID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "zone not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load zone")
		return
	}
	respondJSON(w, http.StatusOK, zone)
}

func (s *Server) handleSaveZone(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if !s.authz.CanManageZones(identity) {
		respondError(w, http.StatusForbidden, "zone management requires supervisor role")
		return
	}

	var zone models.Zone
	if err := decodeBody(r, &zone); err != nil {
		respondError(w, http.StatusBadRequest, "malformed zone payload")
		return
	}
	if id := chi.URLParam(r, "zoneID"); id != "" {
		zone.ID = id
	}

	saved, err := s.engine.SaveZone(r.Context(), zone)
	if err != nil {
		respondError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	respondJSON(w, status, saved)
}

func (s *Server) handleDeleteZone(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if !s.authz.CanManageZones(identity) {
		respondError(w, http.StatusForbidden, "zone management requires supervisor role")
		return
	}

	if err := s.engine.DeleteZone(r.Context(), chi.URLParam(r, "zoneID")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "zone not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to delete zone")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}
