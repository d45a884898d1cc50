// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/notify"
	"github.com/marcwhitt/ranger/internal/store"
)

const defaultNotificationLimit = 50

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	unreadOnly := r.URL.Query().Get("unread") == "true"
	limit := defaultNotificationLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	notifications, err := s.dispatcher.List(r.Context(), identity.UserID, unreadOnly, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list notifications")
		return
	}
	respondJSON(w, http.StatusOK, notifications)
}

// sendRequest is the payload for dispatching a notification to one
// recipient or, when RecipientRole is set instead, to every user
// holding that role.
type sendRequest struct {
	Type          models.NotificationType `json:"type"`
	Priority      models.Priority         `json:"priority"`
	Title         string                  `json:"title"`
	Message       string                  `json:"message"`
	RecipientID   string                  `json:"recipient_id"`
	RecipientRole string                  `json:"recipient_role"`
	Channels      []models.Channel        `json:"channels"`
	ActionURL     string                  `json:"action_url"`
	Metadata      map[string]string       `json:"metadata"`
}

func (req *sendRequest) notification(senderID string) models.Notification {
	return models.Notification{
		Type:        req.Type,
		Priority:    req.Priority,
		Title:       req.Title,
		Message:     req.Message,
		RecipientID: req.RecipientID,
		SenderID:    senderID,
		Channels:    req.Channels,
		ActionURL:   req.ActionURL,
		Metadata:    req.Metadata,
	}
}

func (s *Server) handleSendNotification(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if !s.authz.CanSendNotifications(identity) {
		respondError(w, http.StatusForbidden, "sending notifications requires supervisor role")
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed notification payload")
		return
	}

	if req.RecipientRole != "" {
		sent, err := s.dispatcher.SendBulk(r.Context(), req.RecipientRole, req.notification(identity.UserID))
		if err != nil && len(sent) == 0 {
			respondError(w, http.StatusInternalServerError, "bulk dispatch failed")
			return
		}
		respondJSON(w, http.StatusCreated, sent)
		return
	}

	out, err := s.dispatcher.Send(r.Context(), req.notification(identity.UserID))
	if err != nil {
		switch {
		case errors.Is(err, notify.ErrUnknownRecipient):
			respondError(w, http.StatusNotFound, "unknown recipient")
		case errors.Is(err, notify.ErrMissingContent):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "dispatch failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleSendEmergency(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	if !s.authz.CanSendEmergency(identity) {
		respondError(w, http.StatusForbidden, "emergency broadcast requires admin role")
		return
	}

	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed notification payload")
		return
	}

	if req.RecipientRole != "" {
		users, err := s.store.ListUsersByRole(r.Context(), req.RecipientRole)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to resolve recipients")
			return
		}
		var sent []models.Notification
		for _, u := range users {
			n := req.notification(identity.UserID)
			n.RecipientID = u.ID
			out, err := s.dispatcher.SendEmergency(r.Context(), n)
			if err != nil {
				continue
			}
			sent = append(sent, out)
		}
		respondJSON(w, http.StatusCreated, sent)
		return
	}

	out, err := s.dispatcher.SendEmergency(r.Context(), req.notification(identity.UserID))
	if err != nil {
		if errors.Is(err, notify.ErrUnknownRecipient) {
			respondError(w, http.StatusNotFound, "unknown recipient")
			return
		}
		respondError(w, http.StatusInternalServerError, "dispatch failed")
		return
	}
	respondJSON(w, http.StatusCreated, out)
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	count, err := s.dispatcher.UnreadCount(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to count unread")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"unread": count})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "notificationID")

	n, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "notification not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load notification")
		return
	}
	if n.RecipientID != identity.UserID {
		respondError(w, http.StatusForbidden, "not your notification")
		return
	}

	if err := s.dispatcher.MarkRead(r.Context(), id); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark read")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	count, err := s.dispatcher.MarkAllRead(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to mark all read")
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": count})
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())
	id := chi.URLParam(r, "notificationID")

	n, err := s.store.GetNotification(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(w, http.StatusNotFound, "notification not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load notification")
		return
	}
	// Recipients see their own receipts; senders with dispatch rights
	// see delivery outcomes for follow-up.
	if n.RecipientID != identity.UserID && !s.authz.CanSendNotifications(identity) {
		respondError(w, http.StatusForbidden, "not your notification")
		return
	}

	receipts, err := s.dispatcher.Receipts(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list receipts")
		return
	}
	respondJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetPreferences(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	prefs, err := s.store.GetPreferences(r.Context(), identity.UserID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load preferences")
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}

func (s *Server) handleSavePreferences(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFromContext(r.Context())

	var prefs models.NotificationPreferences
	if err := decodeBody(r, &prefs); err != nil {
		respondError(w, http.StatusBadRequest, "malformed preferences payload")
		return
	}
	prefs.UserID = identity.UserID

	if err := s.store.SavePreferences(r.Context(), prefs); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save preferences")
		return
	}
	respondJSON(w, http.StatusOK, prefs)
}
