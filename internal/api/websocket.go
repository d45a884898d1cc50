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

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/realtime"
)

// Client-to-server events.
const (
	eventJoinRoom       = "join_room"
	eventLeaveRoom      = "leave_room"
	eventSendMessage    = "send_message"
	eventEmergencyAlert = "emergency_alert"
	eventError          = "error"
)

type roomRequest struct {
	Room string `json:"room"`
}

// messageRequest targets either a single user or a room, never both.
type messageRequest struct {
	ToUserID string `json:"to_user_id,omitempty"`
	Room     string `json:"room,omitempty"`
	Message  string `json:"message"`
}

type emergencyAlertRequest struct {
	Message    string                `json:"message"`
	Coordinate *models.GeoCoordinate `json:"coordinate,omitempty"`
}

// handleWebSocket authenticates the handshake, upgrades the
// connection, and hands it to the hub. Browsers cannot set headers on
// WebSocket requests, so the token also travels as a query parameter.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		respondError(w, http.StatusUnauthorized, "missing credentials")
		return
	}
	identity, err := ParseToken(s.cfg.Security.JWTSecret, token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		logging.Err(err).Str("user_id", identity.UserID).Msg("websocket upgrade failed")
		return
	}

	client := realtime.NewClient(s.hub, conn, identity)
	client.SetInboundHandler(s.handleClientMessage)
	s.hub.Register <- client
	client.StartPumps()

	logging.Info().
		Str("user_id", identity.UserID).
		Str("role", identity.Role).
		Str("site_id", identity.SiteID).
		Msg("websocket connected")
}

// handleClientMessage processes events sent by a connected client.
// Joins are checked against policy; the personal, role, and site rooms
// are joined automatically at registration and need no request.
func (s *Server) handleClientMessage(client *realtime.Client, msg realtime.Message) {
	switch msg.Event {
	case eventJoinRoom, eventLeaveRoom:
		var req roomRequest
		if err := remarshal(msg.Data, &req); err != nil || req.Room == "" {
			client.Send(realtime.Message{Event: eventError, Data: "malformed room request"})
			return
		}
		if msg.Event == eventLeaveRoom {
			s.hub.LeaveRoom(client, req.Room)
			return
		}
		if !s.authz.CanJoinRoom(client.Identity(), req.Room) {
			client.Send(realtime.Message{Event: eventError, Data: "room access denied"})
			return
		}
		s.hub.JoinRoom(client, req.Room)

	case realtime.EventLocation:
		s.handleClientLocation(client, msg)

	case eventSendMessage:
		s.handleClientSendMessage(client, msg)

	case eventEmergencyAlert:
		s.handleClientEmergencyAlert(client, msg)

	default:
		logging.Debug().
			Str("event", msg.Event).
			Str("user_id", client.Identity().UserID).
			Msg("unhandled client event")
	}
}

// handleClientLocation ingests a position report sent over the socket.
// The identity is authoritative over the payload, same as the REST
// ingest path.
func (s *Server) handleClientLocation(client *realtime.Client, msg realtime.Message) {
	var update models.LocationUpdate
	if err := remarshal(msg.Data, &update); err != nil {
		client.Send(realtime.Message{Event: eventError, Data: "malformed location payload"})
		return
	}
	identity := client.Identity()
	if identity.AgentID != "" {
		update.AgentID = identity.AgentID
	}
	if identity.SiteID != "" {
		update.SiteID = identity.SiteID
	}
	if update.AgentID == "" {
		client.Send(realtime.Message{Event: eventError, Data: "agent_id is required"})
		return
	}
	if update.Timestamp.IsZero() {
		update.Timestamp = time.Now().UTC()
	}
	if err := s.dispatchLocation(context.Background(), update); err != nil {
		logging.Err(err).Str("agent_id", update.AgentID).Msg("failed to dispatch client location")
	}
}

// handleClientSendMessage relays a client-originated message to a user
// or a room. The sender is stamped server-side; direct messages to
// offline users are parked in the offline queue by the hub.
func (s *Server) handleClientSendMessage(client *realtime.Client, msg realtime.Message) {
	var req messageRequest
	if err := remarshal(msg.Data, &req); err != nil || req.Message == "" {
		client.Send(realtime.Message{Event: eventError, Data: "malformed message payload"})
		return
	}
	if (req.ToUserID == "") == (req.Room == "") {
		client.Send(realtime.Message{Event: eventError, Data: "exactly one of to_user_id or room is required"})
		return
	}

	identity := client.Identity()
	payload := map[string]interface{}{
		"from_user_id": identity.UserID,
		"from_role":    identity.Role,
		"message":      req.Message,
		"sent_at":      time.Now().UTC(),
	}

	if req.ToUserID != "" {
		s.hub.SendToUser(req.ToUserID, realtime.EventMessage, payload)
		return
	}
	if !s.authz.CanJoinRoom(identity, req.Room) {
		client.Send(realtime.Message{Event: eventError, Data: "room access denied"})
		return
	}
	s.hub.BroadcastToRoom(req.Room, realtime.EventMessage, payload)
}

// handleClientEmergencyAlert is the panic button. Any authenticated
// client may raise one; it is broadcast to supervisory roles
// immediately and fanned out as CRITICAL notifications so off-shift
// supervisors are paged through external channels.
func (s *Server) handleClientEmergencyAlert(client *realtime.Client, msg realtime.Message) {
	var req emergencyAlertRequest
	if err := remarshal(msg.Data, &req); err != nil {
		client.Send(realtime.Message{Event: eventError, Data: "malformed alert payload"})
		return
	}
	if req.Message == "" {
		req.Message = "emergency assistance requested"
	}

	identity := client.Identity()
	payload := map[string]interface{}{
		"user_id":   identity.UserID,
		"role":      identity.Role,
		"site_id":   identity.SiteID,
		"message":   req.Message,
		"raised_at": time.Now().UTC(),
	}
	if req.Coordinate != nil {
		payload["coordinate"] = req.Coordinate
	}
	s.hub.BroadcastToRole("supervisor", realtime.EventEmergencyAlert, payload)
	s.hub.BroadcastToRole("admin", realtime.EventEmergencyAlert, payload)

	logging.Warn().
		Str("user_id", identity.UserID).
		Str("site_id", identity.SiteID).
		Msg("emergency alert raised")

	// Gateway deliveries can take seconds; keep the read pump free.
	go s.emergencyFanOut(identity, req)
}

// emergencyFanOut pages every supervisor through all channels.
func (s *Server) emergencyFanOut(identity models.Identity, req emergencyAlertRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	supervisors, err := s.store.ListUsersByRole(ctx, "supervisor")
	if err != nil {
		logging.Err(err).Msg("failed to resolve supervisors for emergency alert")
		return
	}
	metadata := map[string]string{
		"raised_by": identity.UserID,
		"site_id":   identity.SiteID,
	}
	if req.Coordinate != nil {
		metadata["latitude"] = strconv.FormatFloat(req.Coordinate.Latitude, 'f', -1, 64)
		metadata["longitude"] = strconv.FormatFloat(req.Coordinate.Longitude, 'f', -1, 64)
	}
	for _, u := range supervisors {
		n := models.Notification{
			Type:        models.NotificationIncident,
			Title:       "Emergency alert",
			Message:     req.Message,
			SenderID:    identity.UserID,
			RecipientID: u.ID,
			Metadata:    metadata,
		}
		if _, err := s.dispatcher.SendEmergency(ctx, n); err != nil {
			logging.Err(err).Str("recipient_id", u.ID).Msg("emergency notification failed")
		}
	}
}

// remarshal converts the loosely-typed Data field of an inbound frame
// into a concrete request type.
func remarshal(data interface{}, dst interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
