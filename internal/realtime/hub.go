// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package realtime is the WebSocket delivery fabric: connection
// lifecycle, room membership, targeted and room-wide sends, presence,
// and the offline queue for disconnected users.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/metrics"
	"github.com/marcwhitt/ranger/internal/models"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Event names pushed to clients.
const (
	EventNotification   = "notification"
	EventGeofence       = "geofence_event"
	EventPresence       = "presence"
	EventLocation       = "location_update"
	EventMessage        = "message"
	EventEmergencyAlert = "emergency_alert"
	EventPing           = "ping"
	EventPong           = "pong"
)

// Message is the wire envelope for every push.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// roomMessage targets every member of one room.
type roomMessage struct {
	room string
	msg  Message
}

// userMessage targets one user across all their connections; queued if
// none are open.
type userMessage struct {
	userID string
	msg    Message
}

// Presence is the payload broadcast to supervisory roles on user
// online/offline transitions.
type Presence struct {
	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
	At     time.Time             `json:"at"`
}

// Hub maintains the set of active clients and routes messages to them.
// Every client is auto-joined to its user: and role: rooms, plus its
// site: room when the identity carries a site.
type Hub struct {
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	broadcast  chan roomMessage
	direct     chan userMessage

	cfg   config.RealtimeConfig
	queue *OfflineQueue

	// done is closed when the hub stops so producers and late-exiting
	// pumps never block on a channel nothing consumes.
	done     chan struct{}
	stopOnce sync.Once
	mu       sync.RWMutex
}

// NewHub creates a hub backed by the given offline queue. Zero-valued
// tuning fields in cfg fall back to the package defaults.
func NewHub(cfg config.RealtimeConfig, queue *OfflineQueue) *Hub {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaultPongTimeout
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongTimeout {
		cfg.PingInterval = cfg.PongTimeout * 9 / 10
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = defaultSendBufferSize
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		broadcast:  make(chan roomMessage, 256),
		direct:     make(chan userMessage, 256),
		cfg:        cfg,
		queue:      queue,
		done:       make(chan struct{}),
	}
}

// RunWithContext runs the hub until ctx is canceled. Designed for suture
// supervision: on cancellation all clients are closed and ctx.Err() is
// returned.
//
// Selection is priority based. When multiple channels are ready Go's
// select picks randomly, which would let traffic race ahead of
// lifecycle changes; checking in tiers keeps client state consistent
// before any message is routed.
func (h *Hub) RunWithContext(ctx context.Context) error {
	for {
		// Priority 1: shutdown.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle.
		select {
		case client := <-h.Register:
			h.handleRegister(client)
			continue
		case client := <-h.Unregister:
			h.handleUnregister(client)
			continue
		default:
		}

		// Priority 3: traffic, or block until anything arrives.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.handleRegister(client)
		case client := <-h.Unregister:
			h.handleUnregister(client)
		case rm := <-h.broadcast:
			h.deliverToRoom(rm.room, rm.msg)
		case um := <-h.direct:
			h.deliverToUser(um.userID, um.msg)
		}
	}
}

// SendToUser delivers to every open connection of a user, or parks the
// message in the offline queue when the user has none. A full intake
// channel back-pressures the caller instead of dropping; user-targeted
// sends must reach the connection or the durable queue.
func (h *Hub) SendToUser(userID, event string, data interface{}) {
	um := userMessage{userID: userID, msg: Message{Event: event, Data: data}}
	select {
	case h.direct <- um:
	case <-h.done:
		// Hub stopped; keep the message for the next session.
		h.parkOffline(userID, um.msg)
	}
}

// BroadcastToRoom delivers to every current member of a room.
func (h *Hub) BroadcastToRoom(room, event string, data interface{}) {
	select {
	case h.broadcast <- roomMessage{room: room, msg: Message{Event: event, Data: data}}:
	default:
		logging.Warn().Str("room", room).Msg("hub broadcast channel full, dropping message")
	}
}

// BroadcastToRole delivers to every connected member of a role.
func (h *Hub) BroadcastToRole(role, event string, data interface{}) {
	h.BroadcastToRoom(models.RoleRoom(role), event, data)
}

// BroadcastToSite delivers to every connection joined to a site room.
func (h *Hub) BroadcastToSite(siteID, event string, data interface{}) {
	h.BroadcastToRoom(models.SiteRoom(siteID), event, data)
}

// IsOnline reports whether the user has at least one open connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID]) > 0
}

// ClientCount returns the number of open connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// RoomMembers returns the number of connections joined to a room.
func (h *Hub) RoomMembers(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// JoinRoom adds an established connection to an extra room. Room policy
// is enforced by the caller before this point.
func (h *Hub) JoinRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.clients[client] {
		return
	}
	h.joinRoomLocked(client, room)
}

// LeaveRoom removes a connection from a room.
func (h *Hub) LeaveRoom(client *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveRoomLocked(client, room)
}

func (h *Hub) handleRegister(client *Client) {
	h.mu.Lock()
	wasOnline := len(h.byUser[client.identity.UserID]) > 0

	h.clients[client] = true
	if h.byUser[client.identity.UserID] == nil {
		h.byUser[client.identity.UserID] = make(map[*Client]bool)
	}
	h.byUser[client.identity.UserID][client] = true

	h.joinRoomLocked(client, models.UserRoom(client.identity.UserID))
	h.joinRoomLocked(client, models.RoleRoom(client.identity.Role))
	if client.identity.SiteID != "" {
		h.joinRoomLocked(client, models.SiteRoom(client.identity.SiteID))
	}
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().
		Str("user_id", client.identity.UserID).
		Str("role", client.identity.Role).
		Int("total_clients", total).
		Msg("websocket client connected")

	// Flush parked messages in enqueue order before anything new. A
	// tail that overflows the connection's send buffer is re-parked
	// in order, not dropped; it flushes on the next register.
	if h.queue != nil {
		parked := h.queue.Drain(client.identity.UserID)
		for i, qm := range parked {
			if client.enqueue(Message{Event: qm.Event, Data: json.RawMessage(qm.Payload)}) {
				continue
			}
			for _, rest := range parked[i:] {
				h.queue.Enqueue(rest)
			}
			logging.Warn().
				Str("user_id", client.identity.UserID).
				Int("requeued", len(parked)-i).
				Msg("send buffer filled during flush, re-parked remainder")
			break
		}
	}

	if !wasOnline {
		h.broadcastPresence(client.identity.UserID, models.PresenceOnline)
	}
}

func (h *Hub) handleUnregister(client *Client) {
	h.mu.Lock()
	if !h.clients[client] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.send)

	if conns := h.byUser[client.identity.UserID]; conns != nil {
		delete(conns, client)
		if len(conns) == 0 {
			delete(h.byUser, client.identity.UserID)
		}
	}
	for room := range client.joined {
		h.leaveRoomLocked(client, room)
	}
	nowOffline := len(h.byUser[client.identity.UserID]) == 0
	total := len(h.clients)
	h.mu.Unlock()

	metrics.WebSocketConnections.Set(float64(total))
	logging.Info().
		Str("user_id", client.identity.UserID).
		Int("total_clients", total).
		Msg("websocket client disconnected")

	if nowOffline {
		h.broadcastPresence(client.identity.UserID, models.PresenceOffline)
	}
}

// broadcastPresence notifies supervisory roles of an online/offline
// transition. Delivered inline rather than through the broadcast channel
// so presence cannot reorder against a racing disconnect.
func (h *Hub) broadcastPresence(userID string, status models.PresenceStatus) {
	h.deliverToRoom(models.RoleRoom("supervisor"), Message{
		Event: EventPresence,
		Data:  Presence{UserID: userID, Status: status, At: time.Now().UTC()},
	})
}

// deliverToRoom fans a message out to room members in client ID order.
// Deterministic ordering keeps delivery sequences reproducible.
func (h *Hub) deliverToRoom(room string, msg Message) {
	h.mu.Lock()
	members := make([]*Client, 0, len(h.rooms[room]))
	for client := range h.rooms[room] {
		members = append(members, client)
	}
	h.mu.Unlock()

	sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })

	for _, client := range members {
		client.enqueue(msg)
	}
}

func (h *Hub) deliverToUser(userID string, msg Message) {
	h.mu.Lock()
	conns := make([]*Client, 0, len(h.byUser[userID]))
	for client := range h.byUser[userID] {
		conns = append(conns, client)
	}
	h.mu.Unlock()

	if len(conns) == 0 {
		h.parkOffline(userID, msg)
		return
	}

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	for _, client := range conns {
		client.enqueue(msg)
	}
}

func (h *Hub) parkOffline(userID string, msg Message) {
	if h.queue == nil {
		return
	}
	payload, err := json.Marshal(msg.Data)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("failed to encode message for offline queue")
		return
	}
	h.queue.Enqueue(models.QueuedMessage{
		UserID:     userID,
		Event:      msg.Event,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	})
	logging.Debug().Str("user_id", userID).Str("event", msg.Event).Msg("message queued for offline user")
}

func (h *Hub) joinRoomLocked(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]bool)
	}
	h.rooms[room][client] = true
	client.joined[room] = true
}

func (h *Hub) leaveRoomLocked(client *Client, room string) {
	if members := h.rooms[room]; members != nil {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(client.joined, room)
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.done) })

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	for _, client := range clients {
		close(client.send)
		delete(h.clients, client)
	}
	h.byUser = make(map[string]map[*Client]bool)
	h.rooms = make(map[string]map[*Client]bool)
	h.mu.Unlock()

	reason := ShutdownReasonContextCanceled
	if ctx.Err() == context.DeadlineExceeded {
		reason = ShutdownReasonContextDeadline
	}

	metrics.WebSocketConnections.Set(0)
	logging.Info().
		Str("component", "realtime-hub").
		Str("reason", string(reason)).
		Int("clients_closed", len(clients)).
		Msg("realtime hub stopped")
}
