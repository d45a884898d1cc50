// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package realtime

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/metrics"
	"github.com/marcwhitt/ranger/internal/models"
)

// Fallbacks for zero-valued RealtimeConfig tuning fields.
const (
	defaultWriteTimeout   = 10 * time.Second
	defaultPongTimeout    = 60 * time.Second
	defaultMaxMessageSize = 64 * 1024
	defaultSendBufferSize = 256
)

// clientIDCounter assigns monotonically increasing IDs so broadcast
// order is deterministic regardless of map iteration.
var clientIDCounter atomic.Uint64

// Client is one authenticated WebSocket connection.
type Client struct {
	id       uint64
	hub      *Hub
	conn     *websocket.Conn
	identity models.Identity
	send     chan Message

	// joined tracks room membership; guarded by the hub mutex.
	joined map[string]bool

	// inbound, when set, receives every non-ping frame from the client.
	// Set before StartPumps; not safe to change afterwards.
	inbound func(*Client, Message)
}

// NewClient wraps an upgraded connection with its authenticated
// identity. The caller registers it with the hub and starts the pumps.
func NewClient(hub *Hub, conn *websocket.Conn, identity models.Identity) *Client {
	return &Client{
		id:       clientIDCounter.Add(1),
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan Message, hub.cfg.SendBufferSize),
		joined:   make(map[string]bool),
	}
}

// ID returns the connection's ordering key.
func (c *Client) ID() uint64 { return c.id }

// Identity returns the authenticated identity behind the connection.
func (c *Client) Identity() models.Identity { return c.identity }

// SetInboundHandler installs the callback for client-to-server frames
// other than the application-level ping.
func (c *Client) SetInboundHandler(fn func(*Client, Message)) {
	c.inbound = fn
}

// Send queues a message directly for this connection.
func (c *Client) Send(msg Message) {
	c.enqueue(msg)
}

// enqueue hands a message to the write pump and reports whether it was
// accepted. A full buffer drops the message rather than blocking the
// hub; the connection stays up.
func (c *Client) enqueue(msg Message) bool {
	select {
	case c.send <- msg:
		metrics.WebSocketMessagesSent.Inc()
		return true
	default:
		logging.Warn().
			Str("user_id", c.identity.UserID).
			Str("event", msg.Event).
			Msg("client send buffer full, dropping message")
		return false
	}
}

// detach hands the connection back to the hub. Returns immediately when
// the hub has already shut down and nothing consumes Unregister.
func (c *Client) detach() {
	select {
	case c.hub.Unregister <- c:
	case <-c.hub.done:
	}
}

// StartPumps launches the read and write goroutines for the connection.
func (c *Client) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// readPump consumes inbound frames. Application-level pings are
// answered here; other frames go to the inbound handler when one is
// installed. Exit unregisters the client.
func (c *Client) readPump() {
	defer func() {
		c.detach()
		_ = c.conn.Close() // best-effort cleanup
	}()

	pongWait := c.hub.cfg.PongTimeout
	c.conn.SetReadLimit(c.hub.cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("user_id", c.identity.UserID).Msg("unexpected websocket close")
			}
			return
		}

		if msg.Event == EventPing {
			c.enqueue(Message{Event: EventPong})
			continue
		}
		if c.inbound != nil {
			c.inbound(c, msg)
		}
	}
}

// writePump serializes outbound messages and keeps the connection alive
// with protocol pings.
func (c *Client) writePump() {
	writeWait := c.hub.cfg.WriteTimeout
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close() // best-effort cleanup
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Debug().Err(err).Msg("failed to write close frame")
				}
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				logging.Error().Err(err).Str("user_id", c.identity.UserID).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
