// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package models

import "time"

// Identity is the already-authenticated caller the transport layer hands
// to the core. Ranger trusts this input; token issuance and verification
// of credentials happen at the edge against the external provider.
type Identity struct {
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	SiteID  string `json:"site_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// Well-known room prefixes. Every connection is auto-joined to its
// user: and role: rooms; site: rooms are joined when the identity
// carries a site.
const (
	RoomPrefixUser = "user:"
	RoomPrefixRole = "role:"
	RoomPrefixSite = "site:"
)

// UserRoom returns the private room for a user.
func UserRoom(userID string) string { return RoomPrefixUser + userID }

// RoleRoom returns the shared room for a role.
func RoleRoom(role string) string { return RoomPrefixRole + role }

// SiteRoom returns the shared room for a site.
func SiteRoom(siteID string) string { return RoomPrefixSite + siteID }

// QueuedMessage is one message buffered for an offline user, flushed in
// enqueue order on reconnect.
type QueuedMessage struct {
	UserID     string    `json:"user_id"`
	Event      string    `json:"event"`
	Payload    []byte    `json:"payload"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// PresenceStatus is broadcast to supervisory roles when a user's
// last connection drops or first connection arrives.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)
