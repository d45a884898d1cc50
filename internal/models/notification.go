// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package models

import "time"

// Channel is one notification delivery medium.
type Channel string

const (
	ChannelInApp Channel = "IN_APP"
	ChannelEmail Channel = "EMAIL"
	ChannelSMS   Channel = "SMS"
	ChannelPush  Channel = "PUSH"
)

// AllChannels lists every delivery medium, in the order an emergency
// fan-out attempts them.
var AllChannels = []Channel{ChannelPush, ChannelSMS, ChannelEmail, ChannelInApp}

// NotificationType classifies what a notification is about.
type NotificationType string

const (
	NotificationSystem   NotificationType = "SYSTEM"
	NotificationSecurity NotificationType = "SECURITY"
	NotificationIncident NotificationType = "INCIDENT"
	NotificationShift    NotificationType = "SHIFT"
	NotificationGeofence NotificationType = "GEOFENCE"
)

// Priority orders notifications by urgency. CRITICAL bypasses quiet hours.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityUrgent   Priority = "URGENT"
	PriorityCritical Priority = "CRITICAL"
)

// Notification is one logical message to a recipient (or a role, for bulk
// sends), fanned out across the requested channels.
type Notification struct {
	ID       string           `json:"id"`
	Type     NotificationType `json:"type"`
	Priority Priority         `json:"priority"`
	Title    string           `json:"title" validate:"required"`
	Message  string           `json:"message" validate:"required"`

	// Exactly one of RecipientID / RecipientRole is set. RecipientRole
	// is only used by bulk sends; the persisted record always carries a
	// resolved RecipientID.
	RecipientID   string `json:"recipient_id,omitempty"`
	RecipientRole string `json:"recipient_role,omitempty"`

	SenderID  string     `json:"sender_id,omitempty"`
	Channels  []Channel  `json:"channels"`
	ActionURL string     `json:"action_url,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`

	// Metadata carries producer-defined context.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DeliveryStatus is the terminal state of one channel attempt.
type DeliveryStatus string

const (
	DeliveryDelivered DeliveryStatus = "DELIVERED"
	DeliveryFailed    DeliveryStatus = "FAILED"
)

// DeliveryReceipt records the outcome of exactly one
// (notification, recipient, channel) delivery attempt. Append-only.
type DeliveryReceipt struct {
	NotificationID string         `json:"notification_id"`
	RecipientID    string         `json:"recipient_id"`
	Channel        Channel        `json:"channel"`
	Status         DeliveryStatus `json:"status"`
	Timestamp      time.Time      `json:"timestamp"`
	Error          string         `json:"error,omitempty"`
}

// QuietHours is a per-user window during which non-critical notifications
// are suppressed. Times are "HH:MM" in the user's configured timezone;
// a window with Start > End wraps midnight.
type QuietHours struct {
	Enabled  bool   `json:"enabled"`
	Start    string `json:"start"`
	End      string `json:"end"`
	Timezone string `json:"timezone"`
}

// NotificationPreferences gates per-channel delivery for one user.
type NotificationPreferences struct {
	UserID     string     `json:"user_id"`
	EmailOn    bool       `json:"email_on"`
	SMSOn      bool       `json:"sms_on"`
	PushOn     bool       `json:"push_on"`
	InAppOn    bool       `json:"in_app_on"`
	QuietHours QuietHours `json:"quiet_hours"`
}

// DefaultPreferences returns the preferences applied to users with no
// stored settings: all channels on, quiet hours off.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{
		UserID:  userID,
		EmailOn: true,
		SMSOn:   true,
		PushOn:  true,
		InAppOn: true,
		QuietHours: QuietHours{
			Enabled:  false,
			Start:    "22:00",
			End:      "08:00",
			Timezone: "UTC",
		},
	}
}

// ChannelEnabled reports whether the user allows the given channel.
func (p NotificationPreferences) ChannelEnabled(ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return p.EmailOn
	case ChannelSMS:
		return p.SMSOn
	case ChannelPush:
		return p.PushOn
	case ChannelInApp:
		return p.InAppOn
	default:
		return false
	}
}

// User is the minimal recipient record the core needs for delivery:
// contact points plus role for bulk fan-out. Identity and authentication
// stay external.
type User struct {
	ID           string   `json:"id"`
	Role         string   `json:"role"`
	Email        string   `json:"email,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	DeviceTokens []string `json:"device_tokens,omitempty"`
	SiteID       string   `json:"site_id,omitempty"`
	AgentID      string   `json:"agent_id,omitempty"`
}
