// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

// DuckDB is the production Store backed by an embedded DuckDB file.
// DuckDB's columnar layout suits the write-heavy, scan-on-query shape of
// the event log; zones and users are small dimension tables beside it.
type DuckDB struct {
	conn *sql.DB
}

// NewDuckDB opens (or creates) the database at cfg.Path and bootstraps
// the schema.
func NewDuckDB(cfg *config.DatabaseConfig) (*DuckDB, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	if dbDir := filepath.Dir(cfg.Path); dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	preserveOrder := "true"
	if !cfg.PreserveInsertionOrder {
		preserveOrder = "false"
	}

	connStr := fmt.Sprintf("%s?access_mode=read_write&threads=%d&max_memory=%s&preserve_insertion_order=%s&autoinstall_known_extensions=false&autoload_known_extensions=false",
		cfg.Path, numThreads, cfg.MaxMemory, preserveOrder)

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// DuckDB is in-process; a single writer connection avoids lock
	// contention on the file.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DuckDB{conn: conn}
	if err := db.initSchema(); err != nil {
		if cerr := conn.Close(); cerr != nil {
			logging.Warn().Err(cerr).Msg("Failed to close database after schema error")
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Str("path", cfg.Path).Msg("DuckDB store ready")
	return db, nil
}

// Close releases the underlying connection.
func (db *DuckDB) Close() error {
	return db.conn.Close()
}

func (db *DuckDB) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS zones (
			id VARCHAR PRIMARY KEY,
			site_id VARCHAR NOT NULL,
			name VARCHAR NOT NULL,
			polygon_json VARCHAR NOT NULL,
			rules_json VARCHAR NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT true,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS geofence_events (
			id VARCHAR PRIMARY KEY,
			agent_id VARCHAR NOT NULL,
			zone_id VARCHAR NOT NULL,
			site_id VARCHAR NOT NULL,
			event_type VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			occurred_at TIMESTAMP NOT NULL,
			metadata_json VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS location_updates (
			agent_id VARCHAR NOT NULL,
			site_id VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			accuracy DOUBLE,
			speed DOUBLE,
			heading DOUBLE,
			recorded_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id VARCHAR PRIMARY KEY,
			type VARCHAR NOT NULL,
			priority VARCHAR NOT NULL,
			title VARCHAR NOT NULL,
			message VARCHAR NOT NULL,
			recipient_id VARCHAR NOT NULL,
			sender_id VARCHAR,
			channels_json VARCHAR NOT NULL,
			action_url VARCHAR,
			expires_at TIMESTAMP,
			is_read BOOLEAN NOT NULL DEFAULT false,
			read_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			metadata_json VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_receipts (
			notification_id VARCHAR NOT NULL,
			recipient_id VARCHAR NOT NULL,
			channel VARCHAR NOT NULL,
			status VARCHAR NOT NULL,
			attempted_at TIMESTAMP NOT NULL,
			error VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR PRIMARY KEY,
			role VARCHAR NOT NULL,
			email VARCHAR,
			phone VARCHAR,
			device_tokens_json VARCHAR,
			site_id VARCHAR,
			agent_id VARCHAR
		)`,
		`CREATE TABLE IF NOT EXISTS notification_preferences (
			user_id VARCHAR PRIMARY KEY,
			email_on BOOLEAN NOT NULL,
			sms_on BOOLEAN NOT NULL,
			push_on BOOLEAN NOT NULL,
			in_app_on BOOLEAN NOT NULL,
			quiet_enabled BOOLEAN NOT NULL,
			quiet_start VARCHAR NOT NULL,
			quiet_end VARCHAR NOT NULL,
			quiet_timezone VARCHAR NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_agent_time ON geofence_events(agent_id, occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_recipient ON notifications(recipient_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_receipts_notification ON delivery_receipts(notification_id)`,
	}

	for _, q := range queries {
		if _, err := db.conn.Exec(q); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}

// --- ZoneStore ---

func (db *DuckDB) SaveZone(ctx context.Context, zone models.Zone) error {
	polygon, err := json.Marshal(zone.Polygon)
	if err != nil {
		return fmt.Errorf("failed to encode polygon: %w", err)
	}
	rules, err := json.Marshal(zone.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO zones (id, site_id, name, polygon_json, rules_json, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			site_id = excluded.site_id,
			name = excluded.name,
			polygon_json = excluded.polygon_json,
			rules_json = excluded.rules_json,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		zone.ID, zone.SiteID, zone.Name, string(polygon), string(rules),
		zone.IsActive, zone.CreatedAt, zone.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save zone %s: %w", zone.ID, err)
	}
	return nil
}

func (db *DuckDB) GetZone(ctx context.Context, zoneID string) (models.Zone, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, site_id, name, polygon_json, rules_json, is_active, created_at, updated_at
		FROM zones WHERE id = ?`, zoneID)
	zone, err := scanZone(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Zone{}, fmt.Errorf("zone %s: %w", zoneID, ErrNotFound)
	}
	return zone, err
}

func (db *DuckDB) LoadActiveZones(ctx context.Context) ([]models.Zone, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, site_id, name, polygon_json, rules_json, is_active, created_at, updated_at
		FROM zones WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load zones: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var zones []models.Zone
	for rows.Next() {
		zone, err := scanZone(rows)
		if err != nil {
			return nil, err
		}
		zones = append(zones, zone)
	}
	return zones, rows.Err()
}

func (db *DuckDB) DeleteZone(ctx context.Context, zoneID string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM zones WHERE id = ?`, zoneID)
	if err != nil {
		return fmt.Errorf("failed to delete zone %s: %w", zoneID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("zone %s: %w", zoneID, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanZone(row rowScanner) (models.Zone, error) {
	var zone models.Zone
	var polygonJSON, rulesJSON string
	err := row.Scan(&zone.ID, &zone.SiteID, &zone.Name, &polygonJSON, &rulesJSON,
		&zone.IsActive, &zone.CreatedAt, &zone.UpdatedAt)
	if err != nil {
		return models.Zone{}, err
	}
	if err := json.Unmarshal([]byte(polygonJSON), &zone.Polygon); err != nil {
		return models.Zone{}, fmt.Errorf("failed to decode polygon for zone %s: %w", zone.ID, err)
	}
	if err := json.Unmarshal([]byte(rulesJSON), &zone.Rules); err != nil {
		return models.Zone{}, fmt.Errorf("failed to decode rules for zone %s: %w", zone.ID, err)
	}
	return zone, nil
}

// --- EventStore ---

func (db *DuckDB) AppendGeofenceEvent(ctx context.Context, event models.GeofenceEvent) error {
	var metadata interface{}
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode event metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO geofence_events (id, agent_id, zone_id, site_id, event_type, latitude, longitude, occurred_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.AgentID, event.ZoneID, event.SiteID, string(event.EventType),
		event.Coordinate.Latitude, event.Coordinate.Longitude, event.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("failed to append geofence event: %w", err)
	}
	return nil
}

func (db *DuckDB) AppendLocationUpdate(ctx context.Context, update models.LocationUpdate) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO location_updates (agent_id, site_id, latitude, longitude, accuracy, speed, heading, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		update.AgentID, update.SiteID, update.Coordinate.Latitude, update.Coordinate.Longitude,
		update.Accuracy, update.Speed, update.Heading, update.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append location update: %w", err)
	}
	return nil
}

func (db *DuckDB) ListGeofenceEvents(ctx context.Context, agentID string, since time.Time, limit int) ([]models.GeofenceEvent, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, agent_id, zone_id, site_id, event_type, latitude, longitude, occurred_at, metadata_json
		FROM geofence_events
		WHERE agent_id = ? AND occurred_at >= ?
		ORDER BY occurred_at DESC
		LIMIT ?`, agentID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list geofence events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var events []models.GeofenceEvent
	for rows.Next() {
		var ev models.GeofenceEvent
		var eventType string
		var metadata sql.NullString
		if err := rows.Scan(&ev.ID, &ev.AgentID, &ev.ZoneID, &ev.SiteID, &eventType,
			&ev.Coordinate.Latitude, &ev.Coordinate.Longitude, &ev.Timestamp, &metadata); err != nil {
			return nil, err
		}
		ev.EventType = models.GeofenceEventType(eventType)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode event metadata: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// --- NotificationStore ---

func (db *DuckDB) SaveNotification(ctx context.Context, n models.Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("failed to encode channels: %w", err)
	}
	var metadata interface{}
	if len(n.Metadata) > 0 {
		b, err := json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode notification metadata: %w", err)
		}
		metadata = string(b)
	}

	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO notifications (id, type, priority, title, message, recipient_id, sender_id,
			channels_json, action_url, expires_at, is_read, read_at, created_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, string(n.Type), string(n.Priority), n.Title, n.Message, n.RecipientID,
		nullIfEmpty(n.SenderID), string(channels), nullIfEmpty(n.ActionURL),
		n.ExpiresAt, n.IsRead, n.ReadAt, n.CreatedAt, metadata)
	if err != nil {
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	return nil
}

func (db *DuckDB) GetNotification(ctx context.Context, id string) (models.Notification, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, type, priority, title, message, recipient_id, sender_id,
			channels_json, action_url, expires_at, is_read, read_at, created_at, metadata_json
		FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Notification{}, fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return n, err
}

func (db *DuckDB) ListNotifications(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, type, priority, title, message, recipient_id, sender_id,
			channels_json, action_url, expires_at, is_read, read_at, created_at, metadata_json
		FROM notifications WHERE recipient_id = ?`
	if unreadOnly {
		query += ` AND NOT is_read`
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var out []models.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func scanNotification(row rowScanner) (models.Notification, error) {
	var n models.Notification
	var nType, priority, channelsJSON string
	var senderID, actionURL, metadataJSON sql.NullString
	var expiresAt, readAt sql.NullTime

	err := row.Scan(&n.ID, &nType, &priority, &n.Title, &n.Message, &n.RecipientID,
		&senderID, &channelsJSON, &actionURL, &expiresAt, &n.IsRead, &readAt,
		&n.CreatedAt, &metadataJSON)
	if err != nil {
		return models.Notification{}, err
	}

	n.Type = models.NotificationType(nType)
	n.Priority = models.Priority(priority)
	n.SenderID = senderID.String
	n.ActionURL = actionURL.String
	if expiresAt.Valid {
		t := expiresAt.Time
		n.ExpiresAt = &t
	}
	if readAt.Valid {
		t := readAt.Time
		n.ReadAt = &t
	}
	if err := json.Unmarshal([]byte(channelsJSON), &n.Channels); err != nil {
		return models.Notification{}, fmt.Errorf("failed to decode channels for %s: %w", n.ID, err)
	}
	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &n.Metadata); err != nil {
			return models.Notification{}, fmt.Errorf("failed to decode metadata for %s: %w", n.ID, err)
		}
	}
	return n, nil
}

func (db *DuckDB) MarkRead(ctx context.Context, id string, at time.Time) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notifications SET is_read = true, read_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %s: %w", id, ErrNotFound)
	}
	return nil
}

func (db *DuckDB) MarkAllRead(ctx context.Context, recipientID string, at time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE notifications SET is_read = true, read_at = ?
		WHERE recipient_id = ? AND NOT is_read`, at, recipientID)
	if err != nil {
		return 0, fmt.Errorf("failed to mark all read for %s: %w", recipientID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DuckDB) CountUnread(ctx context.Context, recipientID string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM notifications
		WHERE recipient_id = ? AND NOT is_read`, recipientID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread for %s: %w", recipientID, err)
	}
	return n, nil
}

func (db *DuckDB) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM notifications WHERE expires_at IS NOT NULL AND expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (db *DuckDB) AppendDeliveryReceipt(ctx context.Context, r models.DeliveryReceipt) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO delivery_receipts (notification_id, recipient_id, channel, status, attempted_at, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.NotificationID, r.RecipientID, string(r.Channel), string(r.Status),
		r.Timestamp, nullIfEmpty(r.Error))
	if err != nil {
		return fmt.Errorf("failed to append delivery receipt: %w", err)
	}
	return nil
}

func (db *DuckDB) ListReceipts(ctx context.Context, notificationID string) ([]models.DeliveryReceipt, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT notification_id, recipient_id, channel, status, attempted_at, error
		FROM delivery_receipts WHERE notification_id = ? ORDER BY attempted_at`, notificationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list receipts: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var receipts []models.DeliveryReceipt
	for rows.Next() {
		var r models.DeliveryReceipt
		var channel, status string
		var errStr sql.NullString
		if err := rows.Scan(&r.NotificationID, &r.RecipientID, &channel, &status, &r.Timestamp, &errStr); err != nil {
			return nil, err
		}
		r.Channel = models.Channel(channel)
		r.Status = models.DeliveryStatus(status)
		r.Error = errStr.String
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// --- UserStore ---

func (db *DuckDB) GetUser(ctx context.Context, userID string) (models.User, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, role, email, phone, device_tokens_json, site_id, agent_id
		FROM users WHERE id = ?`, userID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return u, err
}

func (db *DuckDB) ListUsersByRole(ctx context.Context, role string) ([]models.User, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, role, email, phone, device_tokens_json, site_id, agent_id
		FROM users WHERE role = ? ORDER BY id`, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var email, phone, tokens, siteID, agentID sql.NullString
	if err := row.Scan(&u.ID, &u.Role, &email, &phone, &tokens, &siteID, &agentID); err != nil {
		return models.User{}, err
	}
	u.Email = email.String
	u.Phone = phone.String
	u.SiteID = siteID.String
	u.AgentID = agentID.String
	if tokens.Valid && tokens.String != "" {
		if err := json.Unmarshal([]byte(tokens.String), &u.DeviceTokens); err != nil {
			return models.User{}, fmt.Errorf("failed to decode device tokens for %s: %w", u.ID, err)
		}
	}
	return u, nil
}

func (db *DuckDB) SaveUser(ctx context.Context, u models.User) error {
	var tokens interface{}
	if len(u.DeviceTokens) > 0 {
		b, err := json.Marshal(u.DeviceTokens)
		if err != nil {
			return fmt.Errorf("failed to encode device tokens: %w", err)
		}
		tokens = string(b)
	}

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO users (id, role, email, phone, device_tokens_json, site_id, agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			email = excluded.email,
			phone = excluded.phone,
			device_tokens_json = excluded.device_tokens_json,
			site_id = excluded.site_id,
			agent_id = excluded.agent_id`,
		u.ID, u.Role, nullIfEmpty(u.Email), nullIfEmpty(u.Phone), tokens,
		nullIfEmpty(u.SiteID), nullIfEmpty(u.AgentID))
	if err != nil {
		return fmt.Errorf("failed to save user %s: %w", u.ID, err)
	}
	return nil
}

func (db *DuckDB) GetPreferences(ctx context.Context, userID string) (models.NotificationPreferences, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT user_id, email_on, sms_on, push_on, in_app_on,
			quiet_enabled, quiet_start, quiet_end, quiet_timezone
		FROM notification_preferences WHERE user_id = ?`, userID)

	var p models.NotificationPreferences
	err := row.Scan(&p.UserID, &p.EmailOn, &p.SMSOn, &p.PushOn, &p.InAppOn,
		&p.QuietHours.Enabled, &p.QuietHours.Start, &p.QuietHours.End, &p.QuietHours.Timezone)
	if errors.Is(err, sql.ErrNoRows) {
		// Users without stored settings get defaults; this is not an
		// error path.
		return models.DefaultPreferences(userID), nil
	}
	if err != nil {
		return models.NotificationPreferences{}, fmt.Errorf("failed to load preferences for %s: %w", userID, err)
	}
	return p, nil
}

func (db *DuckDB) SavePreferences(ctx context.Context, p models.NotificationPreferences) error {
	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO notification_preferences
			(user_id, email_on, sms_on, push_on, in_app_on, quiet_enabled, quiet_start, quiet_end, quiet_timezone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			email_on = excluded.email_on,
			sms_on = excluded.sms_on,
			push_on = excluded.push_on,
			in_app_on = excluded.in_app_on,
			quiet_enabled = excluded.quiet_enabled,
			quiet_start = excluded.quiet_start,
			quiet_end = excluded.quiet_end,
			quiet_timezone = excluded.quiet_timezone`,
		p.UserID, p.EmailOn, p.SMSOn, p.PushOn, p.InAppOn,
		p.QuietHours.Enabled, p.QuietHours.Start, p.QuietHours.End, p.QuietHours.Timezone)
	if err != nil {
		return fmt.Errorf("failed to save preferences for %s: %w", p.UserID, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}
