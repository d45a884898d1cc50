// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package notify fans notifications out across delivery channels.
// Every notification is persisted before the first delivery attempt,
// so a crashed gateway never loses the record, and every attempt
// produces exactly one delivery receipt.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/gateway"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/metrics"
	"github.com/marcwhitt/ranger/internal/models"
	"github.com/marcwhitt/ranger/internal/realtime"
	"github.com/marcwhitt/ranger/internal/store"
)

// Dispatch errors surfaced to callers. Gateway failures are not among
// them; those are recorded as failed receipts instead.
var (
	ErrUnknownRecipient = errors.New("unknown recipient")
	ErrMissingContent   = errors.New("notification requires a title and message")
)

// Gateways bundles the external delivery backends. Any of them may be
// nil when the corresponding provider is not configured; attempts on a
// nil gateway are recorded as failed receipts.
type Gateways struct {
	Email gateway.EmailGateway
	SMS   gateway.SMSGateway
	Push  gateway.PushGateway
}

// Dispatcher routes notifications to recipients. External gateways sit
// behind per-gateway circuit breakers so a flapping provider stops
// burning the dispatch path's latency budget.
type Dispatcher struct {
	store    store.Store
	hub      *realtime.Hub
	gateways Gateways
	cfg      config.NotifyConfig

	emailBreaker *gobreaker.CircuitBreaker[struct{}]
	smsBreaker   *gobreaker.CircuitBreaker[struct{}]
	pushBreaker  *gobreaker.CircuitBreaker[struct{}]
}

// NewDispatcher wires a dispatcher against a store, the realtime hub
// for the in-app channel, and the configured external gateways.
func NewDispatcher(st store.Store, hub *realtime.Hub, gw Gateways, cfg config.NotifyConfig) *Dispatcher {
	d := &Dispatcher{
		store:    st,
		hub:      hub,
		gateways: gw,
		cfg:      cfg,
	}
	d.emailBreaker = d.newBreaker("email")
	d.smsBreaker = d.newBreaker("sms")
	d.pushBreaker = d.newBreaker("push")
	return d
}

func (d *Dispatcher) newBreaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: d.cfg.BreakerMaxRequests,
		Interval:    d.cfg.BreakerInterval,
		Timeout:     d.cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
			logging.Warn().
				Str("gateway", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("delivery breaker state change")
		},
	})
}

// Send persists a notification and delivers it over the recipient's
// enabled channels. The returned notification carries the assigned ID
// and timestamp. Delivery failures do not fail the call; they are
// recorded as receipts against the persisted notification.
func (d *Dispatcher) Send(ctx context.Context, n models.Notification) (models.Notification, error) {
	return d.send(ctx, n, false)
}

// SendEmergency forces delivery over every channel in priority order
// regardless of the recipient's preferences or quiet hours.
func (d *Dispatcher) SendEmergency(ctx context.Context, n models.Notification) (models.Notification, error) {
	n.Priority = models.PriorityCritical
	n.Channels = append([]models.Channel(nil), models.AllChannels...)
	return d.send(ctx, n, true)
}

// SendBulk delivers one copy of the notification to every user holding
// the given role. A failing recipient does not block the rest; the
// error from the last failure is returned alongside the successes.
func (d *Dispatcher) SendBulk(ctx context.Context, role string, n models.Notification) ([]models.Notification, error) {
	users, err := d.store.ListUsersByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list recipients for role %q: %w", role, err)
	}

	var (
		sent    []models.Notification
		lastErr error
	)
	for _, u := range users {
		per := n
		per.ID = ""
		per.RecipientID = u.ID
		per.RecipientRole = role
		out, err := d.send(ctx, per, false)
		if err != nil {
			logging.Err(err).Str("recipient_id", u.ID).Msg("bulk send failed for recipient")
			lastErr = err
			continue
		}
		sent = append(sent, out)
	}
	return sent, lastErr
}

func (d *Dispatcher) send(ctx context.Context, n models.Notification, emergency bool) (models.Notification, error) {
	if n.Title == "" || n.Message == "" {
		return models.Notification{}, ErrMissingContent
	}

	user, err := d.store.GetUser(ctx, n.RecipientID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.Notification{}, fmt.Errorf("%w: %s", ErrUnknownRecipient, n.RecipientID)
		}
		return models.Notification{}, fmt.Errorf("resolve recipient: %w", err)
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.RecipientRole == "" {
		n.RecipientRole = user.Role
	}
	if len(n.Channels) == 0 {
		n.Channels = []models.Channel{models.ChannelInApp}
	}

	// Persist before any delivery attempt. A gateway outage must never
	// lose the notification record.
	if err := d.store.SaveNotification(ctx, n); err != nil {
		return models.Notification{}, fmt.Errorf("persist notification: %w", err)
	}
	metrics.NotificationsDispatched.WithLabelValues(string(n.Priority)).Inc()

	prefs, err := d.store.GetPreferences(ctx, user.ID)
	if err != nil {
		logging.Err(err).Str("user_id", user.ID).Msg("preferences lookup failed, using defaults")
		prefs = models.DefaultPreferences(user.ID)
	}

	quiet := inQuietHours(prefs.QuietHours, time.Now()) && !bypassesQuietHours(n.Priority)

	for _, ch := range n.Channels {
		if !emergency {
			if !prefs.ChannelEnabled(ch) {
				logging.Debug().
					Str("notification_id", n.ID).
					Str("channel", string(ch)).
					Msg("channel disabled by preferences")
				continue
			}
			if quiet && ch != models.ChannelInApp {
				logging.Debug().
					Str("notification_id", n.ID).
					Str("channel", string(ch)).
					Msg("suppressed by quiet hours")
				continue
			}
		}
		d.deliver(ctx, n, user, ch)
	}

	return n, nil
}

// deliver runs a single channel attempt and records its receipt.
// Channel failures are independent; one gateway erroring never skips
// the remaining channels.
func (d *Dispatcher) deliver(ctx context.Context, n models.Notification, user models.User, ch models.Channel) {
	start := time.Now()
	err := d.attempt(ctx, n, user, ch)
	metrics.DeliveryDuration.WithLabelValues(string(ch)).Observe(time.Since(start).Seconds())

	receipt := models.DeliveryReceipt{
		NotificationID: n.ID,
		RecipientID:    user.ID,
		Channel:        ch,
		Status:         models.DeliveryDelivered,
		Timestamp:      time.Now().UTC(),
	}
	if err != nil {
		receipt.Status = models.DeliveryFailed
		receipt.Error = err.Error()
		logging.Err(err).
			Str("notification_id", n.ID).
			Str("recipient_id", user.ID).
			Str("channel", string(ch)).
			Str("error_code", gateway.CodeOf(err)).
			Msg("delivery attempt failed")
	}
	metrics.DeliveryReceipts.WithLabelValues(string(ch), string(receipt.Status)).Inc()

	if err := d.store.AppendDeliveryReceipt(ctx, receipt); err != nil {
		logging.Err(err).Str("notification_id", n.ID).Msg("failed to record delivery receipt")
	}
}

func (d *Dispatcher) attempt(ctx context.Context, n models.Notification, user models.User, ch models.Channel) error {
	switch ch {
	case models.ChannelInApp:
		// The hub queues for offline recipients, so in-app delivery
		// only fails when the hub itself is absent.
		if d.hub == nil {
			return errors.New("realtime hub not configured")
		}
		d.hub.SendToUser(user.ID, realtime.EventNotification, n)
		return nil

	case models.ChannelEmail:
		if d.gateways.Email == nil {
			return gateway.NewError(gateway.ErrorCodeConnectionFailed, errors.New("email gateway not configured"))
		}
		if user.Email == "" {
			return gateway.NewError(gateway.ErrorCodeInvalidRecipient, errors.New("recipient has no email address"))
		}
		htmlBody, textBody := renderEmail(n)
		return d.execute(ctx, d.emailBreaker, func(ctx context.Context) error {
			return d.gateways.Email.SendEmail(ctx, user.Email, n.Title, htmlBody, textBody)
		})

	case models.ChannelSMS:
		if d.gateways.SMS == nil {
			return gateway.NewError(gateway.ErrorCodeConnectionFailed, errors.New("sms gateway not configured"))
		}
		if user.Phone == "" {
			return gateway.NewError(gateway.ErrorCodeInvalidRecipient, errors.New("recipient has no phone number"))
		}
		return d.execute(ctx, d.smsBreaker, func(ctx context.Context) error {
			return d.gateways.SMS.SendSMS(ctx, user.Phone, renderSMS(n))
		})

	case models.ChannelPush:
		if d.gateways.Push == nil {
			return gateway.NewError(gateway.ErrorCodeConnectionFailed, errors.New("push gateway not configured"))
		}
		if len(user.DeviceTokens) == 0 {
			return gateway.NewError(gateway.ErrorCodeInvalidRecipient, errors.New("recipient has no registered devices"))
		}
		return d.execute(ctx, d.pushBreaker, func(ctx context.Context) error {
			return d.gateways.Push.SendPush(ctx, user.DeviceTokens, n.Title, n.Message, n.Metadata)
		})

	default:
		return fmt.Errorf("unsupported channel %q", ch)
	}
}

// execute runs a gateway call under its circuit breaker and the
// configured per-attempt timeout.
func (d *Dispatcher) execute(ctx context.Context, cb *gobreaker.CircuitBreaker[struct{}], fn func(context.Context) error) error {
	_, err := cb.Execute(func() (struct{}, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.GatewayTimeout)
		defer cancel()
		return struct{}{}, fn(attemptCtx)
	})
	return err
}

// MarkRead marks a single notification read as of now.
func (d *Dispatcher) MarkRead(ctx context.Context, id string) error {
	return d.store.MarkRead(ctx, id, time.Now().UTC())
}

// MarkAllRead marks every unread notification for the recipient and
// returns how many were updated.
func (d *Dispatcher) MarkAllRead(ctx context.Context, recipientID string) (int, error) {
	return d.store.MarkAllRead(ctx, recipientID, time.Now().UTC())
}

// UnreadCount returns how many unread notifications the recipient has.
func (d *Dispatcher) UnreadCount(ctx context.Context, recipientID string) (int, error) {
	return d.store.CountUnread(ctx, recipientID)
}

// List returns a recipient's notifications, newest first.
func (d *Dispatcher) List(ctx context.Context, recipientID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	return d.store.ListNotifications(ctx, recipientID, unreadOnly, limit)
}

// Receipts returns the delivery receipts recorded for a notification.
func (d *Dispatcher) Receipts(ctx context.Context, notificationID string) ([]models.DeliveryReceipt, error) {
	return d.store.ListReceipts(ctx, notificationID)
}

// RunExpirySweeper deletes expired notifications on the configured
// interval until the context is cancelled.
func (d *Dispatcher) RunExpirySweeper(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.ExpirySweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			n, err := d.store.DeleteExpired(ctx, now)
			if err != nil {
				logging.Err(err).Msg("notification expiry sweep failed")
				continue
			}
			if n > 0 {
				logging.Debug().Int("deleted", n).Msg("expired notifications removed")
			}
		}
	}
}
