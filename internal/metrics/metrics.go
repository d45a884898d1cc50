// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package metrics exposes Prometheus collectors for the geofence engine,
// the realtime fabric and the notification pipeline. Collectors are
// registered on the default registry via promauto so they are served by
// the standard /metrics handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocketConnections tracks currently open client connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ranger_websocket_connections",
		Help: "Number of currently connected WebSocket clients",
	})

	// WebSocketMessagesSent counts messages pushed to clients.
	WebSocketMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ranger_websocket_messages_sent_total",
		Help: "Total messages delivered over WebSocket connections",
	})

	// GeofenceEvents counts emitted geofence events by type.
	GeofenceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_geofence_events_total",
		Help: "Total geofence events emitted, by event type",
	}, []string{"type"})

	// LocationUpdates counts location updates by outcome
	// (processed, throttled, dropped).
	LocationUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_location_updates_total",
		Help: "Total location updates received, by outcome",
	}, []string{"outcome"})

	// NotificationsDispatched counts dispatched notifications by priority.
	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_notifications_dispatched_total",
		Help: "Total notifications accepted for dispatch, by priority",
	}, []string{"priority"})

	// DeliveryReceipts counts per-channel delivery attempts by status.
	DeliveryReceipts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_delivery_receipts_total",
		Help: "Total channel delivery attempts, by channel and status",
	}, []string{"channel", "status"})

	// DeliveryDuration observes per-channel gateway latency.
	DeliveryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ranger_delivery_duration_seconds",
		Help:    "Gateway delivery latency by channel",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})

	// OfflineQueueDepth tracks messages parked for offline users.
	OfflineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ranger_offline_queue_depth",
		Help: "Messages currently held in the offline queue",
	})

	// OfflineQueueDropped counts messages evicted from the offline queue
	// (retention expiry or per-user cap).
	OfflineQueueDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_offline_queue_dropped_total",
		Help: "Messages evicted from the offline queue, by reason",
	}, []string{"reason"})

	// BusPublishes counts event bus publishes by topic.
	BusPublishes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ranger_bus_publishes_total",
		Help: "Total messages published to the event bus, by topic",
	}, []string{"topic"})

	// BreakerState reports gateway circuit breaker state
	// (0 closed, 1 half-open, 2 open).
	BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ranger_gateway_breaker_state",
		Help: "Circuit breaker state per delivery gateway (0=closed, 1=half-open, 2=open)",
	}, []string{"gateway"})
)
