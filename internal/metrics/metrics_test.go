// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(GeofenceEvents.WithLabelValues("ENTER"))
	GeofenceEvents.WithLabelValues("ENTER").Inc()
	after := testutil.ToFloat64(GeofenceEvents.WithLabelValues("ENTER"))
	if after != before+1 {
		t.Errorf("GeofenceEvents ENTER = %v, want %v", after, before+1)
	}

	before = testutil.ToFloat64(DeliveryReceipts.WithLabelValues("EMAIL", "DELIVERED"))
	DeliveryReceipts.WithLabelValues("EMAIL", "DELIVERED").Inc()
	after = testutil.ToFloat64(DeliveryReceipts.WithLabelValues("EMAIL", "DELIVERED"))
	if after != before+1 {
		t.Errorf("DeliveryReceipts = %v, want %v", after, before+1)
	}
}

func TestGauges(t *testing.T) {
	WebSocketConnections.Set(3)
	if got := testutil.ToFloat64(WebSocketConnections); got != 3 {
		t.Errorf("WebSocketConnections = %v, want 3", got)
	}

	OfflineQueueDepth.Set(42)
	if got := testutil.ToFloat64(OfflineQueueDepth); got != 42 {
		t.Errorf("OfflineQueueDepth = %v, want 42", got)
	}

	BreakerState.WithLabelValues("smtp").Set(2)
	if got := testutil.ToFloat64(BreakerState.WithLabelValues("smtp")); got != 2 {
		t.Errorf("BreakerState smtp = %v, want 2", got)
	}
}
