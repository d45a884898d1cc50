// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package notify

import (
	"time"

	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

// inQuietHours reports whether now falls inside the user's quiet
// window. The window is inclusive on both ends and wraps midnight when
// Start > End (22:00-06:00 covers late evening through early morning).
// Comparison happens in the user's configured timezone; an unknown
// timezone falls back to UTC rather than suppressing delivery wrongly.
func inQuietHours(q models.QuietHours, now time.Time) bool {
	if !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		logging.Warn().Str("timezone", q.Timezone).Msg("unknown quiet hours timezone, using UTC")
		loc = time.UTC
	}

	current := now.In(loc).Format("15:04")
	if q.Start <= q.End {
		return current >= q.Start && current <= q.End
	}
	return current >= q.Start || current <= q.End
}

// bypassesQuietHours reports whether a priority is urgent enough to cut
// through the quiet window.
func bypassesQuietHours(p models.Priority) bool {
	return p == models.PriorityCritical
}
