// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package notify

import (
	"fmt"
	"html"
	"strings"
	"unicode/utf8"

	"github.com/marcwhitt/ranger/internal/models"
)

// priorityColor maps a priority to the accent color used in email
// bodies so urgent messages stand out in a crowded inbox.
func priorityColor(p models.Priority) string {
	switch p {
	case models.PriorityCritical:
		return "#d32f2f"
	case models.PriorityUrgent:
		return "#f57c00"
	case models.PriorityHigh:
		return "#fbc02d"
	case models.PriorityMedium:
		return "#1976d2"
	default:
		return "#616161"
	}
}

// renderEmail produces the HTML and plain-text bodies for a
// notification email. Both parts carry the same content so text-only
// clients lose nothing but the styling.
func renderEmail(n models.Notification) (htmlBody, textBody string) {
	var b strings.Builder
	b.WriteString("<!DOCTYPE html><html><body style=\"font-family:sans-serif;margin:0;padding:16px\">")
	fmt.Fprintf(&b, "<div style=\"border-left:4px solid %s;padding:8px 16px\">", priorityColor(n.Priority))
	fmt.Fprintf(&b, "<h2 style=\"margin:0 0 8px\">%s</h2>", html.EscapeString(n.Title))
	fmt.Fprintf(&b, "<p style=\"margin:0 0 12px;white-space:pre-wrap\">%s</p>", html.EscapeString(n.Message))
	if n.ActionURL != "" {
		fmt.Fprintf(&b, "<p><a href=\"%s\">View details</a></p>", html.EscapeString(n.ActionURL))
	}
	fmt.Fprintf(&b, "<p style=\"color:#888;font-size:12px;margin:0\">Priority: %s</p>", n.Priority)
	b.WriteString("</div></body></html>")

	var t strings.Builder
	t.WriteString(n.Title)
	t.WriteString("\n\n")
	t.WriteString(n.Message)
	if n.ActionURL != "" {
		t.WriteString("\n\n")
		t.WriteString(n.ActionURL)
	}
	fmt.Fprintf(&t, "\n\nPriority: %s", n.Priority)

	return b.String(), t.String()
}

// smsMaxLen keeps messages inside a single GSM segment budget used by
// most providers for concatenated texts.
const smsMaxLen = 320

// renderSMS flattens a notification into a single text message,
// truncating long bodies rather than splitting across many segments.
// The cut always lands on a rune boundary so the body stays valid
// UTF-8.
func renderSMS(n models.Notification) string {
	text := n.Title + ": " + n.Message
	if len(text) > smsMaxLen {
		cut := smsMaxLen - 3
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}
