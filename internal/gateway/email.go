// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
)

// SMTPGateway sends email over SMTP with optional STARTTLS and plain
// auth.
type SMTPGateway struct {
	cfg     config.SMTPConfig
	timeout time.Duration
}

// NewSMTPGateway creates an email gateway from config.
func NewSMTPGateway(cfg config.SMTPConfig) *SMTPGateway {
	return &SMTPGateway{cfg: cfg, timeout: 15 * time.Second}
}

// SendEmail delivers one message. HTML and text bodies are sent as a
// multipart/alternative payload when both are present.
func (g *SMTPGateway) SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if to == "" || !strings.Contains(to, "@") {
		return NewError(ErrorCodeInvalidRecipient, fmt.Errorf("invalid email address"))
	}

	msg := g.buildMessage(to, subject, htmlBody, textBody)
	if err := g.sendSMTP(ctx, to, msg); err != nil {
		logging.Error().Err(err).Str("to", logging.RedactEmail(to)).Msg("email delivery failed")
		return NewError(classify(err), err)
	}

	logging.Debug().Str("to", logging.RedactEmail(to)).Msg("email delivered")
	return nil
}

func (g *SMTPGateway) buildMessage(to, subject, htmlBody, textBody string) string {
	var msg strings.Builder

	msg.WriteString(fmt.Sprintf("From: %s\r\n", g.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", to))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")

	hasHTML := htmlBody != ""
	hasText := textBody != ""

	switch {
	case hasHTML && hasText:
		boundary := fmt.Sprintf("boundary_%d", time.Now().UnixNano())
		msg.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary))

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(textBody)
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(htmlBody)
		msg.WriteString("\r\n")

		msg.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	case hasHTML:
		msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		msg.WriteString(htmlBody)
	default:
		msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		msg.WriteString(textBody)
	}

	return msg.String()
}

func (g *SMTPGateway) sendSMTP(ctx context.Context, to, msg string) error {
	addr := fmt.Sprintf("%s:%d", g.cfg.Host, g.cfg.Port)

	dialer := &net.Dialer{Timeout: g.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // best-effort cleanup

	client, err := smtp.NewClient(conn, g.cfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer func() { _ = client.Close() }() //nolint:errcheck // best-effort cleanup

	if g.cfg.StartTLS {
		tlsConfig := &tls.Config{
			ServerName: g.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if g.cfg.Username != "" && g.cfg.Password != "" {
		auth := smtp.PlainAuth("", g.cfg.Username, g.cfg.Password, g.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(g.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to start message: %w", err)
	}
	if _, err := writer.Write([]byte(msg)); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close message: %w", err)
	}

	// QUIT failures after an accepted DATA are not delivery failures.
	_ = client.Quit() //nolint:errcheck
	return nil
}
