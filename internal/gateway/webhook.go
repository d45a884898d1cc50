// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/logging"
)

// webhookClient posts JSON payloads to a provider endpoint and maps
// HTTP status codes to delivery error codes. Both the SMS and push
// providers speak this shape.
type webhookClient struct {
	url    string
	apiKey string
	client *http.Client
}

func newWebhookClient(cfg config.HTTPGatewayConfig) *webhookClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookClient{
		url:    cfg.URL,
		apiKey: cfg.APIKey,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *webhookClient) post(ctx context.Context, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return NewError(ErrorCodeUnknown, fmt.Errorf("encode payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return NewError(ErrorCodeUnknown, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return NewError(classify(err), fmt.Errorf("provider request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a bounded slice of the body for diagnostics.
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("provider returned %d: %s", resp.StatusCode, snippet)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return NewError(ErrorCodeAuthFailed, err)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity:
		return NewError(ErrorCodeRecipientNotFound, err)
	case resp.StatusCode == http.StatusTooManyRequests:
		return NewError(ErrorCodeRateLimited, err)
	case resp.StatusCode >= 500:
		return NewError(ErrorCodeServerError, err)
	default:
		return NewError(ErrorCodeUnknown, err)
	}
}

// SMSWebhookGateway delivers texts through a webhook-style SMS provider.
type SMSWebhookGateway struct {
	client *webhookClient
}

// NewSMSWebhookGateway creates an SMS gateway from config.
func NewSMSWebhookGateway(cfg config.HTTPGatewayConfig) *SMSWebhookGateway {
	return &SMSWebhookGateway{client: newWebhookClient(cfg)}
}

// SendSMS posts one text message to the provider.
func (g *SMSWebhookGateway) SendSMS(ctx context.Context, phone, text string) error {
	if phone == "" {
		return NewError(ErrorCodeInvalidRecipient, fmt.Errorf("empty phone number"))
	}

	err := g.client.post(ctx, map[string]string{
		"to":   phone,
		"body": text,
	})
	if err != nil {
		logging.Error().Err(err).Str("to", logging.RedactPhone(phone)).Msg("sms delivery failed")
		return err
	}

	logging.Debug().Str("to", logging.RedactPhone(phone)).Msg("sms delivered")
	return nil
}

// PushWebhookGateway delivers push notifications through a webhook-style
// provider that fans out to device tokens.
type PushWebhookGateway struct {
	client *webhookClient
}

// NewPushWebhookGateway creates a push gateway from config.
func NewPushWebhookGateway(cfg config.HTTPGatewayConfig) *PushWebhookGateway {
	return &PushWebhookGateway{client: newWebhookClient(cfg)}
}

// SendPush posts one notification addressed to all of a user's device
// tokens. Providers handle per-token fan-out and token pruning.
func (g *PushWebhookGateway) SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error {
	if len(tokens) == 0 {
		return NewError(ErrorCodeInvalidRecipient, fmt.Errorf("no device tokens"))
	}

	err := g.client.post(ctx, map[string]interface{}{
		"tokens": tokens,
		"title":  title,
		"body":   body,
		"data":   data,
	})
	if err != nil {
		logging.Error().Err(err).Int("tokens", len(tokens)).Msg("push delivery failed")
		return err
	}

	logging.Debug().Int("tokens", len(tokens)).Msg("push delivered")
	return nil
}
