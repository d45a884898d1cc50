// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package gateway adapts external delivery providers (SMTP, SMS and
// push webhooks) behind narrow interfaces. Gateways classify failures
// as transient or permanent so the dispatcher can decide what is worth
// retrying; credentials are never logged.
package gateway

import (
	"context"
	"errors"
	"strings"
)

// EmailGateway delivers email through an external provider.
type EmailGateway interface {
	SendEmail(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// SMSGateway delivers text messages through an external provider.
type SMSGateway interface {
	SendSMS(ctx context.Context, phone, text string) error
}

// PushGateway delivers push notifications to device tokens.
type PushGateway interface {
	SendPush(ctx context.Context, tokens []string, title, body string, data map[string]string) error
}

// Machine-readable delivery error codes.
const (
	ErrorCodeInvalidRecipient  = "INVALID_RECIPIENT"
	ErrorCodeConnectionFailed  = "CONNECTION_FAILED"
	ErrorCodeAuthFailed        = "AUTH_FAILED"
	ErrorCodeRateLimited       = "RATE_LIMITED"
	ErrorCodeRecipientNotFound = "RECIPIENT_NOT_FOUND"
	ErrorCodeServerError       = "SERVER_ERROR"
	ErrorCodeTimeout           = "TIMEOUT"
	ErrorCodeUnknown           = "UNKNOWN"
)

// Error wraps a provider failure with its classification.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	return e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError classifies and wraps a provider failure.
func NewError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the error code from a gateway error, classifying
// unwrapped errors by their text as a fallback.
func CodeOf(err error) string {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Code
	}
	return classify(err)
}

// IsTransient reports whether a delivery failure is worth retrying.
// Auth and recipient failures are permanent; infrastructure failures
// are not.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case ErrorCodeConnectionFailed, ErrorCodeTimeout, ErrorCodeRateLimited, ErrorCodeServerError:
		return true
	default:
		return false
	}
}

func classify(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	errStr := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errStr, "auth"):
		return ErrorCodeAuthFailed
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline"):
		return ErrorCodeTimeout
	case strings.Contains(errStr, "connection") || strings.Contains(errStr, "connect") || strings.Contains(errStr, "refused"):
		return ErrorCodeConnectionFailed
	case strings.Contains(errStr, "recipient") || strings.Contains(errStr, "mailbox"):
		return ErrorCodeRecipientNotFound
	case strings.Contains(errStr, "rate") || strings.Contains(errStr, "limit"):
		return ErrorCodeRateLimited
	default:
		return ErrorCodeUnknown
	}
}
