// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateGateways(); err != nil {
		return err
	}
	if err := c.validateRealtime(); err != nil {
		return err
	}
	if err := c.validateSecurity(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	switch c.Server.Environment {
	case "development", "staging", "production":
		return nil
	default:
		return fmt.Errorf("ENVIRONMENT must be development, staging or production, got %q", c.Server.Environment)
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH must not be empty")
	}
	return nil
}

func (c *Config) validateNATS() error {
	if !c.NATS.Enabled {
		return nil
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("NATS_URL is required when NATS_ENABLED=true")
	}
	if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		return fmt.Errorf("NATS_URL must start with nats:// or tls://, got %q", c.NATS.URL)
	}
	if c.NATS.RouterRetryCount < 0 {
		return fmt.Errorf("NATS_ROUTER_RETRY_COUNT must not be negative")
	}
	return nil
}

func (c *Config) validateGateways() error {
	if c.Gateways.SMTP.Enabled {
		if c.Gateways.SMTP.Host == "" {
			return fmt.Errorf("SMTP_HOST is required when SMTP_ENABLED=true")
		}
		if c.Gateways.SMTP.From == "" {
			return fmt.Errorf("SMTP_FROM is required when SMTP_ENABLED=true")
		}
		if c.Gateways.SMTP.Port < 1 || c.Gateways.SMTP.Port > 65535 {
			return fmt.Errorf("SMTP_PORT must be between 1 and 65535, got %d", c.Gateways.SMTP.Port)
		}
	}
	if err := validateHTTPGateway(c.Gateways.SMS, "SMS"); err != nil {
		return err
	}
	return validateHTTPGateway(c.Gateways.Push, "PUSH")
}

func validateHTTPGateway(g HTTPGatewayConfig, name string) error {
	if !g.Enabled {
		return nil
	}
	if g.URL == "" {
		return fmt.Errorf("%s_URL is required when %s_ENABLED=true", name, name)
	}
	u, err := url.Parse(g.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s_URL must be a valid http(s) URL, got %q", name, g.URL)
	}
	return nil
}

func (c *Config) validateRealtime() error {
	if c.Realtime.QueuePerUserLimit < 1 {
		return fmt.Errorf("QUEUE_PER_USER_LIMIT must be at least 1, got %d", c.Realtime.QueuePerUserLimit)
	}
	if c.Realtime.QueueRetention <= 0 {
		return fmt.Errorf("QUEUE_RETENTION must be positive")
	}
	if c.Realtime.PingInterval >= c.Realtime.PongTimeout {
		return fmt.Errorf("REALTIME_PING_INTERVAL must be shorter than REALTIME_PONG_TIMEOUT")
	}
	return nil
}

func (c *Config) validateSecurity() error {
	if c.Server.Environment == "production" && c.Security.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	if c.Security.JWTSecret != "" && len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters, got %d", len(c.Security.JWTSecret))
	}
	if !c.Security.RateLimitDisabled && c.Security.RateLimitReqs < 1 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1 when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, fatal, panic, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
