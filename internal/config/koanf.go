// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ranger/config.yaml",
	"/etc/ranger/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// LoadWithKoanf loads configuration with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// RANGER_SMTP_HOST -> gateways.smtp.host, LOG_LEVEL -> logging.level
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file path, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as strings from env vars.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// the known slice fields. Env vars come in as strings; YAML values are
// already slices and are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unknown variables are dropped so unrelated process env does not leak
// into the config tree.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",
		"environment":  "server.environment",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// NATS bus
		"nats_enabled":               "nats.enabled",
		"nats_url":                   "nats.url",
		"nats_embedded":              "nats.embedded_server",
		"nats_store_dir":             "nats.store_dir",
		"nats_max_memory":            "nats.max_memory",
		"nats_max_store":             "nats.max_store",
		"nats_durable_name":          "nats.durable_name",
		"nats_queue_group":           "nats.queue_group",
		"nats_router_retry_count":    "nats.router_retry_count",
		"nats_router_retry_interval": "nats.router_retry_initial_interval",
		"nats_router_close_timeout":  "nats.router_close_timeout",

		// Geofence engine
		"geofence_updates_per_second":   "geofence.updates_per_second",
		"geofence_update_burst":         "geofence.update_burst",
		"geofence_dwell_check_interval": "geofence.dwell_check_interval",

		// Realtime fabric and offline queue
		"realtime_write_timeout":    "realtime.write_timeout",
		"realtime_pong_timeout":     "realtime.pong_timeout",
		"realtime_ping_interval":    "realtime.ping_interval",
		"realtime_max_message_size": "realtime.max_message_size",
		"realtime_send_buffer":      "realtime.send_buffer_size",
		"queue_retention":           "realtime.queue_retention",
		"queue_sweep_interval":      "realtime.queue_sweep_every",
		"queue_per_user_limit":      "realtime.queue_per_user_limit",
		"queue_spill_path":          "realtime.queue_spill_path",

		// Notification dispatcher
		"notify_gateway_timeout":      "notify.gateway_timeout",
		"notify_expiry_sweep":         "notify.expiry_sweep_every",
		"notify_breaker_max_requests": "notify.breaker_max_requests",
		"notify_breaker_interval":     "notify.breaker_interval",
		"notify_breaker_timeout":      "notify.breaker_timeout",

		// Gateways
		"smtp_enabled":     "gateways.smtp.enabled",
		"smtp_host":        "gateways.smtp.host",
		"smtp_port":        "gateways.smtp.port",
		"smtp_username":    "gateways.smtp.username",
		"smtp_password":    "gateways.smtp.password",
		"smtp_from":        "gateways.smtp.from",
		"smtp_starttls":    "gateways.smtp.starttls",
		"sms_enabled":      "gateways.sms.enabled",
		"sms_url":          "gateways.sms.url",
		"sms_api_key":      "gateways.sms.api_key",
		"sms_timeout":      "gateways.sms.timeout",
		"push_enabled":     "gateways.push.enabled",
		"push_url":         "gateways.push.url",
		"push_api_key":     "gateways.push.api_key",
		"push_timeout":     "gateways.push.timeout",

		// Security
		"jwt_secret":          "security.jwt_secret",
		"rate_limit_requests": "security.rate_limit_reqs",
		"rate_limit_window":   "security.rate_limit_window",
		"disable_rate_limit":  "security.rate_limit_disabled",
		"cors_origins":        "security.cors_origins",
		"casbin_model_path":   "security.casbin_model_path",
		"casbin_policy_path":  "security.casbin_policy_path",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
