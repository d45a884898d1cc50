// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package config defines the Ranger configuration model and the layered
// Koanf loader. Precedence is ENV > config file > built-in defaults.
package config

import (
	"time"
)

// Config is the root configuration shared by all Ranger components.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	NATS     NATSConfig     `koanf:"nats"`
	Geofence GeofenceConfig `koanf:"geofence"`
	Realtime RealtimeConfig `koanf:"realtime"`
	Notify   NotifyConfig   `koanf:"notify"`
	Gateways GatewaysConfig `koanf:"gateways"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig covers the HTTP/WebSocket listener.
type ServerConfig struct {
	Host        string        `koanf:"host"`
	Port        int           `koanf:"port"`
	Timeout     time.Duration `koanf:"timeout"`
	Environment string        `koanf:"environment"`
}

// DatabaseConfig covers the DuckDB event and notification store.
type DatabaseConfig struct {
	Path                   string `koanf:"path"`
	MaxMemory              string `koanf:"max_memory"`
	Threads                int    `koanf:"threads"`
	PreserveInsertionOrder bool   `koanf:"preserve_insertion_order"`
}

// NATSConfig covers the message bus. When Enabled is false the bus falls
// back to in-process Go channels, which is the single-node default.
type NATSConfig struct {
	Enabled        bool   `koanf:"enabled"`
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
	MaxMemory      int64  `koanf:"max_memory"`
	MaxStore       int64  `koanf:"max_store"`
	DurableName    string `koanf:"durable_name"`
	QueueGroup     string `koanf:"queue_group"`

	// Watermill router middleware.
	RouterRetryCount           int           `koanf:"router_retry_count"`
	RouterRetryInitialInterval time.Duration `koanf:"router_retry_initial_interval"`
	RouterCloseTimeout         time.Duration `koanf:"router_close_timeout"`
}

// GeofenceConfig covers the geofence evaluation engine.
type GeofenceConfig struct {
	// UpdatesPerSecond bounds location updates accepted per agent.
	// Zero disables the limiter.
	UpdatesPerSecond float64 `koanf:"updates_per_second"`
	UpdateBurst      int     `koanf:"update_burst"`
	// DwellCheckInterval drives periodic dwell-rule evaluation for
	// agents that stop sending updates while inside a zone.
	DwellCheckInterval time.Duration `koanf:"dwell_check_interval"`
}

// RealtimeConfig covers the WebSocket fabric and the offline queue.
type RealtimeConfig struct {
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	PongTimeout       time.Duration `koanf:"pong_timeout"`
	PingInterval      time.Duration `koanf:"ping_interval"`
	MaxMessageSize    int64         `koanf:"max_message_size"`
	SendBufferSize    int           `koanf:"send_buffer_size"`
	QueueRetention    time.Duration `koanf:"queue_retention"`
	QueueSweepEvery   time.Duration `koanf:"queue_sweep_every"`
	QueuePerUserLimit int           `koanf:"queue_per_user_limit"`
	// QueueSpillPath enables durable Badger spill for the offline
	// queue when non-empty.
	QueueSpillPath string `koanf:"queue_spill_path"`
}

// NotifyConfig covers the notification dispatcher.
type NotifyConfig struct {
	GatewayTimeout     time.Duration `koanf:"gateway_timeout"`
	ExpirySweepEvery   time.Duration `koanf:"expiry_sweep_every"`
	BreakerMaxRequests uint32        `koanf:"breaker_max_requests"`
	BreakerInterval    time.Duration `koanf:"breaker_interval"`
	BreakerTimeout     time.Duration `koanf:"breaker_timeout"`
}

// GatewaysConfig covers the external delivery providers.
type GatewaysConfig struct {
	SMTP SMTPConfig        `koanf:"smtp"`
	SMS  HTTPGatewayConfig `koanf:"sms"`
	Push HTTPGatewayConfig `koanf:"push"`
}

// SMTPConfig covers the email gateway.
type SMTPConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	StartTLS bool   `koanf:"starttls"`
}

// HTTPGatewayConfig covers webhook-style providers (SMS, push).
type HTTPGatewayConfig struct {
	Enabled bool          `koanf:"enabled"`
	URL     string        `koanf:"url"`
	APIKey  string        `koanf:"api_key"`
	Timeout time.Duration `koanf:"timeout"`
}

// SecurityConfig covers edge authentication and room authorization.
type SecurityConfig struct {
	JWTSecret         string        `koanf:"jwt_secret"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	CasbinModelPath   string        `koanf:"casbin_model_path"`
	CasbinPolicyPath  string        `koanf:"casbin_policy_path"`
}

// LoggingConfig covers zerolog output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Default returns a Config with all defaults applied, without reading
// the config file or environment.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first and may be overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8471,
			Timeout:     30 * time.Second,
			Environment: "development",
		},
		Database: DatabaseConfig{
			Path:                   "/data/ranger.duckdb",
			MaxMemory:              "1GB",
			Threads:                0, // 0 = runtime.NumCPU()
			PreserveInsertionOrder: true,
		},
		NATS: NATSConfig{
			Enabled:                    false, // in-process bus by default
			URL:                        "nats://127.0.0.1:4222",
			EmbeddedServer:             false,
			StoreDir:                   "/data/nats/jetstream",
			MaxMemory:                  1 << 30,
			MaxStore:                   4 << 30,
			DurableName:                "ranger-geofence",
			QueueGroup:                 "geofence-workers",
			RouterRetryCount:           3,
			RouterRetryInitialInterval: 100 * time.Millisecond,
			RouterCloseTimeout:         30 * time.Second,
		},
		Geofence: GeofenceConfig{
			UpdatesPerSecond:   2,
			UpdateBurst:        5,
			DwellCheckInterval: 15 * time.Second,
		},
		Realtime: RealtimeConfig{
			WriteTimeout:      10 * time.Second,
			PongTimeout:       60 * time.Second,
			PingInterval:      54 * time.Second,
			MaxMessageSize:    64 << 10,
			SendBufferSize:    256,
			QueueRetention:    24 * time.Hour,
			QueueSweepEvery:   time.Hour,
			QueuePerUserLimit: 500,
			QueueSpillPath:    "",
		},
		Notify: NotifyConfig{
			GatewayTimeout:     10 * time.Second,
			ExpirySweepEvery:   time.Hour,
			BreakerMaxRequests: 3,
			BreakerInterval:    time.Minute,
			BreakerTimeout:     30 * time.Second,
		},
		Gateways: GatewaysConfig{
			SMTP: SMTPConfig{
				Enabled:  false,
				Port:     587,
				StartTLS: true,
			},
			SMS: HTTPGatewayConfig{
				Enabled: false,
				Timeout: 10 * time.Second,
			},
			Push: HTTPGatewayConfig{
				Enabled: false,
				Timeout: 10 * time.Second,
			},
		},
		Security: SecurityConfig{
			JWTSecret:         "",
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
			CORSOrigins:       []string{"*"},
			CasbinModelPath:   "",
			CasbinPolicyPath:  "",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
