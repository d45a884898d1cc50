// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package main is the entry point for the Ranger server.
//
// Ranger tracks security agents against geofenced zones in real time
// and fans observability and alerting out to supervisors: zone
// entry/exit/dwell/speed events, multi-channel notifications with
// delivery receipts, and WebSocket pushes with offline catch-up.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 layered load (defaults, config.yaml, env)
//  2. Database: DuckDB for zones, events, notifications, receipts
//  3. Bus: in-process channels, or NATS JetStream (embedded or external)
//  4. Realtime: WebSocket hub with Badger-backed offline queue
//  5. Gateways: SMTP, SMS, and push webhooks as configured
//  6. Dispatch: notification dispatcher with per-gateway breakers
//  7. Geofence: zone index and event engine fed from the bus
//  8. HTTP: chi REST API plus the /ws endpoint
//
// Everything long-lived runs under a suture supervision tree and shuts
// down gracefully on SIGINT or SIGTERM.
//
// Configuration comes from environment variables and an optional YAML
// file addressed by CONFIG_PATH. Minimal production setup:
//
//	export DUCKDB_PATH=/data/ranger.duckdb
//	export JWT_SECRET=$(openssl rand -base64 32)
//	export ENVIRONMENT=production
//	./ranger
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcwhitt/ranger/internal/api"
	"github.com/marcwhitt/ranger/internal/authz"
	"github.com/marcwhitt/ranger/internal/bus"
	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/gateway"
	"github.com/marcwhitt/ranger/internal/geo"
	"github.com/marcwhitt/ranger/internal/geofence"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/notify"
	"github.com/marcwhitt/ranger/internal/realtime"
	"github.com/marcwhitt/ranger/internal/store"
	"github.com/marcwhitt/ranger/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWithKoanf()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	})
	logging.Info().
		Str("environment", cfg.Server.Environment).
		Int("port", cfg.Server.Port).
		Bool("nats", cfg.NATS.Enabled).
		Msg("ranger starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence.
	db, err := store.NewDuckDB(&cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close database")
		}
	}()

	// Message bus. With NATS disabled everything flows through
	// in-process channels, which suits single-node deployments.
	busLogger := bus.NewZerologAdapter(logging.Logger())
	var (
		b        *bus.Bus
		embedded *bus.EmbeddedServer
	)
	if cfg.NATS.Enabled {
		if cfg.NATS.EmbeddedServer {
			embedded, err = bus.StartEmbeddedServer(&cfg.NATS)
			if err != nil {
				return fmt.Errorf("start embedded nats: %w", err)
			}
			cfg.NATS.URL = embedded.ClientURL()
			logging.Info().Str("url", cfg.NATS.URL).Msg("embedded nats server running")
		}
		b, err = bus.NewNATS(&cfg.NATS, busLogger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
	} else {
		b = bus.NewInProcess(busLogger)
	}
	defer func() {
		if err := b.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close bus")
		}
		if embedded != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Warn().Err(err).Msg("embedded nats shutdown incomplete")
			}
			shutdownCancel()
		}
	}()

	// Realtime hub with offline catch-up.
	queue, err := realtime.NewOfflineQueue(cfg.Realtime.QueueRetention, cfg.Realtime.QueuePerUserLimit, cfg.Realtime.QueueSpillPath)
	if err != nil {
		return fmt.Errorf("open offline queue: %w", err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close offline queue")
		}
	}()
	hub := realtime.NewHub(cfg.Realtime, queue)

	// Delivery gateways and the dispatcher.
	dispatcher := notify.NewDispatcher(db, hub, buildGateways(cfg), cfg.Notify)

	// Geofence engine over the shared zone index.
	index := geo.NewIndex()
	engine := geofence.NewEngine(index, db, b, hub, dispatcher, cfg.Geofence)
	if err := engine.LoadZones(ctx); err != nil {
		return err
	}

	// Bus router feeding the engine.
	routerCfg := bus.DefaultRouterConfig()
	routerCfg.CloseTimeout = cfg.NATS.RouterCloseTimeout
	routerCfg.RetryMaxRetries = cfg.NATS.RouterRetryCount
	routerCfg.RetryInitialInterval = cfg.NATS.RouterRetryInitialInterval
	router, err := bus.NewRouter(routerCfg, b, busLogger)
	if err != nil {
		return fmt.Errorf("build bus router: %w", err)
	}
	engine.RegisterHandlers(router)

	// Authorization and the HTTP surface.
	az, err := authz.New(cfg.Security.CasbinModelPath, cfg.Security.CasbinPolicyPath)
	if err != nil {
		return fmt.Errorf("build authorizer: %w", err)
	}
	server := api.NewServer(cfg, db, engine, dispatcher, hub, b, az)

	// Supervision tree.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(supervisor.NewService("realtime-hub", hub.RunWithContext))
	tree.AddMessagingService(supervisor.NewService("bus-router", router.Run))
	tree.AddMessagingService(supervisor.NewService("offline-queue-sweeper", func(ctx context.Context) error {
		return queue.RunSweeper(ctx, cfg.Realtime.QueueSweepEvery)
	}))
	tree.AddMessagingService(supervisor.NewService("notification-expiry", dispatcher.RunExpirySweeper))
	tree.AddProcessingService(supervisor.NewService("dwell-checker", engine.RunDwellChecker))
	tree.AddAPIService(supervisor.NewService("http-server", server.Serve))

	// Shutdown on SIGINT/SIGTERM.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("starting supervisor tree")
	errCh := tree.ServeBackground(ctx)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("ranger stopped")
	return nil
}

// buildGateways constructs the configured delivery backends. Anything
// left disabled stays nil; attempts on it are recorded as failed
// receipts rather than refused upfront.
func buildGateways(cfg *config.Config) notify.Gateways {
	var gw notify.Gateways
	if cfg.Gateways.SMTP.Enabled {
		gw.Email = gateway.NewSMTPGateway(cfg.Gateways.SMTP)
		logging.Info().Str("host", cfg.Gateways.SMTP.Host).Msg("smtp gateway enabled")
	}
	if cfg.Gateways.SMS.Enabled {
		gw.SMS = gateway.NewSMSWebhookGateway(cfg.Gateways.SMS)
		logging.Info().Msg("sms gateway enabled")
	}
	if cfg.Gateways.Push.Enabled {
		gw.Push = gateway.NewPushWebhookGateway(cfg.Gateways.Push)
		logging.Info().Msg("push gateway enabled")
	}
	return gw
}
