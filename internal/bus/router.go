// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// RouterConfig tunes the Watermill router middleware.
type RouterConfig struct {
	CloseTimeout         time.Duration
	RetryMaxRetries      int
	RetryInitialInterval time.Duration
	PoisonTopic          string
}

// DefaultRouterConfig returns production defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		RetryMaxRetries:      3,
		RetryInitialInterval: 100 * time.Millisecond,
		PoisonTopic:          TopicPoison,
	}
}

// Router runs message handlers with panic recovery, retry backoff and
// poison queue routing. Messages are acked on handler success and
// retried on failure; messages that exhaust retries land on the poison
// topic instead of blocking the stream.
type Router struct {
	router *message.Router
	bus    *Bus
	logger watermill.LoggerAdapter
}

// NewRouter builds a router over the given bus.
func NewRouter(cfg RouterConfig, b *Bus, logger watermill.LoggerAdapter) (*Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	wmRouter, err := message.NewRouter(message.RouterConfig{
		CloseTimeout: cfg.CloseTimeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill router: %w", err)
	}

	// Outer to inner: recover panics first, then retry, then poison.
	wmRouter.AddMiddleware(middleware.CorrelationID)
	wmRouter.AddMiddleware(middleware.Recoverer)

	retry := middleware.Retry{
		MaxRetries:      cfg.RetryMaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     time.Minute,
		Multiplier:      2.0,
		Logger:          logger,
	}
	wmRouter.AddMiddleware(retry.Middleware)

	if cfg.PoisonTopic != "" {
		poison, err := middleware.PoisonQueue(b.Publisher(), cfg.PoisonTopic)
		if err != nil {
			return nil, fmt.Errorf("create poison queue middleware: %w", err)
		}
		wmRouter.AddMiddleware(poison)
	}

	return &Router{router: wmRouter, bus: b, logger: logger}, nil
}

// AddNoPublisherHandler registers a terminal handler for a topic.
func (r *Router) AddNoPublisherHandler(name, topic string, handler message.NoPublishHandlerFunc) {
	r.router.AddNoPublisherHandler(name, topic, r.bus.Subscriber(), handler)
}

// AddHandler registers a handler that republishes its output messages.
func (r *Router) AddHandler(name, subscribeTopic, publishTopic string, handler message.HandlerFunc) {
	r.router.AddHandler(name, subscribeTopic, r.bus.Subscriber(), publishTopic, r.bus.Publisher(), handler)
}

// Run blocks until ctx is canceled or the router fails.
func (r *Router) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running returns a channel closed once all handlers are started. Tests
// wait on it before publishing.
func (r *Router) Running() <-chan struct{} {
	return r.router.Running()
}

// Close stops the router, waiting up to CloseTimeout for in-flight
// handlers.
func (r *Router) Close() error {
	return r.router.Close()
}
