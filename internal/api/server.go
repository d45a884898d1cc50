// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package api exposes the HTTP surface: zone administration,
// notification operations, event history, location ingestion, and the
// WebSocket endpoint for real-time pushes.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/marcwhitt/ranger/internal/authz"
	"github.com/marcwhitt/ranger/internal/bus"
	"github.com/marcwhitt/ranger/internal/config"
	"github.com/marcwhitt/ranger/internal/geofence"
	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/notify"
	"github.com/marcwhitt/ranger/internal/realtime"
	"github.com/marcwhitt/ranger/internal/store"
)

// Server wires handlers to their dependencies and owns the listener.
type Server struct {
	cfg        *config.Config
	store      store.Store
	engine     *geofence.Engine
	dispatcher *notify.Dispatcher
	hub        *realtime.Hub
	bus        *bus.Bus
	authz      *authz.Authorizer
	upgrader   websocket.Upgrader

	httpServer *http.Server
}

// NewServer builds the API server. The bus may be nil; location
// ingestion then runs through the engine synchronously.
func NewServer(cfg *config.Config, st store.Store, engine *geofence.Engine, dispatcher *notify.Dispatcher, hub *realtime.Hub, b *bus.Bus, az *authz.Authorizer) *Server {
	s := &Server{
		cfg:        cfg,
		store:      st,
		engine:     engine,
		dispatcher: dispatcher,
		hub:        hub,
		bus:        b,
		authz:      az,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Router assembles the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		if !s.cfg.Security.RateLimitDisabled {
			r.Use(httprate.LimitByIP(s.cfg.Security.RateLimitReqs, s.cfg.Security.RateLimitWindow))
		}
		r.Use(s.authenticate)

		r.Route("/zones", func(r chi.Router) {
			r.Get("/", s.handleListZones)
			r.Get("/{zoneID}", s.handleGetZone)
			r.Post("/", s.handleSaveZone)
			r.Put("/{zoneID}", s.handleSaveZone)
			r.Delete("/{zoneID}", s.handleDeleteZone)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Get("/unread-count", s.handleUnreadCount)
			r.Post("/", s.handleSendNotification)
			r.Post("/emergency", s.handleSendEmergency)
			r.Post("/read-all", s.handleMarkAllRead)
			r.Post("/{notificationID}/read", s.handleMarkRead)
			r.Get("/{notificationID}/receipts", s.handleListReceipts)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Get("/", s.handleGetPreferences)
			r.Put("/", s.handleSavePreferences)
		})

		r.Post("/locations", s.handleIngestLocation)
		r.Get("/events", s.handleListEvents)
	})

	return r
}

// Serve runs the HTTP server until the context is cancelled, then
// shuts down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       s.cfg.Server.Timeout,
		// WriteTimeout stays unset; the WebSocket endpoint holds
		// connections open indefinitely.
		IdleTimeout: 120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("http server listening")
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.Timeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.ClientCount(),
		"zones":       len(s.engine.ListZones(context.Background())),
	})
}

// checkOrigin mirrors the CORS allowlist for WebSocket upgrades. An
// empty allowlist admits any origin, which suits development setups.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.Security.CORSOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Security.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// requestLogger emits one structured line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("http request")
	})
}
