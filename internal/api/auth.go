// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/marcwhitt/ranger/internal/models"
)

// Claims is the JWT payload carried by every authenticated request and
// WebSocket handshake.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
	SiteID  string `json:"site_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// Identity converts the claims to the internal identity type.
func (c *Claims) Identity() models.Identity {
	return models.Identity{
		UserID:  c.UserID,
		Role:    c.Role,
		SiteID:  c.SiteID,
		AgentID: c.AgentID,
	}
}

var errInvalidToken = errors.New("invalid token")

// GenerateToken signs an HS256 token for the identity, valid for ttl.
func GenerateToken(secret string, id models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:  id.UserID,
		Role:    id.Role,
		SiteID:  id.SiteID,
		AgentID: id.AgentID,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an HS256 token and extracts the identity.
func ParseToken(secret, tokenString string) (models.Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return models.Identity{}, fmt.Errorf("%w: %w", errInvalidToken, err)
	}
	if !token.Valid || claims.UserID == "" || claims.Role == "" {
		return models.Identity{}, errInvalidToken
	}
	return claims.Identity(), nil
}

type contextKey string

const identityKey contextKey = "identity"

// IdentityFromContext returns the authenticated identity attached by
// the authenticate middleware.
func IdentityFromContext(ctx context.Context) (models.Identity, bool) {
	id, ok := ctx.Value(identityKey).(models.Identity)
	return id, ok
}

// bearerToken extracts the credential from the Authorization header,
// falling back to the "token" query parameter for WebSocket clients
// that cannot set headers.
func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if after, ok := strings.CutPrefix(h, "Bearer "); ok {
			return after
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// authenticate rejects requests without a valid token and stashes the
// identity on the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing credentials")
			return
		}
		identity, err := ParseToken(s.cfg.Security.JWTSecret, token)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
