// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package api

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/marcwhitt/ranger/internal/logging"
)

// apiResponse is the envelope for every JSON reply.
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&apiResponse{Success: status < 400, Data: data})
	if err != nil {
		logging.Err(err).Msg("failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Err(err).Msg("failed to write response")
	}
}

func respondError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")

	body, err := json.Marshal(&apiResponse{Success: false, Error: msg})
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logging.Err(err).Msg("failed to write error response")
	}
}

// decodeBody parses a JSON request body into dst. Unknown fields are
// tolerated; clients may send extra attributes.
func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close() //nolint:errcheck // best-effort cleanup
	return json.NewDecoder(r.Body).Decode(dst)
}
