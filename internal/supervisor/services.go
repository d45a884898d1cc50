// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

package supervisor

import "context"

// ServeFunc adapts a context-driven run function to suture.Service.
type ServeFunc struct {
	Name string
	Run  func(ctx context.Context) error
}

// NewService wraps a run function as a named supervised service.
func NewService(name string, run func(ctx context.Context) error) *ServeFunc {
	return &ServeFunc{Name: name, Run: run}
}

// Serve implements suture.Service. During tree shutdown the supervisor
// ignores the return value, so run functions may surface ctx.Err().
func (s *ServeFunc) Serve(ctx context.Context) error {
	return s.Run(ctx)
}

// String names the service in supervisor logs.
func (s *ServeFunc) String() string { return s.Name }
