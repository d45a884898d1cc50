// Ranger - Security Workforce Geofencing and Real-Time Operations
// Copyright 2026 Marc W. (marcwhitt)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/marcwhitt/ranger

// Package authz enforces role-based access over rooms, zones, and
// notification operations. Policies are Casbin-backed; deployments can
// override the built-in model and policy with files.
package authz

import (
	"fmt"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"

	"github.com/marcwhitt/ranger/internal/logging"
	"github.com/marcwhitt/ranger/internal/models"
)

// defaultModel is a standard RBAC model with keyMatch on objects so
// policies can cover room name patterns like "user:*".
const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch(r.obj, p.obj) && r.act == p.act
`

// Actions checked against policy.
const (
	ActJoin  = "join"
	ActRead  = "read"
	ActSend  = "send"
	ActWrite = "write"
)

// Objects checked against policy.
const (
	ObjZones         = "zones"
	ObjNotifications = "notifications"
	ObjEmergency     = "emergency"
	ObjEvents        = "events"
)

// Authorizer answers permission checks for authenticated identities.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// New builds an authorizer. Empty paths select the built-in model and
// policy; otherwise both files are loaded from disk.
func New(modelPath, policyPath string) (*Authorizer, error) {
	if modelPath != "" && policyPath != "" {
		e, err := casbin.NewEnforcer(modelPath, policyPath)
		if err != nil {
			return nil, fmt.Errorf("load authz policy: %w", err)
		}
		return &Authorizer{enforcer: e}, nil
	}

	m, err := casbinmodel.NewModelFromString(defaultModel)
	if err != nil {
		return nil, fmt.Errorf("parse authz model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("build authz enforcer: %w", err)
	}

	// Built-in policy. Admin inherits supervisor; supervisors watch
	// every room, manage zones, and send notifications; agents act
	// only on their own resources, which are granted structurally in
	// CanJoinRoom rather than by policy.
	policies := [][]string{
		{"supervisor", "user:*", ActJoin},
		{"supervisor", "role:*", ActJoin},
		{"supervisor", "site:*", ActJoin},
		{"supervisor", ObjZones, ActWrite},
		{"supervisor", ObjNotifications, ActSend},
		{"supervisor", ObjEvents, ActRead},
		{"admin", ObjEmergency, ActSend},
	}
	for _, p := range policies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("add authz policy: %w", err)
		}
	}
	if _, err := e.AddGroupingPolicy("admin", "supervisor"); err != nil {
		return nil, fmt.Errorf("add authz role inheritance: %w", err)
	}

	return &Authorizer{enforcer: e}, nil
}

// CanJoinRoom reports whether the identity may subscribe to a room.
// Every identity owns its personal, role, and site rooms; anything
// beyond that requires policy.
func (a *Authorizer) CanJoinRoom(id models.Identity, room string) bool {
	switch room {
	case models.UserRoom(id.UserID), models.RoleRoom(id.Role):
		return true
	case models.SiteRoom(id.SiteID):
		return id.SiteID != ""
	}
	return a.enforce(id.Role, room, ActJoin)
}

// CanManageZones reports whether the identity may create, update, or
// delete zone definitions.
func (a *Authorizer) CanManageZones(id models.Identity) bool {
	return a.enforce(id.Role, ObjZones, ActWrite)
}

// CanSendNotifications reports whether the identity may dispatch
// notifications to other users.
func (a *Authorizer) CanSendNotifications(id models.Identity) bool {
	return a.enforce(id.Role, ObjNotifications, ActSend)
}

// CanSendEmergency reports whether the identity may trigger emergency
// broadcasts, which override recipient preferences.
func (a *Authorizer) CanSendEmergency(id models.Identity) bool {
	return a.enforce(id.Role, ObjEmergency, ActSend)
}

// CanReadEvents reports whether the identity may read other agents'
// geofence event history. Agents can always read their own.
func (a *Authorizer) CanReadEvents(id models.Identity, agentID string) bool {
	if id.AgentID != "" && id.AgentID == agentID {
		return true
	}
	return a.enforce(id.Role, ObjEvents, ActRead)
}

func (a *Authorizer) enforce(sub, obj, act string) bool {
	ok, err := a.enforcer.Enforce(sub, obj, act)
	if err != nil {
		logging.Err(err).
			Str("sub", sub).
			Str("obj", obj).
			Str("act", act).
			Msg("authz enforcement error, denying")
		return false
	}
	return ok
}
