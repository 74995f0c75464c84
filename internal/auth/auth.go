// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved. This file is part of aika.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package auth maps API tokens to the opaque caller identity the
// historian engine works with, and provides the role-based access
// policy the reference backend consults.
package auth

import (
	"github.com/lulzzz/aika/internal/historian"
	"github.com/lulzzz/aika/pkg/schema"
)

// Role grants a capability class.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleWriter Role = "writer"
	RoleReader Role = "reader"
)

// User is the concrete caller identity behind a verified token.
type User struct {
	Username string
	Roles    []Role
}

var _ historian.Caller = (*User)(nil)

func (u *User) Name() string { return u.Username }

func (u *User) HasRole(role Role) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Anonymous runs requests when authentication is disabled.
var Anonymous = &User{Username: "anonymous", Roles: []Role{RoleAdmin, RoleWriter, RoleReader}}

// Ingest is the service identity of the NATS measurement intake.
var Ingest = &User{Username: "ingest", Roles: []Role{RoleWriter}}

// RolePolicy is the access policy of the reference backend: readers
// read, writers write, admins manage. Unknown caller types get
// nothing.
type RolePolicy struct{}

func callerRoles(caller historian.Caller) *User {
	u, ok := caller.(*User)
	if !ok {
		return nil
	}
	return u
}

func (RolePolicy) CanRead(caller historian.Caller, def *schema.TagDefinition) bool {
	u := callerRoles(caller)
	return u != nil && (u.HasRole(RoleReader) || u.HasRole(RoleWriter) || u.HasRole(RoleAdmin))
}

func (RolePolicy) CanWrite(caller historian.Caller, def *schema.TagDefinition) bool {
	u := callerRoles(caller)
	return u != nil && (u.HasRole(RoleWriter) || u.HasRole(RoleAdmin))
}

func (RolePolicy) CanManage(caller historian.Caller) bool {
	u := callerRoles(caller)
	return u != nil && u.HasRole(RoleAdmin)
}
