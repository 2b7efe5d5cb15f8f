// Package authz identifies callers of the engine and decides what they may do to a session.
package authz

import (
	"context"
	"fmt"

	"proctoring-engine/internal/platform/errs"
)

// Role is the caller's role within the proctoring system.
type Role string

const (
	RoleStudent Role = "student"
	RoleProctor Role = "proctor"
	RoleAdmin   Role = "admin"
	// RoleSystem is used by background work such as the exam sweeper.
	RoleSystem Role = "system"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleProctor, RoleAdmin, RoleSystem:
		return true
	}
	return false
}

// Caller is the authenticated principal behind a request.
type Caller struct {
	Subject string
	Role    Role
}

// System is the caller used for background transitions.
var System = Caller{Subject: "system", Role: RoleSystem}

// Supervisor reports whether the caller may act on any student's session.
func (c Caller) Supervisor() bool {
	return c.Role == RoleProctor || c.Role == RoleAdmin || c.Role == RoleSystem
}

type contextKey struct{}

// WithCaller returns a context carrying c.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, contextKey{}, c)
}

// CallerFrom returns the caller stored in ctx and true if set; otherwise a zero Caller, false.
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(contextKey{}).(Caller)
	return c, ok
}

// RequireSupervisor returns errs.ErrUnauthorized unless the caller holds a supervisory role.
func RequireSupervisor(c Caller) error {
	if !c.Supervisor() {
		return fmt.Errorf("%w: %s role cannot supervise sessions", errs.ErrUnauthorized, roleName(c.Role))
	}
	return nil
}

// RequireSelfOrSupervisor allows the student who owns the session or any supervisor.
func RequireSelfOrSupervisor(c Caller, studentID string) error {
	if c.Supervisor() {
		return nil
	}
	if c.Role == RoleStudent && c.Subject != "" && c.Subject == studentID {
		return nil
	}
	return fmt.Errorf("%w: caller %q may not act on session of student %q", errs.ErrUnauthorized, c.Subject, studentID)
}

func roleName(r Role) string {
	if r == "" {
		return "anonymous"
	}
	return string(r)
}
