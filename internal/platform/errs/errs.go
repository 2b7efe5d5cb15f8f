// Package errs defines the error taxonomy shared by the session, verification and attendance services.
package errs

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
)

// Error kinds. Services wrap these (directly or through *Error) so callers can branch with errors.Is.
var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInvalidState        = errors.New("invalid state")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrValidation          = errors.New("validation error")
)

// Error carries the failed operation and the session it targeted so a caller can retry or report.
type Error struct {
	Op        string
	SessionID string
	Err       error
}

func (e *Error) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s session=%s: %v", e.Op, e.SessionID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with operation and session context. Returns nil when err is nil.
func E(op, sessionID string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, SessionID: sessionID, Err: err}
}

// Validation returns an ErrValidation carrying msg.
func Validation(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// Upstream wraps a collaborator failure (evidence store, face capability, lock backend) as ErrUpstreamUnavailable.
func Upstream(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnavailable, what, err)
}

// Recoverable reports whether err is a caller error (not found, conflict, invalid state, validation,
// unauthorized) that bulk operations should record and continue past.
func Recoverable(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnauthorized)
}

// Code maps an error to the gRPC status code a transport adapter should return.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrConflict):
		return codes.AlreadyExists
	case errors.Is(err, ErrUnauthorized):
		return codes.PermissionDenied
	case errors.Is(err, ErrInvalidState):
		return codes.FailedPrecondition
	case errors.Is(err, ErrValidation):
		return codes.InvalidArgument
	case errors.Is(err, ErrUpstreamUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}
