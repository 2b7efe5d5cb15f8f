package errs

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
)

func TestE_WrapsKindAndContext(t *testing.T) {
	err := E("AppendViolation", "sess-1", fmt.Errorf("session closed: %w", ErrInvalidState))
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("errors.Is(err, ErrInvalidState) = false for %v", err)
	}
	var e *Error
	if !errors.As(err, &e) {
		t.Fatal("expected *Error")
	}
	if e.SessionID != "sess-1" || e.Op != "AppendViolation" {
		t.Errorf("context = %q/%q", e.Op, e.SessionID)
	}
	if E("op", "s", nil) != nil {
		t.Error("E with nil error should return nil")
	}
}

func TestUpstream_KeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Upstream("evidence store", cause)
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Error("want ErrUpstreamUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("want cause preserved")
	}
	if Recoverable(err) {
		t.Error("upstream failures are not recoverable caller errors")
	}
}

func TestCode(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"nil", nil, codes.OK},
		{"not found", E("Get", "s", ErrNotFound), codes.NotFound},
		{"conflict", ErrConflict, codes.AlreadyExists},
		{"unauthorized", ErrUnauthorized, codes.PermissionDenied},
		{"invalid state", ErrInvalidState, codes.FailedPrecondition},
		{"validation", Validation("severity required"), codes.InvalidArgument},
		{"upstream", Upstream("face", errors.New("x")), codes.Unavailable},
		{"other", errors.New("boom"), codes.Internal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Code(tc.err); got != tc.want {
				t.Errorf("Code(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}
