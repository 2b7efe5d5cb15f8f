package interceptors

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/errs"
)

func TestErrorsUnary(t *testing.T) {
	info := &grpc.UnaryServerInfo{FullMethod: "/proctoring.SessionEngine/Finalize"}
	testCases := []struct {
		name    string
		err     error
		want    codes.Code
		wantMsg string
	}{
		{"nil", nil, codes.OK, ""},
		{"not found", errs.E("session.Get", "s1", errs.ErrNotFound), codes.NotFound, ""},
		{"terminal", errs.E("session.SetStatus", "s1", errs.ErrInvalidState), codes.FailedPrecondition, ""},
		{"upstream", errs.Upstream("lock", errors.New("timeout")), codes.Unavailable, ""},
		{"status passes through", status.Error(codes.Unauthenticated, "no token"), codes.Unauthenticated, "no token"},
		{"internal hides detail", errors.New("pq: relation missing"), codes.Internal, "internal error"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return "ok", tc.err
			}
			_, err := ErrorsUnary()(context.Background(), nil, info, handler)
			if got := status.Code(err); got != tc.want {
				t.Errorf("code = %v, want %v", got, tc.want)
			}
			if tc.wantMsg != "" {
				if st, _ := status.FromError(err); st.Message() != tc.wantMsg {
					t.Errorf("message = %q, want %q", st.Message(), tc.wantMsg)
				}
			}
		})
	}
}

func TestErrorsUnary_LogsCaller(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	info := &grpc.UnaryServerInfo{FullMethod: "/proctoring.SessionEngine/Finalize"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, errors.New("disk full")
	}
	ctx := authz.WithCaller(context.Background(), authz.Caller{Subject: "proctor-1", Role: authz.RoleProctor})
	if _, err := ErrorsUnary()(ctx, nil, info, handler); status.Code(err) != codes.Internal {
		t.Fatalf("code = %v", status.Code(err))
	}
	if _, err := ErrorsUnary()(context.Background(), nil, info, handler); status.Code(err) != codes.Internal {
		t.Fatalf("code = %v", status.Code(err))
	}
	out := buf.String()
	if !strings.Contains(out, "caller proctor:proctor-1") || !strings.Contains(out, "caller anonymous") {
		t.Errorf("log = %q", out)
	}
}
