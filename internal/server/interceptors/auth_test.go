package interceptors

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"proctoring-engine/internal/platform/authz"
)

func newTokens(t *testing.T) *authz.Tokens {
	t.Helper()
	tokens, err := authz.NewTokens([]byte("interceptor-test-signing-key-123"), time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	return tokens
}

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"authorization": "Bearer " + token,
	}))
}

func TestAuthUnary(t *testing.T) {
	tokens := newTokens(t)
	valid, _, err := tokens.Issue(authz.Caller{Subject: "proctor-1", Role: authz.RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	public := map[string]bool{"/grpc.health.v1.Health/Check": true}

	testCases := []struct {
		name       string
		ctx        context.Context
		method     string
		wantCode   codes.Code
		wantCaller bool
	}{
		{"public without token", context.Background(), "/grpc.health.v1.Health/Check", codes.OK, false},
		{"public with bad token", withBearer("junk"), "/grpc.health.v1.Health/Check", codes.OK, false},
		{"protected without token", context.Background(), "/proctoring.v1.Sessions/Get", codes.Unauthenticated, false},
		{"protected with bad token", withBearer("junk"), "/proctoring.v1.Sessions/Get", codes.Unauthenticated, false},
		{"protected with valid token", withBearer(valid), "/proctoring.v1.Sessions/Get", codes.OK, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			interceptor := AuthUnary(tokens, public)
			var sawCaller bool
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				c, ok := authz.CallerFrom(ctx)
				sawCaller = ok && c.Subject == "proctor-1" && c.Role == authz.RoleProctor
				return "ok", nil
			}
			_, err := interceptor(tc.ctx, "req", &grpc.UnaryServerInfo{FullMethod: tc.method}, handler)
			if got := status.Code(err); got != tc.wantCode {
				t.Fatalf("code = %v, want %v", got, tc.wantCode)
			}
			if sawCaller != tc.wantCaller {
				t.Errorf("caller in context = %v, want %v", sawCaller, tc.wantCaller)
			}
		})
	}
}

func TestAuthenticator_Stream(t *testing.T) {
	tokens := newTokens(t)
	valid, _, err := tokens.Issue(authz.Caller{Subject: "stu-1", Role: authz.RoleStudent})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	auth := NewAuthenticator(tokens, map[string]bool{"/grpc.health.v1.Health/Watch": true})

	testCases := []struct {
		name       string
		ctx        context.Context
		method     string
		wantCode   codes.Code
		wantCaller string
	}{
		{"public watch without token", context.Background(), "/grpc.health.v1.Health/Watch", codes.OK, ""},
		{"protected feed without token", context.Background(), "/proctoring.v1.Events/Subscribe", codes.Unauthenticated, ""},
		{"protected feed with token", withBearer(valid), "/proctoring.v1.Events/Subscribe", codes.OK, "stu-1"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got string
			handler := func(srv interface{}, ss grpc.ServerStream) error {
				if c, ok := authz.CallerFrom(ss.Context()); ok {
					got = c.Subject
				}
				return nil
			}
			err := auth.Stream()(nil, &fakeStream{ctx: tc.ctx}, &grpc.StreamServerInfo{FullMethod: tc.method}, handler)
			if code := status.Code(err); code != tc.wantCode {
				t.Fatalf("code = %v, want %v", code, tc.wantCode)
			}
			if got != tc.wantCaller {
				t.Errorf("caller = %q, want %q", got, tc.wantCaller)
			}
		})
	}
}

func TestAuthenticator_RecordsCallerOnSpan(t *testing.T) {
	tokens := newTokens(t)
	valid, _, err := tokens.Issue(authz.Caller{Subject: "proctor-1", Role: authz.RoleProctor})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(withBearer(valid), "rpc")

	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil }
	if _, err := NewAuthenticator(tokens, nil).Unary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/proctoring.v1.Sessions/Get"}, handler); err != nil {
		t.Fatalf("Unary: %v", err)
	}
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 {
		t.Fatalf("ended spans = %d", len(ended))
	}
	attrs := map[attribute.Key]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	if attrs["caller.subject"] != "proctor-1" || attrs["caller.role"] != "proctor" {
		t.Errorf("span attributes = %v", attrs)
	}
}

func TestBearerToken(t *testing.T) {
	testCases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"bearer   abc ", "abc", true},
		{"BEARER abc", "abc", true},
		{"Basic abc", "", false},
		{"Bearer ", "", false},
		{"Bear", "", false},
	}
	for _, tc := range testCases {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{"authorization": tc.header}))
		if got, ok := bearerToken(ctx); got != tc.want || ok != tc.ok {
			t.Errorf("bearerToken(%q) = %q, %v; want %q, %v", tc.header, got, ok, tc.want, tc.ok)
		}
	}
	if _, ok := bearerToken(context.Background()); ok {
		t.Error("no metadata should yield no token")
	}
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *fakeStream) Context() context.Context { return s.ctx }
