package interceptors

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"proctoring-engine/internal/platform/authz"
)

const (
	authHeader   = "authorization"
	bearerScheme = "bearer"
)

var (
	errNoToken         = errors.New("no capability token")
	errUnauthenticated = status.Error(codes.Unauthenticated, "missing or invalid capability token")
)

// Authenticator resolves the caller of an RPC from its capability token. Handlers read the result with
// authz.CallerFrom and pass it to the session and verification services, which make the actual
// student/proctor/system decision. The caller is also recorded on the RPC span.
type Authenticator struct {
	tokens *authz.Tokens
	public map[string]bool
}

// NewAuthenticator returns an Authenticator. Methods in public run without a caller when the token is
// missing or invalid.
func NewAuthenticator(tokens *authz.Tokens, public map[string]bool) *Authenticator {
	return &Authenticator{tokens: tokens, public: public}
}

// AuthUnary is NewAuthenticator(tokens, public).Unary().
func AuthUnary(tokens *authz.Tokens, public map[string]bool) grpc.UnaryServerInterceptor {
	return NewAuthenticator(tokens, public).Unary()
}

// Unary authenticates unary RPCs.
func (a *Authenticator) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, err := a.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// Stream authenticates streaming RPCs such as live event feeds.
func (a *Authenticator) Stream() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &callerStream{ServerStream: ss, ctx: ctx})
	}
}

func (a *Authenticator) authenticate(ctx context.Context, method string) (context.Context, error) {
	caller, err := a.resolve(ctx)
	if err != nil {
		if a.public[method] {
			return ctx, nil
		}
		return nil, errUnauthenticated
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("caller.subject", caller.Subject),
		attribute.String("caller.role", string(caller.Role)),
	)
	return authz.WithCaller(ctx, caller), nil
}

func (a *Authenticator) resolve(ctx context.Context) (authz.Caller, error) {
	token, ok := bearerToken(ctx)
	if !ok {
		return authz.Caller{}, errNoToken
	}
	return a.tokens.Validate(token)
}

// callerStream overrides the stream context with the authenticated one.
type callerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *callerStream) Context() context.Context { return s.ctx }

// bearerToken returns the first well-formed "Bearer <token>" value of the authorization header.
func bearerToken(ctx context.Context) (string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", false
	}
	for _, v := range md.Get(authHeader) {
		scheme, token, found := strings.Cut(strings.TrimSpace(v), " ")
		if !found || !strings.EqualFold(scheme, bearerScheme) {
			continue
		}
		if token = strings.TrimSpace(token); token != "" {
			return token, true
		}
	}
	return "", false
}

// callerName labels ctx's caller for logs.
func callerName(ctx context.Context) string {
	c, ok := authz.CallerFrom(ctx)
	if !ok {
		return "anonymous"
	}
	return string(c.Role) + ":" + c.Subject
}
