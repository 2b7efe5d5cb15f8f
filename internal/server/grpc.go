// Package server builds the engine's network surfaces: the gRPC server carrying health and readiness,
// and the HTTP endpoint Prometheus scrapes.
package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/server/interceptors"
)

// PublicMethods do not require a capability token.
var PublicMethods = map[string]bool{
	healthpb.Health_Check_FullMethodName: true,
	healthpb.Health_Watch_FullMethodName: true,
}

// Deps holds what the gRPC server needs.
type Deps struct {
	// Tokens validates caller capability tokens. If nil, no auth interceptor is installed.
	Tokens *authz.Tokens
	// Health is the readiness state served as grpc.health.v1.Health. Required.
	Health *health.Server
}

// NewGRPCServer returns a server with OpenTelemetry stats, the capability-token authenticator, error
// mapping and the health service registered.
func NewGRPCServer(deps Deps, opts ...grpc.ServerOption) *grpc.Server {
	var (
		unary  []grpc.UnaryServerInterceptor
		stream []grpc.StreamServerInterceptor
	)
	if deps.Tokens != nil {
		auth := interceptors.NewAuthenticator(deps.Tokens, PublicMethods)
		unary = append(unary, auth.Unary())
		stream = append(stream, auth.Stream())
	}
	unary = append(unary, interceptors.ErrorsUnary())
	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(unary...),
		grpc.ChainStreamInterceptor(stream...),
	}
	serverOpts = append(serverOpts, opts...)
	s := grpc.NewServer(serverOpts...)
	RegisterServices(s, deps)
	return s
}

// RegisterServices registers the gRPC services with s.
//
//   - grpc.health.v1.Health → internal/health readiness checker
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, deps.Health)
}

// NewMetricsServer serves reg on /metrics at addr.
func NewMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
