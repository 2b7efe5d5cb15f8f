// Package health reports readiness through the standard gRPC health service.
// Liveness is the process answering at all; readiness requires every registered dependency check to pass.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name reported alongside the overall ("") status.
const ServiceName = "proctoring.SessionEngine"

const defaultCheckTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the Rego scoring policy).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

type check struct {
	name string
	fn   func(ctx context.Context) error
}

// Checker runs dependency checks and publishes the result on a grpc health server.
type Checker struct {
	server  *health.Server
	timeout time.Duration

	mu     sync.Mutex
	checks []check
	last   map[string]error
}

// NewChecker returns a Checker that updates srv. timeout <= 0 uses two seconds per check.
func NewChecker(srv *health.Server, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Checker{server: srv, timeout: timeout, last: make(map[string]error)}
}

// Add registers a named check.
func (c *Checker) Add(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, check{name: name, fn: fn})
}

// AddPinger registers a database-style ping. A nil pinger is skipped.
func (c *Checker) AddPinger(name string, p Pinger) {
	if p == nil {
		return
	}
	c.Add(name, p.PingContext)
}

// AddPolicy registers a policy engine check. A nil checker is skipped.
func (c *Checker) AddPolicy(name string, p PolicyChecker) {
	if p == nil {
		return
	}
	c.Add(name, p.HealthCheck)
}

// AddRedis registers a PING against client. A nil client is skipped.
func (c *Checker) AddRedis(name string, client redis.UniversalClient) {
	if client == nil {
		return
	}
	c.Add(name, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})
}

// Check runs every check, publishes SERVING or NOT_SERVING and returns the first failure.
func (c *Checker) Check(ctx context.Context) error {
	c.mu.Lock()
	checks := append([]check(nil), c.checks...)
	c.mu.Unlock()

	var first error
	results := make(map[string]error, len(checks))
	for _, ch := range checks {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		err := ch.fn(cctx)
		cancel()
		results[ch.name] = err
		if err != nil && first == nil {
			first = fmt.Errorf("health: %s: %w", ch.name, err)
		}
	}

	c.mu.Lock()
	for name, err := range results {
		prev, seen := c.last[name]
		if err != nil && (!seen || prev == nil) {
			log.Printf("health: %s not ready: %v", name, err)
		}
		if err == nil && seen && prev != nil {
			log.Printf("health: %s ready again", name)
		}
		c.last[name] = err
	}
	c.mu.Unlock()

	st := healthpb.HealthCheckResponse_SERVING
	if first != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	if c.server != nil {
		c.server.SetServingStatus("", st)
		c.server.SetServingStatus(ServiceName, st)
	}
	return first
}

// Run checks immediately and then every interval until ctx is done.
func (c *Checker) Run(ctx context.Context, interval time.Duration) {
	_ = c.Check(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = c.Check(ctx)
		}
	}
}

// Shutdown marks every service NOT_SERVING so load balancers drain before the server stops.
func (c *Checker) Shutdown() {
	if c.server != nil {
		c.server.Shutdown()
	}
}
