package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/metrics"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_Health(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, Deps{Health: health.NewServer()})

	if len(mockReg.services) != 1 || mockReg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("registered %v, want [grpc.health.v1.Health]", mockReg.services)
	}
}

func TestNewGRPCServer(t *testing.T) {
	tokens, err := authz.NewTokens([]byte("0123456789abcdef"), time.Minute)
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	testCases := []struct {
		name string
		deps Deps
	}{
		{"with auth", Deps{Tokens: tokens, Health: health.NewServer()}},
		{"without auth", Deps{Health: health.NewServer()}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := NewGRPCServer(tc.deps)
			defer s.Stop()
			info := s.GetServiceInfo()
			if _, ok := info["grpc.health.v1.Health"]; !ok {
				t.Errorf("health service not registered: %v", info)
			}
		})
	}
}

func TestPublicMethods(t *testing.T) {
	for _, m := range []string{"/grpc.health.v1.Health/Check", "/grpc.health.v1.Health/Watch"} {
		if !PublicMethods[m] {
			t.Errorf("%s should be public", m)
		}
	}
}

func TestNewMetricsServer(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.IncSessionStarted()

	srv := NewMetricsServer(":0", reg)
	ts := httptest.NewServer(srv.Handler)
	defer ts.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/metrics", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "sessions_started_total") {
		t.Errorf("metrics output missing sessions_started_total:\n%s", body)
	}
}
