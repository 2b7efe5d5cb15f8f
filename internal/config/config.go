// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	"proctoring-engine/internal/reconcile"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// GRPCAddr is the address the gRPC health server listens on (e.g. :8080).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// MetricsAddr serves Prometheus /metrics; empty disables the endpoint.
	MetricsAddr string `mapstructure:"METRICS_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs with in-memory storage.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL enables the distributed per-student lock (redis://host:6379/0). Empty uses in-process locks.
	RedisURL string `mapstructure:"REDIS_URL"`
	// LockTTL bounds how long a Redis lock survives a crashed holder.
	LockTTL time.Duration `mapstructure:"LOCK_TTL"`
	// OperationTimeout is how long a session operation waits for its per-student lock.
	OperationTimeout time.Duration `mapstructure:"OPERATION_TIMEOUT"`

	// KafkaBrokers is a comma-separated list of broker addresses. When set, session events are published to Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// EventsKafkaTopic is the topic session events go to.
	EventsKafkaTopic string `mapstructure:"EVENTS_KAFKA_TOPIC"`
	// KafkaGroupID is the consumer group of the event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// LokiURL is where the worker pushes consumed events (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// OTLPEndpoint is the OTLP gRPC collector. Empty disables OpenTelemetry export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// CapabilitySigningKey signs caller capability tokens (HS256, at least 16 bytes).
	CapabilitySigningKey string        `mapstructure:"CAPABILITY_SIGNING_KEY"`
	CapabilityTokenTTL   time.Duration `mapstructure:"CAPABILITY_TOKEN_TTL"`

	// ReconcileMode is "strict" or "lenient".
	ReconcileMode          string  `mapstructure:"RECONCILE_MODE"`
	ReconcileMinConfidence float64 `mapstructure:"RECONCILE_MIN_CONFIDENCE"`
	// ReconcileMaxBatch caps detections per reconciliation call; 0 means unlimited.
	ReconcileMaxBatch int `mapstructure:"RECONCILE_MAX_BATCH"`

	// ScoringPolicyFile is an optional YAML file of risk weights and thresholds.
	ScoringPolicyFile string `mapstructure:"SCORING_POLICY_FILE"`
	// ScoringRegoFile is an optional Rego module that replaces weighted scoring.
	ScoringRegoFile string `mapstructure:"SCORING_REGO_FILE"`
	// ExamDirectoryFile is a YAML file of exams, rosters and active students.
	ExamDirectoryFile string `mapstructure:"EXAM_DIRECTORY_FILE"`

	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`
	BulkConcurrency int           `mapstructure:"BULK_CONCURRENCY"`
	// EventBuffer is the per-sink queue length of the event bus.
	EventBuffer int `mapstructure:"EVENT_BUFFER"`

	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("GRPC_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("LOCK_TTL", "30s")
	v.SetDefault("OPERATION_TIMEOUT", "5s")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("EVENTS_KAFKA_TOPIC", "proctoring-session-events")
	v.SetDefault("KAFKA_GROUP_ID", "proctoring-event-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)
	v.SetDefault("CAPABILITY_SIGNING_KEY", "")
	v.SetDefault("CAPABILITY_TOKEN_TTL", "1h")
	v.SetDefault("RECONCILE_MODE", string(reconcile.ModeStrict))
	v.SetDefault("RECONCILE_MIN_CONFIDENCE", reconcile.DefaultMinConfidence)
	v.SetDefault("RECONCILE_MAX_BATCH", 1000)
	v.SetDefault("SCORING_POLICY_FILE", "")
	v.SetDefault("SCORING_REGO_FILE", "")
	v.SetDefault("EXAM_DIRECTORY_FILE", "")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("BULK_CONCURRENCY", 8)
	v.SetDefault("EVENT_BUFFER", 256)
	v.SetDefault("APP_ENV", "")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.GRPCAddr == "" {
		return errors.New("config: GRPC_ADDR must be set")
	}
	if c.OperationTimeout <= 0 {
		return errors.New("config: OPERATION_TIMEOUT must be positive")
	}
	if c.LockTTL <= c.OperationTimeout {
		return errors.New("config: LOCK_TTL must exceed OPERATION_TIMEOUT")
	}
	if _, err := reconcile.ParseMode(c.ReconcileMode); err != nil {
		return errors.New("config: RECONCILE_MODE must be strict or lenient")
	}
	if c.ReconcileMinConfidence < 0 || c.ReconcileMinConfidence > 1 {
		return errors.New("config: RECONCILE_MIN_CONFIDENCE must be between 0 and 1")
	}
	if c.ReconcileMaxBatch < 0 {
		return errors.New("config: RECONCILE_MAX_BATCH must not be negative")
	}
	if c.BulkConcurrency < 1 {
		return errors.New("config: BULK_CONCURRENCY must be at least 1")
	}
	if c.EventBuffer < 1 {
		return errors.New("config: EVENT_BUFFER must be at least 1")
	}
	if c.CapabilitySigningKey != "" && len(c.CapabilitySigningKey) < 16 {
		return errors.New("config: CAPABILITY_SIGNING_KEY must be at least 16 bytes")
	}
	if c.CapabilitySigningKey == "" && c.Env == "production" {
		return errors.New("config: CAPABILITY_SIGNING_KEY must be set when APP_ENV=production")
	}
	return nil
}

// ReconcileOptions returns the reconciliation engine options.
func (c *Config) ReconcileOptions() reconcile.Options {
	mode, _ := reconcile.ParseMode(c.ReconcileMode)
	return reconcile.Options{
		Mode:          mode,
		MinConfidence: c.ReconcileMinConfidence,
		MaxBatch:      c.ReconcileMaxBatch,
	}
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// An empty list means events stay in process.
func (c *Config) KafkaBrokersList() []string {
	if c == nil || c.KafkaBrokers == "" {
		return nil
	}
	parts := strings.Split(c.KafkaBrokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
