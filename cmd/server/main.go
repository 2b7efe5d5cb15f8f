package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/health"

	attendancerepo "proctoring-engine/internal/attendance/repository"
	attendanceservice "proctoring-engine/internal/attendance/service"
	"proctoring-engine/internal/audit"
	auditrepo "proctoring-engine/internal/audit/repository"
	"proctoring-engine/internal/config"
	"proctoring-engine/internal/db"
	"proctoring-engine/internal/events"
	kafkasink "proctoring-engine/internal/events/kafka"
	"proctoring-engine/internal/evidence"
	"proctoring-engine/internal/exam"
	"proctoring-engine/internal/face"
	healthcheck "proctoring-engine/internal/health"
	"proctoring-engine/internal/platform/authz"
	"proctoring-engine/internal/platform/keylock"
	"proctoring-engine/internal/platform/metrics"
	"proctoring-engine/internal/reconcile"
	"proctoring-engine/internal/scoring"
	"proctoring-engine/internal/server"
	sessionrepo "proctoring-engine/internal/session/repository"
	sessionservice "proctoring-engine/internal/session/service"
	oteltelemetry "proctoring-engine/internal/telemetry/otel"
	"proctoring-engine/internal/verification"
)

const (
	serviceName      = "proctoring-engine"
	readinessPeriod  = 15 * time.Second
	shutdownDeadline = 10 * time.Second
)

// engine holds the wired services. Adapters (HTTP, websocket, CV pipeline) are built on top of it.
type engine struct {
	Sessions     *sessionservice.Service
	Verification *verification.Service
	Attendance   *attendanceservice.Service
	Sweeper      *sessionservice.Sweeper
	Bus          *events.Bus
	Tokens       *authz.Tokens
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := oteltelemetry.NewProviders(ctx, cfg.OTLPEndpoint, serviceName, cfg.OTLPInsecure)
	if err != nil {
		log.Fatalf("otel: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
		defer cancel()
		if err := providers.Shutdown(sctx); err != nil {
			log.Printf("otel: shutdown: %v", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	healthSrv := health.NewServer()
	checker := healthcheck.NewChecker(healthSrv, 0)

	var conn *sql.DB
	if cfg.DatabaseURL != "" {
		conn, err = db.Open(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db: %v", err)
		}
		defer conn.Close()
		checker.AddPinger("postgres", conn)
	} else {
		log.Println("server: DATABASE_URL not set; using in-memory storage")
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = keylock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
		checker.AddRedis("redis", rdb)
	}

	exams := exam.NewStaticDirectory()
	if cfg.ExamDirectoryFile != "" {
		exams, err = exam.LoadStaticDirectory(cfg.ExamDirectoryFile)
		if err != nil {
			log.Fatalf("exam directory: %v", err)
		}
	}

	policy, regoPolicy, err := loadPolicy(ctx, cfg)
	if err != nil {
		log.Fatalf("scoring: %v", err)
	}
	if regoPolicy != nil {
		checker.AddPolicy("scoring", regoPolicy)
	}

	bus := events.NewBus(m)
	var kafka *kafkasink.Sink
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		if kafka = kafkasink.NewSink(brokers, cfg.EventsKafkaTopic); kafka != nil {
			bus.AddSink("kafka", kafka, cfg.EventBuffer)
			log.Printf("server: publishing session events to kafka topic %s", kafka.Topic())
		}
	}
	if otelSink := oteltelemetry.NewLogSink(providers.LoggerProvider); otelSink != nil {
		bus.AddSink("otel", otelSink, cfg.EventBuffer)
	}

	eng, err := build(cfg, conn, rdb, exams, policy, bus, m)
	if err != nil {
		log.Fatalf("server: %v", err)
	}

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("listen: %v", err)
	}
	grpcSrv := server.NewGRPCServer(server.Deps{Tokens: eng.Tokens, Health: healthSrv})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("gRPC server listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		checker.Run(gctx, readinessPeriod)
		return nil
	})
	g.Go(func() error {
		return eng.Sweeper.Run(gctx)
	})
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsSrv = server.NewMetricsServer(cfg.MetricsAddr, reg)
		g.Go(func() error {
			log.Printf("metrics listening on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Println("shutting down gRPC server...")
		checker.Shutdown()
		grpcSrv.GracefulStop()
		if metricsSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
			defer cancel()
			_ = metricsSrv.Shutdown(sctx)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownDeadline)
	defer cancel()
	if err := eng.Bus.Close(sctx); err != nil {
		log.Printf("events: close: %v", err)
	}
	if kafka != nil {
		if err := kafka.Close(); err != nil {
			log.Printf("kafka: close: %v", err)
		}
	}
	log.Println("gRPC server stopped")
}

// loadPolicy returns the scoring policy: weighted (from SCORING_POLICY_FILE or defaults), optionally
// wrapped by a Rego module that falls back to it.
func loadPolicy(ctx context.Context, cfg *config.Config) (scoring.Policy, *scoring.RegoPolicy, error) {
	weighted := scoring.DefaultPolicy()
	if cfg.ScoringPolicyFile != "" {
		w, err := scoring.LoadWeights(cfg.ScoringPolicyFile)
		if err != nil {
			return nil, nil, err
		}
		if weighted, err = scoring.NewWeightedPolicy(w); err != nil {
			return nil, nil, err
		}
	}
	if cfg.ScoringRegoFile == "" {
		return weighted, nil, nil
	}
	rego, err := scoring.LoadRegoPolicy(ctx, cfg.ScoringRegoFile, weighted)
	if err != nil {
		return nil, nil, err
	}
	return rego, rego, nil
}

func build(cfg *config.Config, conn *sql.DB, rdb *redis.Client, exams *exam.StaticDirectory, policy scoring.Policy, bus *events.Bus, m *metrics.Metrics) (*engine, error) {
	var (
		sessions   sessionrepo.Repository    = sessionrepo.NewMemoryRepository()
		attendance attendancerepo.Repository = attendancerepo.NewMemoryRepository()
		audits     auditrepo.Repository      = auditrepo.NewMemoryRepository()
		store      evidence.Store            = evidence.NewMemoryStore()
	)
	if conn != nil {
		sessions = sessionrepo.NewPostgresRepository(conn)
		attendance = attendancerepo.NewPostgresRepository(conn)
		audits = auditrepo.NewPostgresRepository(conn)
		store = evidence.NewPostgresStore(conn)
	}

	var locks keylock.Locker = keylock.NewArena()
	if rdb != nil {
		locks = keylock.NewRedisLocker(rdb, cfg.LockTTL)
	}

	auditLogger := audit.NewLogger(audits)
	bus.AddSink("audit", auditLogger, cfg.EventBuffer)

	engineOpts := cfg.ReconcileOptions()
	matcher, err := reconcile.New(engineOpts)
	if err != nil {
		return nil, err
	}

	var tokens *authz.Tokens
	if cfg.CapabilitySigningKey != "" {
		tokens, err = authz.NewTokens([]byte(cfg.CapabilitySigningKey), cfg.CapabilityTokenTTL)
		if err != nil {
			return nil, err
		}
	} else {
		log.Println("server: CAPABILITY_SIGNING_KEY not set; gRPC auth disabled")
	}

	sessionSvc := sessionservice.NewService(sessions, exams, locks, policy, bus,
		sessionservice.WithMetrics(m),
		sessionservice.WithAudit(auditLogger),
		sessionservice.WithLockTimeout(cfg.OperationTimeout),
		sessionservice.WithBulkConcurrency(cfg.BulkConcurrency),
	)
	return &engine{
		Sessions:     sessionSvc,
		Verification: verification.NewService(sessionSvc, exams, store, face.NewDeterministic(), face.NewMemoryReferences(), matcher),
		Attendance: attendanceservice.NewService(attendance, exams, matcher,
			attendanceservice.WithMetrics(m),
			attendanceservice.WithConcurrency(cfg.BulkConcurrency),
		),
		Sweeper: sessionservice.NewSweeper(sessionSvc, cfg.SweepInterval),
		Bus:     bus,
		Tokens:  tokens,
	}, nil
}
