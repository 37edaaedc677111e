package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/memhub/pkg/api"
	"github.com/platinummonkey/memhub/pkg/audit"
	"github.com/platinummonkey/memhub/pkg/auth"
	"github.com/platinummonkey/memhub/pkg/bulk"
	"github.com/platinummonkey/memhub/pkg/config"
	"github.com/platinummonkey/memhub/pkg/middleware"
	"github.com/platinummonkey/memhub/pkg/observability"
	"github.com/platinummonkey/memhub/pkg/orgs"
	"github.com/platinummonkey/memhub/pkg/policy"
	"github.com/platinummonkey/memhub/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.LogLevel(), os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("memhub exited with error")
		os.Exit(1)
	}
}

// identityStore joins the user and token tables with organization
// memberships for the identity resolver
type identityStore struct {
	*auth.PostgresStore
	memberships auth.MembershipLister
}

func (s identityStore) ListMemberships(ctx context.Context, userID int64) ([]*auth.Membership, error) {
	return s.memberships.ListMemberships(ctx, userID)
}

func run(cfg *config.Config, logger *observability.Logger) error {
	// Background work lives until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	providers, err := observability.InitOTel(ctx, cfg.OTelConfig(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	db := cfg.Database
	conns, err := postgres.NewConnectionManager(ctx, postgres.ConnectionConfig{
		PrimaryURL:  db.URL,
		ReplicaURLs: db.ReplicaURLs,
		MaxConns:    db.MaxConns,
		MinConns:    db.MinConns,
		Timeout:     db.Timeout,
		MaxLifetime: db.MaxLifetime,
		MaxIdleTime: db.MaxIdleTime,
	}, logger)
	if err != nil {
		return err
	}
	if len(db.ReplicaURLs) > 0 {
		conns.StartHealthCheckRoutine(ctx, 30*time.Second)
	}
	if db.MigrateOnStart {
		if err := postgres.RunMigrations(ctx, conns.Primary(), logger); err != nil {
			return err
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
		opts.PoolSize = cfg.Redis.PoolSize
		redisClient = redis.NewClient(opts)
	}

	// Audit sinks: database always, JSON lines on disk when configured.
	dbAudit, err := audit.NewDBLogger(conns.Primary())
	if err != nil {
		return err
	}
	sinks := []audit.Logger{dbAudit}
	if cfg.Audit.FileDir != "" {
		fileAudit, err := audit.NewFileLogger(audit.FileLoggerConfig{
			Dir:      cfg.Audit.FileDir,
			MaxSize:  cfg.Audit.FileMaxBytes,
			MaxFiles: cfg.Audit.FileMaxFiles,
		})
		if err != nil {
			return fmt.Errorf("failed to open audit file sink: %w", err)
		}
		sinks = append(sinks, fileAudit)
	}
	auditLogger := audit.NewMultiLogger(sinks...)
	auditSearcher, err := audit.NewDBLogger(conns.Replica())
	if err != nil {
		return err
	}

	orgService := orgs.NewPostgresService(conns.Primary())
	authStore := auth.NewPostgresStore(conns.Primary())
	tokens := auth.NewTokenManager(authStore, logger)
	resolver, err := auth.NewIdentityResolver(cfg.IdentityConfig(),
		identityStore{PostgresStore: authStore, memberships: orgService}, tokens, logger, metrics)
	if err != nil {
		return err
	}
	engine := policy.NewEngine(orgService, auditLogger, logger, metrics)
	if cfg.Identity.MembershipStoreFallback {
		engine = engine.WithStoreFallback()
	}

	var instruments *observability.BulkInstruments
	if providers != nil {
		if instruments, err = observability.NewBulkInstruments(); err != nil {
			logger.WithError(err).Warn("bulk OpenTelemetry instruments unavailable")
		}
	}

	bulkStore := bulk.NewPostgresStore(conns.Primary())
	planner := bulk.NewPlanner(bulkStore, engine)
	executor := bulk.NewExecutor(bulk.ExecutorConfig{MaxConcurrent: cfg.Bulk.MaxConcurrent},
		bulkStore, bulkStore, auditLogger, logger, metrics, instruments)
	reconciler := bulk.NewReconciler(bulkStore, executor, cfg.Bulk.StaleAfter, logger, metrics)

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)))
	reconcile := func() {
		n, err := reconciler.Run(ctx)
		if err != nil {
			logger.WithError(err).Error("bulk operation reconciliation failed")
			return
		}
		if n > 0 {
			logger.WithField("reconciled", n).Info("failed abandoned bulk operations")
		}
	}
	if _, err := scheduler.AddFunc(cfg.Bulk.ReconcileSchedule, reconcile); err != nil {
		return fmt.Errorf("failed to schedule reconciliation: %w", err)
	}
	// Operations left running by a previous process are failed right away.
	reconcile()
	scheduler.Start()

	submitLimit := submitLimiter(ctx, cfg, redisClient)

	var gatherer prometheus.Gatherer
	if cfg.Observability.MetricsEnabled {
		gatherer = registry
	}
	server := api.NewServer(api.Options{
		Logger:   logger,
		Resolver: resolver,
		Metrics:  metrics,
		Gatherer: gatherer,
		Health:   observability.NewHealthChecker(conns.Primary(), redisClient),
		Tracing:  providers != nil,
	})
	server.Mount(
		api.NewTokenHandlers(tokens, engine, auditLogger),
		api.NewMeHandlers(engine),
		orgs.NewHandlers(orgService, engine, auditLogger),
		bulk.NewHandlers(planner, executor, bulkStore, engine, submitLimit),
		audit.NewHandlers(auditSearcher, engine),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("bulk executor", executor.Shutdown)
	shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("audit", func(context.Context) error { return auditLogger.Close() })
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.Register("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})
	shutdown.Register("database", func(context.Context) error { return conns.Close() })

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("memhub listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	signalDone := make(chan error, 1)
	go func() { signalDone <- shutdown.WaitForSignal() }()

	select {
	case err := <-serveErr:
		if err == nil {
			return <-signalDone
		}
		logger.WithError(err).Error("HTTP server failed")
		return errors.Join(err, shutdown.Shutdown())
	case err := <-signalDone:
		return err
	}
}

// submitLimiter limits bulk submissions per caller, shared across
// instances through Redis when it is configured
func submitLimiter(ctx context.Context, cfg *config.Config, redisClient *redis.Client) mux.MiddlewareFunc {
	if redisClient != nil {
		return middleware.RateLimit(middleware.NewRedisLimiter(redisClient, cfg.Bulk.SubmitRateLimit, cfg.Redis.KeyPrefix))
	}
	limiter := middleware.NewRateLimiter(cfg.Bulk.SubmitRateLimit)
	limiter.StartCleanup(ctx)
	return middleware.RateLimit(limiter)
}
