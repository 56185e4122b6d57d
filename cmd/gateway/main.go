package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aman-churiwal/fx-gateway/internal/config"
	"github.com/aman-churiwal/fx-gateway/internal/events"
	"github.com/aman-churiwal/fx-gateway/internal/handler"
	"github.com/aman-churiwal/fx-gateway/internal/healthcheck"
	"github.com/aman-churiwal/fx-gateway/internal/keyring"
	"github.com/aman-churiwal/fx-gateway/internal/logger"
	"github.com/aman-churiwal/fx-gateway/internal/metrics"
	"github.com/aman-churiwal/fx-gateway/internal/middleware"
	"github.com/aman-churiwal/fx-gateway/internal/poller"
	"github.com/aman-churiwal/fx-gateway/internal/provider"
	"github.com/aman-churiwal/fx-gateway/internal/quota"
	"github.com/aman-churiwal/fx-gateway/internal/ratelimit"
	"github.com/aman-churiwal/fx-gateway/internal/rates"
	"github.com/aman-churiwal/fx-gateway/internal/repository"
	"github.com/aman-churiwal/fx-gateway/internal/retention"
	"github.com/aman-churiwal/fx-gateway/internal/server"
	"github.com/aman-churiwal/fx-gateway/internal/service"
	"github.com/aman-churiwal/fx-gateway/internal/storage"
	"github.com/aman-churiwal/fx-gateway/internal/telemetry"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sony/gobreaker"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	// Load env if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logr, err := logger.New(cfg.Log, os.Stdout)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}

	if err := run(cfg, logr); err != nil {
		logr.Error("gateway exited with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logr *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer, err := telemetry.InitTracer(cfg.Telemetry, version, logr)
	if err != nil {
		return err
	}
	defer shutdownTracer()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	postgres, err := storage.NewPostgres(cfg.Database.DSN, storage.PostgresOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	defer postgres.Close()
	logr.Info("connected to postgres")

	if !cfg.Database.SkipMigrations {
		if err := postgres.RunMigrations(); err != nil {
			return err
		}
		logr.Info("migrations applied")
	}

	redis, err := storage.NewRedis(cfg.Redis.GetRedisAddr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redis.Close()
	logr.Info("connected to redis", "addr", cfg.Redis.GetRedisAddr())

	publisher := events.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	defer publisher.Close()

	keys, err := keyring.New(cfg.ProviderKeys(), cfg.Provider.RequestsPerKey)
	if err != nil {
		return err
	}

	fx := provider.NewClient(provider.Config{
		BaseURL:           cfg.Provider.BaseURL,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerMinute: cfg.Provider.RequestsPerMinute,
		MaxFailures:       cfg.Provider.Breaker.MaxFailures,
		OpenTimeout:       cfg.Provider.Breaker.OpenTimeout,
	}, m, tracer)

	loc, err := cfg.Quota.Location()
	if err != nil {
		return err
	}

	// Repositories
	tenantRepo := repository.NewTenantRepository(postgres)
	planRepo := repository.NewPlanRepository(postgres)
	usageRepo := repository.NewUsageRepository(postgres)
	rateRepo := repository.NewRateRepository(postgres)
	logRepo := repository.NewRequestLogRepository(postgres)

	// Services
	tenantService, err := service.NewTenantService(tenantRepo, planRepo, redis, logr)
	if err != nil {
		return err
	}
	rateService := service.NewRateService(rateRepo, redis, cfg.Rates.SnapshotTTL, logr)
	analyticsService := service.NewAnalyticsService(logRepo, usageRepo)
	adminAuth := service.NewAdminAuthService(cfg.Admin.JWTSecret)
	if cfg.Admin.JWTSecret == "" {
		logr.Warn("admin API disabled: no JWT secret configured")
	}

	gate := quota.NewGate(usageRepo, loc, m, logr)
	resolver := rates.NewResolver(rateService, fx, keys, rates.Options{MaxRangeRows: cfg.Rates.MaxRangeRows}, m, tracer, logr)

	pairs := make([]poller.Pair, 0)
	for _, p := range cfg.Poller.Pairs() {
		pairs = append(pairs, poller.Pair{Base: p[0], Target: p[1]})
	}
	ratePoller := poller.New(poller.Config{
		Pairs:       pairs,
		Interval:    cfg.Poller.Interval,
		CallTimeout: cfg.Provider.Timeout,
	}, fx, keys, rateService, publisher, m, logr)

	// Background workers outlive the signal so HTTP can drain first; their
	// deferred Stop calls run after the server has shut down.
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	if cfg.Poller.Disabled {
		logr.Info("rate poller disabled")
	} else if err := ratePoller.Start(workerCtx); err != nil {
		return err
	}
	defer ratePoller.Stop()

	pruner := retention.NewScheduler(analyticsService, retention.Config{
		Schedule:  cfg.Retention.Schedule,
		Retention: cfg.Retention.Period(),
	}, logr)
	if err := pruner.Start(workerCtx); err != nil {
		return err
	}
	defer pruner.Stop()

	sinkCtx, stopSink := context.WithCancel(context.Background())
	sink := middleware.NewRequestLogSink(logRepo, middleware.RequestLogSinkConfig{}, logr)
	sinkDone := make(chan struct{})
	go func() {
		sink.Run(sinkCtx)
		close(sinkDone)
	}()

	checker := healthcheck.NewChecker(cfg.Provider.Timeout, logr,
		healthcheck.Probe{Name: "database", Critical: true, Check: postgres.Ping},
		healthcheck.Probe{Name: "redis", Check: redis.Ping},
		healthcheck.Probe{Name: "provider", Check: func(context.Context) error {
			if fx.BreakerStatus().State == gobreaker.StateOpen.String() {
				return errors.New("circuit breaker open")
			}
			return nil
		}},
	)

	srv := server.New(cfg, server.Deps{
		Tenants:   tenantService,
		Stats:     tenantRepo,
		Admin:     adminAuth,
		Rates:     handler.NewRatesHandler(gate, resolver, rateService),
		TenantAPI: handler.NewTenantHandler(tenantService),
		Analytics: handler.NewAnalyticsHandler(analyticsService),
		System:    handler.NewSystemHandler(fx, ratePoller),
		Health:    handler.NewHealthHandler(checker, version),
		PublicRL:  ratelimit.NewFixedWindow(redis, cfg.PublicRateLimit.RequestsPerMinute, time.Minute),
		LogSink:   sink,
		Metrics:   m,
		Gatherer:  registry,
	}, logr)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Run()
	}()

	var runErr error
	select {
	case runErr = <-serveErr:
	case <-ctx.Done():
		logr.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logr.Error("server forced to shutdown", "error", shutdownErr)
	}

	stopSink()
	<-sinkDone

	logr.Info("server exited")
	return runErr
}
