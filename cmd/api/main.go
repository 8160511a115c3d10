package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/loan-sales-assistant/cmd/mainconfig"
	"github.com/wolfman30/loan-sales-assistant/internal/api/router"
	"github.com/wolfman30/loan-sales-assistant/internal/app/bootstrap"
	"github.com/wolfman30/loan-sales-assistant/internal/auth"
	appconfig "github.com/wolfman30/loan-sales-assistant/internal/config"
	"github.com/wolfman30/loan-sales-assistant/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/loan-sales-assistant/internal/http/middleware"
	"github.com/wolfman30/loan-sales-assistant/internal/observability/metrics"
	"github.com/wolfman30/loan-sales-assistant/internal/sessions"
	"github.com/wolfman30/loan-sales-assistant/pkg/logging"
)

func main() {
	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting loan-sales-assistant API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"state_backend", cfg.StateBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	metricsHandler, convMetrics, workerMetrics := setupMetrics()

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	stores, err := bootstrap.BuildSessionStores(cfg, awsCfg, redisClient, logger)
	if err != nil {
		logger.Error("failed to configure state store", "error", err)
		os.Exit(1)
	}
	rules, err := bootstrap.BuildRules(cfg, logger)
	if err != nil {
		logger.Error("failed to load business rules", "error", err)
		os.Exit(1)
	}
	llm, err := bootstrap.BuildLLMClient(ctx, cfg, awsCfg, convMetrics, logger)
	if err != nil {
		logger.Error("failed to configure LLM", "error", err)
		os.Exit(1)
	}
	archiver, archiveLog, err := bootstrap.BuildArchiver(ctx, cfg, awsCfg, llm, logger)
	if err != nil {
		logger.Error("failed to configure archive", "error", err)
		os.Exit(1)
	}
	if archiveLog != nil {
		defer archiveLog.Close()
	}

	registry := sessions.NewRegistry(stores, rules, cfg.SessionTTL, logger,
		bootstrap.DriverOptions(cfg, llm, archiver, convMetrics, logger)...)
	if redisClient != nil {
		registry = registry.WithIndex(sessions.NewRedisIndex(redisClient, cfg.SessionTTL))
	}

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	authService := buildAuthService(cfg, pool, logger)

	// Initialize handlers
	routerCfg := &router.Config{
		Logger:             logger,
		Sessions:           handlers.NewSessionHandler(registry, cfg.UploadDir, logger),
		Letters:            handlers.NewLetterHandler(bootstrap.BuildLetterStore(cfg, awsCfg, logger), logger),
		Auth:               handlers.NewAuthHandler(authService, logger),
		Tokens:             authService,
		RateLimiter:        httpmiddleware.NewRateLimiter(cfg.RateLimitPerSec, cfg.RateLimitBurst),
		MetricsHandler:     metricsHandler,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout:     cfg.RequestTimeout,
	}
	if archiveLog != nil {
		routerCfg.Archive = handlers.NewArchiveHandler(archiveLog, logger)
	}
	r := router.New(routerCfg)

	// Background verifiers share the process unless they run as their own
	// deployment.
	var workers sync.WaitGroup
	if cfg.EmbeddedWorkers {
		for _, runner := range bootstrap.BuildRunners(cfg, awsCfg, stores.Source(), workerMetrics, logger) {
			runner := runner
			workers.Add(1)
			go func() {
				defer workers.Done()
				runner.Run(ctx)
			}()
		}
	}

	// Create HTTP server. Chat sockets outlive any write timeout, so
	// per-request deadlines come from the router instead.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	workers.Wait()

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

// setupMetrics registers the application collectors on a private registry.
func setupMetrics() (http.Handler, *metrics.ConversationMetrics, *metrics.WorkerMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	conv := metrics.NewConversationMetrics(reg)
	workers := metrics.NewWorkerMetrics(reg)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), conv, workers
}

// connectPostgresPool returns nil when no database is configured or it
// cannot be reached.
func connectPostgresPool(ctx context.Context, url string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(url) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		logger.Error("failed to connect postgres", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// buildAuthService keeps users in Postgres when a pool is available and in
// memory otherwise. Without JWT_SECRET tokens are signed with a per-process
// secret and stop validating on restart.
func buildAuthService(cfg *appconfig.Config, pool *pgxpool.Pool, logger *logging.Logger) *auth.Service {
	var repo auth.Repository
	if pool != nil {
		repo = auth.NewPostgresRepository(pool)
	} else {
		logger.Warn("no database configured; users are kept in memory")
		repo = auth.NewMemoryRepository()
	}
	secret := cfg.JWTSecret
	if strings.TrimSpace(secret) == "" {
		logger.Warn("JWT_SECRET not set; using an ephemeral signing secret")
		secret = uuid.NewString()
	}
	return auth.NewService(repo, secret, cfg.JWTTTL, logger)
}
