// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Command syncd is the entry point for the Yomira catalog sync daemon.
//
// # Startup Sequence
//
//  1. Initialize structured logger.
//  2. Load configuration from environment variables.
//  3. Connect to PostgreSQL (pgxpool).
//  4. Connect to Redis.
//  5. Run database migrations (idempotent).
//  6. Recover stale tasks left by an unclean shutdown.
//  7. Wire clients, scanner, processor, and the admin HTTP surface.
//  8. Start the scheduler workers and the HTTP server with graceful shutdown.
//
// No business logic lives here. All wiring is explicit constructor injection.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taibuivan/yomira-sync/internal/api"
	"github.com/taibuivan/yomira-sync/internal/clients"
	"github.com/taibuivan/yomira-sync/internal/events"
	"github.com/taibuivan/yomira-sync/internal/platform/config"
	"github.com/taibuivan/yomira-sync/internal/platform/constants"
	"github.com/taibuivan/yomira-sync/internal/platform/migration"
	pgstore "github.com/taibuivan/yomira-sync/internal/platform/postgres"
	redisstore "github.com/taibuivan/yomira-sync/internal/platform/redis"
	"github.com/taibuivan/yomira-sync/internal/platform/sec"
	"github.com/taibuivan/yomira-sync/internal/processor"
	"github.com/taibuivan/yomira-sync/internal/scanner"
	"github.com/taibuivan/yomira-sync/internal/scheduler"
	"github.com/taibuivan/yomira-sync/internal/series"
)

func main() {
	// ── 1. Logger ──────────────────────────────────────────────────────────
	// Initialize first so that subsequent startup errors are structured JSON.
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})).With(slog.String("app", constants.AppName))
	slog.SetDefault(log)

	log.Info("service_initializing", slog.String("version", constants.AppVersion))

	// ── 2. Configuration ──────────────────────────────────────────────────
	cfg, err := config.Load()
	must(log, err, "load configuration")

	if level := parseLogLevel(cfg.LogLevel); level != slog.LevelInfo {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})).With(slog.String("app", constants.AppName))
		slog.SetDefault(log)
	}

	log.Info("configuration_loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.Port),
		slog.Duration("scanner_interval", cfg.ScannerInterval()),
		slog.Duration("processor_interval", cfg.ProcessorInterval()),
	)

	// Root context for startup. Use a 30s deadline so misconfiguration is
	// caught quickly rather than hanging indefinitely.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startupCancel()

	// ── 3. PostgreSQL ─────────────────────────────────────────────────────
	pool, err := pgstore.NewPool(startupCtx, cfg.DatabaseURL, log)
	must(log, err, "connect to postgres")
	defer func() {
		log.Info("closing postgres pool")
		pool.Close()
	}()

	// ── 4. Redis ──────────────────────────────────────────────────────────
	rdb, err := redisstore.NewClient(startupCtx, cfg.RedisURL, log)
	must(log, err, "connect to redis")
	defer func() {
		log.Info("closing redis client")
		if cerr := rdb.Close(); cerr != nil {
			log.Error("redis close error", slog.Any("error", cerr))
		}
	}()

	// ── 5. Migrations ─────────────────────────────────────────────────────
	must(log, migration.RunUp(cfg.DatabaseURL, cfg.MigrationPath, log), "run migrations")

	// ── 6. Crash Recovery ─────────────────────────────────────────────────
	// Must complete before any ticker starts, so no worker ever observes a
	// task stuck in scraping/uploading from a previous process.
	store := series.NewPostgresStore(pool)
	must(log, store.RecoverStaleTasks(startupCtx), "recover stale tasks")
	log.Info("stale_task_recovery_complete")

	// ── 7. Clients & Event Publisher ──────────────────────────────────────
	publisher := events.NewPublisher(rdb, log)
	defer publisher.Close()

	scraper := clients.NewScraper(cfg, log)
	uploader := clients.NewUploader(cfg)
	catalog := clients.NewCatalog(cfg)
	purger := clients.NewCachePurger(cfg, log)
	notifier := clients.NewNotifier(cfg, rdb, log)

	// ── 8. Core Actors ────────────────────────────────────────────────────
	scan := scanner.New(store, scraper, catalog, notifier, publisher, cfg, log)
	proc := processor.New(store, scraper, uploader, catalog, purger, publisher, cfg, log)

	scannerWorker := scheduler.NewWorker("scanner", cfg.ScannerInterval(), scan.Tick, log)
	processorWorker := scheduler.NewWorker("processor", cfg.ProcessorInterval(), proc.Tick, log)

	// ── 9. Admin HTTP Surface ─────────────────────────────────────────────
	liveness, readiness := api.NewHealthHandlers(api.HealthDependencies{
		CheckDatabase: func() error {
			return pgstore.Ping(context.Background(), pool)
		},
		CheckCache: func() error {
			return redisstore.Ping(context.Background(), rdb)
		},
	}, log)

	service := series.NewService(store, publisher, scan, log)
	handlers := api.Handlers{
		Liveness:   liveness,
		Readiness:  readiness,
		Series:     series.NewHandler(service),
		EventToken: api.NewEventTokenHandler(sec.NewCapabilityService(cfg.EventBusKey, constants.CapabilityIssuer)),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	server := api.NewServer(runCtx, cfg, log, sec.NewAPIKeyVerifier(cfg.AdminAPIKey), handlers)

	// ── 10. Run ───────────────────────────────────────────────────────────
	scannerWorker.Start(runCtx)
	processorWorker.Start(runCtx)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Block until OS signal or server error.
	select {
	case sig := <-quit:
		log.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		log.Error("server startup error", slog.Any("error", err))
	}

	// ── 11. Graceful Shutdown ─────────────────────────────────────────────
	// Order matters: suppress new ticks and wait for in-flight ones, stop
	// accepting requests, then drain the event queue. Handlers publish
	// events, so the publisher must outlive the server.
	log.Info("shutting down", slog.Duration("timeout", constants.ShutdownTimeout))

	scannerWorker.Stop()
	processorWorker.Stop()

	if err := server.Shutdown(constants.ShutdownTimeout); err != nil {
		log.Error("shutdown error", slog.Any("error", err))
		os.Exit(1)
	}
	publisher.Close()

	log.Info("service stopped cleanly")
}

// parseLogLevel maps the LOG_LEVEL env value to a slog level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// must logs a structured fatal error and terminates the process if err is non-nil.
//
// It is intentionally limited to startup wiring. After startup, all errors
// must be returned and handled explicitly (never panic).
func must(log *slog.Logger, err error, context string) {
	if err != nil {
		log.Error("startup failure",
			slog.String("context", context),
			slog.Any("error", err),
		)
		os.Exit(1)
	}
}
