package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sentinela/sentinela/internal/api"
	"github.com/sentinela/sentinela/internal/auth"
	"github.com/sentinela/sentinela/internal/config"
	"github.com/sentinela/sentinela/internal/controller"
	"github.com/sentinela/sentinela/internal/database"
	"github.com/sentinela/sentinela/internal/executor"
	"github.com/sentinela/sentinela/internal/monitors"
	"github.com/sentinela/sentinela/internal/queue"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/server"
	"github.com/sentinela/sentinela/internal/store"
)

const outboxFlushInterval = time.Second

func main() {
	runController, runExecutor := parseArgs(os.Args[1:])

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := initLogger(cfg.Logging)
	slog.SetDefault(logger)
	logger.Info("starting sentinela",
		"controller", runController,
		"executor", runExecutor,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Application database
	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect to the application database", "error", err)
		os.Exit(1)
	}
	defer database.Close(pool, cfg.GetDatabaseCloseTimeout())

	if err := database.RunMigrations(cfg); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Pools exposed to monitor callbacks
	userPools, err := database.OpenUserPools(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open user database pools", "error", err)
		os.Exit(1)
	}
	defer userPools.Close()

	// Work queue
	workQueue, err := queue.New(ctx, cfg.ApplicationQueue, logger)
	if err != nil {
		logger.Error("failed to create work queue", "error", err)
		os.Exit(1)
	}

	// Monitor definitions
	catalog, err := monitors.BuildCatalog(cfg)
	if err != nil {
		logger.Error("failed to build monitor catalog", "error", err)
		os.Exit(1)
	}
	reg := registry.New()

	st := store.New(pool, reg, cfg.LogAllEvents, cfg.GetDatabaseQueryTimeout(), logger)

	// The controller process owns monitor registration, every process
	// binds rows to its own catalog.
	loader := registry.NewLoader(st, catalog, reg, cfg.MonitorsLoadSchedule, cfg.Location(), runController, logger)

	var wg sync.WaitGroup
	runComponent := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("component stopped", "component", name, "error", err)
				cancel()
			}
		}()
	}

	runComponent("monitors_loader", loader.Run)
	if err := reg.WaitReady(ctx, 5*time.Second); err != nil {
		logger.Warn("registry not ready yet, continuing", "error", err)
	}

	components := make(map[string]api.Diagnosable)

	if runController {
		ctrl := controller.New(st, reg, workQueue, cfg, logger)
		components["controller"] = ctrl
		runComponent("controller", ctrl.Run)
	}

	if runExecutor {
		exec := executor.New(st, reg, workQueue, userPools, cfg, logger)
		components["executor"] = exec
		runComponent("executor", exec.Run)
	}

	// Every process flushes its own committed events. Publication is
	// at-least-once, duplicate deliveries are possible and fine.
	flusher := store.NewOutboxFlusher(st, workQueue, outboxFlushInterval, logger)
	runComponent("outbox_flusher", flusher.Run)

	// HTTP surface
	authService, err := auth.NewService(
		cfg.HTTPServer.Auth.JWTSecret,
		cfg.HTTPServer.Auth.AdminUsername,
		cfg.HTTPServer.Auth.AdminPassword,
		cfg.HTTPServer.Auth.GetJWTExpiry(),
	)
	if err != nil {
		logger.Error("failed to initialize auth service", "error", err)
		os.Exit(1)
	}

	router := api.NewRouter(&api.Dependencies{
		Store:      st,
		Queue:      workQueue,
		Catalog:    catalog,
		Registry:   reg,
		Auth:       authService,
		Components: components,
		Logger:     logger,
	})
	srv := server.New(cfg.HTTPServer.Port, router, logger)
	runComponent("http_server", srv.Run)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Error("shutting down after component failure")
	}

	cancel()
	wg.Wait()
	logger.Info("stopped")
}

// parseArgs decides which halves of the engine this process runs. Without
// arguments both run in one process.
func parseArgs(args []string) (runController, runExecutor bool) {
	if len(args) == 0 {
		return true, true
	}
	for _, arg := range args {
		switch arg {
		case "controller":
			runController = true
		case "executor":
			runExecutor = true
		default:
			log.Fatalf("Unknown argument %q, expected controller and/or executor", arg)
		}
	}
	return runController, runExecutor
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Mode == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
