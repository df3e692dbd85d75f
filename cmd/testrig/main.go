// testrig orchestrator server — accepts test jobs over HTTP, schedules them
// onto registered agents, and drives their lifecycle to completion.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/testrig/pkg/api"
	"github.com/codeready-toolchain/testrig/pkg/cleanup"
	"github.com/codeready-toolchain/testrig/pkg/config"
	"github.com/codeready-toolchain/testrig/pkg/database"
	"github.com/codeready-toolchain/testrig/pkg/queue"
	"github.com/codeready-toolchain/testrig/pkg/scheduler"
	"github.com/codeready-toolchain/testrig/pkg/services"
	"github.com/codeready-toolchain/testrig/pkg/store"
	"github.com/codeready-toolchain/testrig/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	storeBackend := getEnv("STORE_BACKEND", "postgres")

	slog.Info("Starting testrig",
		"version", version.Full(),
		"http_port", httpPort,
		"store_backend", storeBackend,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(*configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Initialize the store backend
	var (
		st       store.Store
		expirer  store.Expirer
		dbClient *database.Client
	)
	switch storeBackend {
	case "postgres":
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		pg := store.NewPostgresStore(dbClient.DB())
		st, expirer = pg, pg
		slog.Info("Connected to PostgreSQL database")
	case "memory":
		mem := store.NewMemoryStore()
		st, expirer = mem, mem
		slog.Warn("Using in-memory store, all state is lost on restart")
	default:
		slog.Error("Unknown store backend", "store_backend", storeBackend)
		os.Exit(1)
	}

	// 3. Wire records, queues, and domain services
	records := store.NewRecords(st, cfg.Scheduler.JobRecordTTL, cfg.Scheduler.AgentRecordTTL)
	queues := queue.New(st)

	jobService := services.NewJobService(records, queues)
	agentService := services.NewAgentService(records, jobService, cfg.Scheduler.LivenessTTL)

	// 4. Scheduler: completion reports flow back through it so group
	// advancement and retries happen under one lock.
	sched := scheduler.New(cfg.Scheduler, records, queues, jobService, agentService)
	agentService.SetCompletionHandler(sched)
	jobService.SetNotifier(sched.Wake)

	sched.Start(ctx)

	// 5. Expired-record sweeper
	sweeper := cleanup.NewService(cfg.Retention, expirer)
	sweeper.Start(ctx)

	// 6. HTTP server (non-blocking)
	httpServer := api.NewServer(jobService, agentService, sched, records, queues, st, dbClient)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("testrig started successfully")

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: HTTP first so no new work arrives, then the
	// background loops. Running jobs survive in the store and are
	// reconciled on the next start.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	sweeper.Stop()
	sched.Stop()

	slog.Info("Shutdown complete")
}
