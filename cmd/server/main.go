// Package main is the entry point for the Herald alert distribution server.
// Herald receives trading alerts over a signed webhook, matches them against
// per-user configurations, maintains a virtual trade ledger, evaluates
// user-defined price alerts, and dispatches notifications.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heraldlabs/herald/internal/clock"
	"github.com/heraldlabs/herald/internal/config"
	"github.com/heraldlabs/herald/internal/di"
	"github.com/heraldlabs/herald/internal/version"
	"github.com/heraldlabs/herald/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use fallback logger if config fails
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Pretty: cfg.Logging.Pretty || cfg.DevMode,
	})

	log.Info().Str("version", version.Version).Msg("Starting Herald")

	// Wire all dependencies: databases, repositories, services, jobs.
	// Settings stored in the registry override file and environment values
	// during wiring, so the pipeline sees the effective configuration.
	container, err := di.Wire(cfg, clock.System(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire dependencies")
	}

	// Background context for everything that runs until shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Event consumers first so nothing published during startup is lost.
	go container.MetricsListener.Run(ctx)
	go container.DispatchListener.Run(ctx)

	// Matching workers drain the webhook queue; delivery workers drain the
	// notification queue.
	container.MatchPool.Start(ctx)
	container.NotifyPool.Start(ctx)

	// User-alert evaluation loop.
	go container.AlertScheduler.Run(ctx)

	// Cron maintenance: cache sweeps, WAL checkpoints, expiry, backups.
	if err := container.Maintenance.Start(cfg.Backup.Schedule); err != nil {
		log.Fatal().Err(err).Msg("Failed to start maintenance scheduler")
	}

	go func() {
		if err := container.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	log.Info().Int("port", cfg.Server.Port).Msg("Server started successfully")

	// Block until SIGINT or SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down...")

	// Stop accepting webhooks first; the admin API keeps serving while the
	// pipeline drains.
	container.Server.BeginDrain()

	// Drain queued alerts, then pending notifications. Both pools close
	// their queues and return as soon as the backlog is gone; the shared
	// deadline bounds a stuck drain.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer drainCancel()
	if err := container.MatchPool.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Match pool drain incomplete")
	}
	if err := container.NotifyPool.Stop(drainCtx); err != nil {
		log.Warn().Err(err).Msg("Notification drain incomplete")
	}

	// Stop the cron runner and the evaluation loop.
	container.Maintenance.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	container.CloseDatabases()
	log.Info().Msg("Server stopped")

	// A tripped fatal latch (for example a corrupted trade counter) means the
	// pipeline stopped doing work; make that visible to the supervisor.
	if _, reasons := container.Metrics.Ready(); reasons["fatal"] != "" {
		log.Error().Str("reason", reasons["fatal"]).Msg("Exiting after fatal pipeline error")
		os.Exit(2)
	}
}
