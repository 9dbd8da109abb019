/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the dues engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (defaults, YAML, .env/environment, flags)
  2. Initialize SQLite store and evidence directory
  3. Register Prometheus metrics
  4. Build the dues engine; seed configuration and periods when missing
  5. Start the mora sweep scheduler
  6. Configure HTTP router and start server with graceful shutdown

COMMAND-LINE FLAGS (override config/config.go sources):
  -addr      HTTP listen address (default: :8080)
  -db        SQLite database path (default: dues.db)
             Use ":memory:" for in-memory database
  -blob-dir  Evidence directory (default: data/evidence)
  -sweep     Mora sweep cron spec, or "off"

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the sweep scheduler (waits for a running sweep)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  DUES_JWT_SECRET=dev ./server -db="./data/dues.db"
  DUES_CONFIG=./dues.yaml ./server -sweep=off

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/dues-engine/api"
	"github.com/warp/dues-engine/blob"
	"github.com/warp/dues-engine/config"
	"github.com/warp/dues-engine/dues"
	"github.com/warp/dues-engine/generic"
	"github.com/warp/dues-engine/metrics"
	"github.com/warp/dues-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "HTTP listen address")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	flag.StringVar(&cfg.BlobDir, "blob-dir", cfg.BlobDir, "Evidence directory")
	flag.StringVar(&cfg.SweepSchedule, "sweep", cfg.SweepSchedule, `Mora sweep cron spec, or "off"`)
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// Initialize store
	store, err := sqlite.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	blobs, err := blob.NewFS(cfg.BlobDir)
	if err != nil {
		log.Fatalf("Failed to initialize evidence store: %v", err)
	}

	metrics.Init(prometheus.DefaultRegisterer)

	engine := dues.NewEngine(store,
		dues.WithLogger(logger),
		dues.WithStartMonth(cfg.StartTimeMonth()),
	)
	if err := bootstrap(context.Background(), engine, cfg); err != nil {
		log.Fatalf("Failed to seed data: %v", err)
	}

	var scheduler *api.MoraSweepScheduler
	if cfg.SweepEnabled() {
		scheduler = api.NewMoraSweepScheduler(engine.Sweeper, cfg.SweepSchedule)
		scheduler.RunOnStart = true
		if err := scheduler.Start(); err != nil {
			log.Fatalf("Failed to start sweep scheduler: %v", err)
		}
	}

	handler := api.NewHandler(engine, blobs)
	handler.Logger = logger
	router := api.NewRouter(handler, api.RouterOptions{
		JWTSecret:   []byte(cfg.JWTSecret),
		CORSOrigins: cfg.CORSOrigins,
		Metrics:     promhttp.Handler(),
	})

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "db", cfg.DBPath, "sweep", cfg.SweepSchedule)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("server stopped")
}

// bootstrap installs the initial configuration and any configured periods
// the store does not know yet.
func bootstrap(ctx context.Context, engine *dues.Engine, cfg config.Config) error {
	initial, err := cfg.InitialConfiguration()
	if err != nil {
		return err
	}
	if _, err := engine.Config.Seed(ctx, initial); err != nil {
		return err
	}

	periods, err := cfg.InitialPeriods()
	if err != nil {
		return err
	}
	for _, p := range periods {
		_, err := engine.Deps.Store.GetPeriod(ctx, p.ID)
		if err == nil {
			continue
		}
		if !errors.Is(err, generic.ErrPeriodNotFound) {
			return err
		}
		if _, err := engine.Calendar.SyncPeriod(ctx, generic.SystemActor, p); err != nil {
			return fmt.Errorf("period %s: %w", p.ID, err)
		}
	}
	return nil
}
