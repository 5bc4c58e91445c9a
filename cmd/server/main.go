/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the service desk server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize the store (SQLite or PostgreSQL)
  3. Connect the notifier (NATS when configured, log otherwise)
  4. Create API handler and router
  5. Start the rollover scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides SQLITE_PATH)
           Use ":memory:" for in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the rollover scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain NATS and close the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/servicedesk.db"

  # Run against PostgreSQL
  DB_DRIVER=postgres DATABASE_URL=postgres://localhost/servicedesk ./server

  # Run on different port
  ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Rollover scheduler
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/servicedesk/api"
	"github.com/warp/servicedesk/config"
	"github.com/warp/servicedesk/core"
	"github.com/warp/servicedesk/logging"
	"github.com/warp/servicedesk/notify"
	"github.com/warp/servicedesk/store/postgres"
	"github.com/warp/servicedesk/store/sqlite"
)

type store interface {
	api.Store
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.SQLitePath, "SQLite database path")
	flag.Parse()
	cfg.Port = *port
	cfg.SQLitePath = *dbPath

	log := logging.New(cfg.LogLevel, cfg.Environment, "servicedesk")

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to initialize store")
	}
	defer st.Close()

	var notifier notify.Notifier = notify.LogNotifier{Log: log}
	if cfg.NATSURL != "" {
		pub, err := notify.DialNATS(cfg.NATSURL, cfg.NATSSubjectPrefix, log)
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("failed to connect to NATS")
		}
		defer pub.Close()
		notifier = pub
	}

	handler := api.NewHandler(st, notifier, core.SystemClock{}, log)
	handler.Engine.OrderLimit = cfg.OrderFetchLimit
	handler.Worklists.ItemLimit = cfg.WorklistFetchLimit

	router := api.NewRouter(handler, api.RouterOptions{CORSOrigins: cfg.CORSOrigins, Log: log})

	scheduler := handler.Scheduler
	scheduler.CheckInterval = cfg.RolloverInterval
	scheduler.Enabled = cfg.RolloverEnabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("driver", cfg.DBDriver).
			Str("environment", cfg.Environment).
			Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		st, err := sqlite.New(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return st, nil
	}
}
