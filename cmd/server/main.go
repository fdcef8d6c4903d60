/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the card ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (see config package), then apply flags
  2. Build the logger
  3. Open the store (SQLite or PostgreSQL)
  4. Build the rate limiter (in-process or Redis)
  5. Create ledger, maintenance scheduler, handler and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      Database DSN or SQLite path (overrides DB_DSN)
           Use ":memory:" for an in-memory SQLite database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler
  4. Close Redis and database connections

EXAMPLES:
  ./server -db="./data/cards.db"
  DB_DRIVER=postgres DB_DSN="postgres://localhost/cards?sslmode=disable" ./server
  RATE_LIMIT_BACKEND=redis REDIS_ADDR=localhost:6379 ./server -port=3000

SEE ALSO:
  - config/config.go: Environment variables and defaults
  - api/server.go: Router configuration
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

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/warp/card-ledger/api"
	"github.com/warp/card-ledger/config"
	"github.com/warp/card-ledger/ledger"
	"github.com/warp/card-ledger/ratelimit"
	"github.com/warp/card-ledger/store/postgres"
	"github.com/warp/card-ledger/store/sqlite"
)

type cardStore interface {
	ledger.TxStore
	Ping(ctx context.Context) error
	Close() error
}

func main() {
	port := flag.String("port", "", "HTTP server port")
	dsn := flag.String("db", "", "Database DSN or SQLite path")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dsn != "" {
		cfg.Database.DSN = *dsn
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	log := cfg.NewLogger()

	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("Server failed")
	}
}

func run(cfg *config.Config, log *logrus.Logger) error {
	ctx := context.Background()

	// Store
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	log.WithField("driver", cfg.Database.Driver).Info("Store ready")

	// Rate limiter
	var (
		limiter ledger.RateLimiter
		sweeper api.Sweeper
	)
	switch cfg.RateLimit.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		rw, err := ratelimit.NewRedisWindow(client, "", cfg.Limiter())
		if err != nil {
			return err
		}
		limiter = rw
	default:
		sw, err := ratelimit.NewSlidingWindow(cfg.Limiter())
		if err != nil {
			return err
		}
		limiter, sweeper = sw, sw
	}
	log.WithFields(logrus.Fields{
		"backend": cfg.RateLimit.Backend,
		"max":     cfg.RateLimit.Max,
		"window":  cfg.RateLimit.Window.String(),
	}).Info("Rate limiter ready")

	l := ledger.New(store, limiter, ledger.WithLogger(log.WithField("component", "ledger")))

	scheduler, err := api.NewMaintenanceScheduler(l, sweeper, cfg.Reconcile.Schedule, log)
	if err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	handler := api.NewHandler(l, store, scheduler, log)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Server starting on http://localhost:%s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return err
	case <-quit:
	}

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config) (cardStore, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		store, err := postgres.New(connectCtx, cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.New(cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite: %w", err)
		}
		return store, nil
	}
}
