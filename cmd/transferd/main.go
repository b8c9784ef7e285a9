package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/fundflow/internal/infra/postgres"
	infraRedis "github.com/example/fundflow/internal/infra/redis"
	"github.com/example/fundflow/internal/ledgerclient"
	"github.com/example/fundflow/internal/transfer"
	"github.com/example/fundflow/internal/transport/httpapi"
	"github.com/example/fundflow/internal/transport/httpapi/handler"
	"github.com/example/fundflow/pkg/config"
	"github.com/example/fundflow/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadTransfer()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting transfer service",
		"env", cfg.Env,
		"port", cfg.Port,
		"ledger_base_url", cfg.LedgerBaseURL,
	)

	// Initialize database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{
		URL:      cfg.DatabaseURL,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
	})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Apply schema per the DDL policy
	if err := postgres.Migrate(ctx, db, cfg.DDLPolicy, log); err != nil {
		log.Error("Failed to prepare schema", "error", err, "ddl_policy", cfg.DDLPolicy)
		os.Exit(1)
	}
	if cfg.DDLPolicy == postgres.DDLCreateDrop {
		defer func() {
			if err := postgres.Drop(context.Background(), db); err != nil {
				log.Error("Failed to drop schema on shutdown", "error", err)
			}
		}()
	}

	// Optional Redis cache for terminal transfer records
	var cache transfer.RecordCache
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("Redis unavailable, running without record cache", "error", err)
		} else {
			cache = infraRedis.NewRecordCache(redisClient, log)
			log.Info("Redis record cache enabled")
		}
	}

	// Resilient ledger client
	ledgerClient := ledgerclient.New(ledgerclient.Config{
		BaseURL:        cfg.LedgerBaseURL,
		MaxAttempts:    cfg.RetryMaxAttempts,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		FailureRate:    cfg.BreakerFailureRate,
		Window:         cfg.BreakerWindow,
		MinRequests:    cfg.BreakerMinRequests,
		OpenDuration:   cfg.BreakerOpenDuration,
		Probes:         cfg.BreakerProbes,
	}, log)

	// Transfer coordinator
	transferRepo := postgres.NewTransferRepository(db)
	transferSvc := transfer.NewService(transferRepo, ledgerClient, cache, log, transfer.Config{
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		BatchLimit:    cfg.BatchLimit,
		StaleAfter:    cfg.StaleAfter,
		SweepInterval: cfg.SweepInterval,
	})
	transferSvc.StartRecovery(ctx)
	log.Info("Transfer coordinator started",
		"workers", cfg.Workers,
		"queue_size", cfg.QueueSize,
		"batch_limit", cfg.BatchLimit,
	)

	// Initialize HTTP handlers and router
	transferHandler := handler.NewTransferHandler(transferSvc, log)
	healthHandler := handler.NewHealthHandler(db)

	r := httpapi.NewTransferRouter(httpapi.TransferConfig{
		Logger:          log,
		AllowedOrigins:  cfg.AllowedOrigins,
		TransferHandler: transferHandler,
		HealthHandler:   healthHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	// Graceful shutdown with timeout: stop accepting requests, then drain the
	// in-flight applications.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}

	transferSvc.Close(shutdownCtx)
	log.Info("Server stopped")
}
