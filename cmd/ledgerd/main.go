package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/fundflow/internal/infra/postgres"
	"github.com/example/fundflow/internal/ledger"
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
	cfg, err := config.LoadLedger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting ledger service",
		"env", cfg.Env,
		"port", cfg.Port,
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

	// Initialize the engine
	ledgerRepo := postgres.NewLedgerRepository(db)
	ledgerSvc := ledger.NewService(ledgerRepo, log).WithTxMaxAttempts(cfg.TxMaxAttempts)

	// Initialize HTTP handlers and router
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc, log)
	healthHandler := handler.NewHealthHandler(db)

	r := httpapi.NewLedgerRouter(httpapi.LedgerConfig{
		Logger:        log,
		LedgerHandler: ledgerHandler,
		HealthHandler: healthHandler,
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

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
		os.Exit(1)
	}

	log.Info("Server stopped")
}
