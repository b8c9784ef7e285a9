package httpapi

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/fundflow/internal/transport/httpapi/handler"
	"github.com/example/fundflow/internal/transport/httpapi/middleware"
	"github.com/example/fundflow/pkg/logger"
)

// LedgerConfig holds ledger router configuration
type LedgerConfig struct {
	Logger        *logger.Logger
	LedgerHandler *handler.LedgerHandler
	HealthHandler *handler.HealthHandler
}

// NewLedgerRouter builds the ledger service HTTP router.
func NewLedgerRouter(cfg LedgerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Metrics("ledger"))
	r.Use(chimiddleware.Compress(5))

	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/accounts", cfg.LedgerHandler.CreateAccount)
	r.Get("/accounts/{id}", cfg.LedgerHandler.GetAccount)
	r.Post("/ledger/transfer", cfg.LedgerHandler.ApplyTransfer)

	return r
}

// TransferConfig holds transfer router configuration
type TransferConfig struct {
	Logger          *logger.Logger
	AllowedOrigins  []string
	TransferHandler *handler.TransferHandler
	HealthHandler   *handler.HealthHandler
}

// NewTransferRouter builds the transfer service HTTP router.
func NewTransferRouter(cfg TransferConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Metrics("transfer"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.RateLimit()) // Rate limiting: 100 req/s with burst of 20

	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/transfers", cfg.TransferHandler.CreateTransfer)
	r.Post("/transfers/batch", cfg.TransferHandler.ProcessBatch)
	r.Get("/transfers/{id}", cfg.TransferHandler.GetTransfer)

	return r
}
