package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/ledger"
	"github.com/example/fundflow/internal/metrics"
	"github.com/example/fundflow/pkg/logger"
)

// LedgerService is the engine surface the ledger facade exposes.
type LedgerService interface {
	CreateAccount(ctx context.Context, initialBalance decimal.Decimal) (*ledger.Account, error)
	GetAccount(ctx context.Context, id int64) (*ledger.Account, error)
	ApplyTransfer(ctx context.Context, transferID string, fromID, toID int64, amount decimal.Decimal) (ledger.ApplyOutcome, error)
}

// LedgerHandler handles ledger engine HTTP requests
type LedgerHandler struct {
	service LedgerService
	logger  *logger.Logger
}

// NewLedgerHandler creates a new ledger handler
func NewLedgerHandler(service LedgerService, log *logger.Logger) *LedgerHandler {
	return &LedgerHandler{
		service: service,
		logger:  log,
	}
}

// CreateAccountRequest represents an account creation request
type CreateAccountRequest struct {
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

// AccountResponse represents an account in API responses
type AccountResponse struct {
	ID      int64           `json:"id"`
	Balance decimal.Decimal `json:"balance"`
	Version int64           `json:"version"`
}

// ApplyTransferRequest represents a transfer application request
type ApplyTransferRequest struct {
	TransferID    string          `json:"transferId"`
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

// ApplyTransferResponse acknowledges an applied transfer. A replay is
// acknowledged identically to a first application.
type ApplyTransferResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// CreateAccount handles POST /accounts
func (h *LedgerHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	account, err := h.service.CreateAccount(r.Context(), req.InitialBalance)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithContext(r.Context()).WithError(err).Error("Failed to create account")
		respondError(w, http.StatusInternalServerError, "failed to create account")
		return
	}

	respondJSON(w, http.StatusOK, accountResponse(account))
}

// GetAccount handles GET /accounts/{id}
func (h *LedgerHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := h.service.GetAccount(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			respondError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.WithContext(r.Context()).WithError(err).Error("Failed to get account")
		respondError(w, http.StatusInternalServerError, "failed to get account")
		return
	}

	respondJSON(w, http.StatusOK, accountResponse(account))
}

// ApplyTransfer handles POST /ledger/transfer
func (h *LedgerHandler) ApplyTransfer(w http.ResponseWriter, r *http.Request) {
	var req ApplyTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	outcome, err := h.service.ApplyTransfer(r.Context(), req.TransferID, req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidRequest),
			errors.Is(err, ledger.ErrAccountNotFound),
			errors.Is(err, ledger.ErrInsufficientFunds):
			metrics.LedgerApplies.WithLabelValues(metrics.ResultRejected).Inc()
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			metrics.LedgerApplies.WithLabelValues(metrics.ResultTransient).Inc()
			h.logger.WithContext(r.Context()).WithError(err).Error("Failed to apply transfer",
				"transfer_id", req.TransferID,
			)
			respondError(w, http.StatusInternalServerError, "failed to apply transfer")
		}
		return
	}

	result := metrics.ResultApplied
	if outcome.AlreadyApplied {
		result = metrics.ResultAlreadyApplied
	}
	metrics.LedgerApplies.WithLabelValues(result).Inc()

	respondJSON(w, http.StatusOK, ApplyTransferResponse{
		Success: true,
		Message: "transfer applied",
	})
}

func accountResponse(account *ledger.Account) AccountResponse {
	return AccountResponse{
		ID:      account.ID,
		Balance: account.Balance,
		Version: account.Version,
	}
}
