package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/transfer"
	"github.com/example/fundflow/pkg/logger"
)

// IdempotencyKeyHeader names the client-supplied deduplication key.
const IdempotencyKeyHeader = "Idempotency-Key"

// TransferService is the coordinator surface the transfer facade exposes.
type TransferService interface {
	CreateTransfer(ctx context.Context, idempotencyKey string, fromID, toID int64, amount decimal.Decimal) (*transfer.Record, error)
	GetTransfer(ctx context.Context, transferID string) (*transfer.Record, error)
	ProcessBatch(ctx context.Context, intents []transfer.BatchIntent) ([]*transfer.Record, error)
}

// TransferHandler handles transfer coordinator HTTP requests
type TransferHandler struct {
	service TransferService
	logger  *logger.Logger
}

// NewTransferHandler creates a new transfer handler
func NewTransferHandler(service TransferService, log *logger.Logger) *TransferHandler {
	return &TransferHandler{
		service: service,
		logger:  log,
	}
}

// CreateTransferRequest represents a transfer creation request
type CreateTransferRequest struct {
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
}

// TransferResponse represents a transfer record in API responses
type TransferResponse struct {
	TransferID    string          `json:"transferId"`
	FromAccountID int64           `json:"fromAccountId"`
	ToAccountID   int64           `json:"toAccountId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
}

// BatchTransferRequest represents a batch of transfer intents
type BatchTransferRequest struct {
	Transfers []BatchTransferItem `json:"transfers"`
}

// BatchTransferItem is one slot of a batch request
type BatchTransferItem struct {
	IdempotencyKey string          `json:"idempotencyKey"`
	FromAccountID  int64           `json:"fromAccountId"`
	ToAccountID    int64           `json:"toAccountId"`
	Amount         decimal.Decimal `json:"amount"`
}

// BatchTransferResponse carries per-slot results in submission order
type BatchTransferResponse struct {
	Transfers []TransferResponse `json:"transfers"`
}

// CreateTransfer handles POST /transfers
func (h *TransferHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get(IdempotencyKeyHeader)
	if key == "" {
		respondError(w, http.StatusBadRequest, "Idempotency-Key header is required")
		return
	}

	var req CreateTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := h.service.CreateTransfer(r.Context(), key, req.FromAccountID, req.ToAccountID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, transfer.ErrInvalidRequest):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, transfer.ErrIdempotencyConflict):
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.logger.WithContext(r.Context()).WithError(err).Error("Failed to create transfer")
			respondError(w, http.StatusInternalServerError, "failed to create transfer")
		}
		return
	}

	respondJSON(w, http.StatusOK, transferResponse(rec))
}

// GetTransfer handles GET /transfers/{id}
func (h *TransferHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transferID := chi.URLParam(r, "id")

	rec, err := h.service.GetTransfer(r.Context(), transferID)
	if err != nil {
		if errors.Is(err, transfer.ErrRecordNotFound) {
			respondError(w, http.StatusNotFound, "transfer not found")
			return
		}
		h.logger.WithContext(r.Context()).WithError(err).Error("Failed to get transfer")
		respondError(w, http.StatusInternalServerError, "failed to get transfer")
		return
	}

	respondJSON(w, http.StatusOK, transferResponse(rec))
}

// ProcessBatch handles POST /transfers/batch
func (h *TransferHandler) ProcessBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	intents := make([]transfer.BatchIntent, len(req.Transfers))
	for i, item := range req.Transfers {
		intents[i] = transfer.BatchIntent{
			IdempotencyKey: item.IdempotencyKey,
			FromAccountID:  item.FromAccountID,
			ToAccountID:    item.ToAccountID,
			Amount:         item.Amount,
		}
	}

	records, err := h.service.ProcessBatch(r.Context(), intents)
	if err != nil {
		if errors.Is(err, transfer.ErrInvalidRequest) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.WithContext(r.Context()).WithError(err).Error("Failed to process batch")
		respondError(w, http.StatusInternalServerError, "failed to process batch")
		return
	}

	results := make([]TransferResponse, len(records))
	for i, rec := range records {
		results[i] = transferResponse(rec)
	}

	respondJSON(w, http.StatusOK, BatchTransferResponse{Transfers: results})
}

func transferResponse(rec *transfer.Record) TransferResponse {
	return TransferResponse{
		TransferID:    rec.TransferID,
		FromAccountID: rec.FromAccountID,
		ToAccountID:   rec.ToAccountID,
		Amount:        rec.Amount,
		Status:        string(rec.Status),
		ErrorMessage:  rec.ErrorMessage,
	}
}
