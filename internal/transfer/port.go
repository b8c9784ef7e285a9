package transfer

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for transfer record persistence
type Repository interface {
	// Insert persists a new PENDING record and fills the store-assigned id
	// and timestamps. Returns ErrKeyTaken when the idempotency key is
	// already reserved.
	Insert(ctx context.Context, rec *Record) error

	// GetByIdempotencyKey returns ErrRecordNotFound for an unknown key.
	GetByIdempotencyKey(ctx context.Context, key string) (*Record, error)

	// GetByTransferID returns ErrRecordNotFound for an unknown transfer id.
	GetByTransferID(ctx context.Context, transferID string) (*Record, error)

	// MarkTerminal transitions a PENDING record to COMPLETED or FAILED.
	// Returns false when the record was already terminal; terminal records
	// are never overwritten.
	MarkTerminal(ctx context.Context, transferID string, status Status, errorMessage string) (bool, error)

	// ListStalePending returns PENDING records created before the cutoff,
	// oldest first.
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*Record, error)
}

// ApplyRequest is one movement dispatched to the ledger service.
type ApplyRequest struct {
	TransferID    string
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
}

// ApplyStatus classifies a dispatch outcome.
type ApplyStatus int

const (
	// ApplyApplied: the ledger accepted the transfer (first application or
	// replay, indistinguishable by design).
	ApplyApplied ApplyStatus = iota
	// ApplyRejected: deterministic 4xx rejection; Reason carries the cause.
	ApplyRejected
	// ApplyUnavailable: retries exhausted or circuit breaker open.
	ApplyUnavailable
)

// ApplyResult is the tri-state outcome the resilient ledger client reports.
type ApplyResult struct {
	Status ApplyStatus
	Reason string
}

// Dispatcher applies a transfer against the ledger service.
type Dispatcher interface {
	Apply(ctx context.Context, req ApplyRequest) ApplyResult
}

// RecordCache mirrors terminal transfer records for fast replay reads. The
// store stays authoritative; cache failures are invisible to callers.
type RecordCache interface {
	Get(ctx context.Context, idempotencyKey string) (*Record, bool)
	Set(ctx context.Context, rec *Record)
}
