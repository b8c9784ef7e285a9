package transfer

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a transfer record. COMPLETED and FAILED
// are terminal; a record never leaves a terminal state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Record is the durable intent-and-outcome row for one money movement.
// transfer_id is the server-synthesized external handle; idempotency_key is
// the client-supplied one, unique in storage.
type Record struct {
	ID             int64
	TransferID     string
	IdempotencyKey string
	FromAccountID  int64
	ToAccountID    int64
	Amount         decimal.Decimal
	Status         Status
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MatchesIntent reports whether the record was created for the same movement
// parameters. Used to detect idempotency-key reuse with a different payload.
func (r *Record) MatchesIntent(fromID, toID int64, amount decimal.Decimal) bool {
	return r.FromAccountID == fromID &&
		r.ToAccountID == toID &&
		r.Amount.Equal(amount)
}
