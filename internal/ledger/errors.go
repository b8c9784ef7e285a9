package ledger

import "errors"

// Deterministic rejections. Callers must not retry these.
var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInvalidRequest    = errors.New("invalid transfer request")
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// Storage-level signals.
var (
	// ErrDuplicateTransfer reports that journal rows for the transfer id
	// already exist. A concurrent duplicate that raced past the idempotency
	// shortcut lands here via the unique journal index.
	ErrDuplicateTransfer = errors.New("transfer already journaled")

	// ErrTransient marks retryable storage failures: deadlock victim,
	// serialization failure, lost connection.
	ErrTransient = errors.New("transient storage failure")
)
