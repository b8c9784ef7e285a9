package transfer

import "errors"

var (
	ErrInvalidRequest = errors.New("invalid transfer request")
	ErrRecordNotFound = errors.New("transfer record not found")

	// ErrIdempotencyConflict reports reuse of an idempotency key with
	// different movement parameters.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")

	// ErrKeyTaken is the repository-level unique violation on the
	// idempotency key. The coordinator resolves it by re-reading the
	// winning record; it never reaches callers.
	ErrKeyTaken = errors.New("idempotency key already reserved")

	ErrShuttingDown = errors.New("coordinator is shutting down")
)
