package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repository defines the interface for ledger persistence operations
type Repository interface {
	// CreateAccount persists a new account and fills the store-assigned
	// id and timestamps.
	CreateAccount(ctx context.Context, account *Account) error

	// GetAccount returns ErrAccountNotFound for an unknown id.
	GetAccount(ctx context.Context, id int64) (*Account, error)

	// TransferExists reports whether any journal entry carries the transfer
	// id. Read outside the mutating transaction.
	TransferExists(ctx context.Context, transferID string) (bool, error)

	// ApplyTransfer moves amount between the two accounts and journals the
	// debit/credit pair in one transaction, locking the account rows in
	// ascending id order. Returns ErrAccountNotFound, ErrInsufficientFunds,
	// ErrDuplicateTransfer or ErrTransient as appropriate.
	ApplyTransfer(ctx context.Context, transferID string, fromID, toID int64, amount decimal.Decimal) error
}
