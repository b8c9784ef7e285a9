package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType is the side of a double-entry pair.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// JournalEntry is one half of a double-entry pair attributed to a transfer.
// Entries are append-only; the unique (transfer_id, account_id, entry_type)
// index is the storage-level idempotency assertion.
type JournalEntry struct {
	ID         int64
	TransferID string
	AccountID  int64
	Amount     decimal.Decimal
	Type       EntryType
	CreatedAt  time.Time
}
