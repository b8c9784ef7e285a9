package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is a balance-holding row owned by the ledger engine. The id is
// store-assigned and immutable; the balance is mutated only inside
// ApplyTransfer under an exclusive row lock. version advances on every
// mutation and doubles as an optimistic assertion behind the pessimistic lock.
type Account struct {
	ID        int64
	Balance   decimal.Decimal
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}
