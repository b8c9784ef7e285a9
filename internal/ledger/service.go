package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/pkg/logger"
)

const (
	defaultTxMaxAttempts  = 3
	transientBackoffStart = 25 * time.Millisecond
	transientBackoffCap   = 250 * time.Millisecond
)

// ApplyOutcome reports how an apply request was resolved. AlreadyApplied is
// true when the journal already held the transfer; the balances were not
// touched again.
type ApplyOutcome struct {
	AlreadyApplied bool
}

// Service is the ledger engine. It validates transfer requests, shortcuts
// replays, and drives the ordered-lock transaction in the repository with a
// bounded retry for transient storage failures.
type Service struct {
	repo          Repository
	log           *logger.Logger
	txMaxAttempts int
}

// NewService creates a new ledger engine
func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{
		repo:          repo,
		log:           log,
		txMaxAttempts: defaultTxMaxAttempts,
	}
}

// WithTxMaxAttempts overrides the transient-retry budget.
func (s *Service) WithTxMaxAttempts(n int) *Service {
	if n >= 1 {
		s.txMaxAttempts = n
	}
	return s
}

// CreateAccount persists a new account with the given starting balance.
// The balance must be strictly positive.
func (s *Service) CreateAccount(ctx context.Context, initialBalance decimal.Decimal) (*Account, error) {
	if initialBalance.Sign() <= 0 {
		return nil, fmt.Errorf("%w: initial balance %s", ErrInvalidAmount, initialBalance)
	}

	account := &Account{
		Balance: initialBalance,
		Version: 0,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.log.WithContext(ctx).Info("account created",
		"account_id", account.ID,
		"balance", account.Balance.String(),
	)
	return account, nil
}

// GetAccount retrieves an account by id
func (s *Service) GetAccount(ctx context.Context, id int64) (*Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ApplyTransfer moves amount from one account to another exactly once per
// transfer id. Replays return AlreadyApplied without locking the accounts.
func (s *Service) ApplyTransfer(ctx context.Context, transferID string, fromID, toID int64, amount decimal.Decimal) (ApplyOutcome, error) {
	log := s.log.WithContext(ctx).WithField("transfer_id", transferID)

	switch {
	case transferID == "":
		return ApplyOutcome{}, fmt.Errorf("%w: transfer id is required", ErrInvalidRequest)
	case amount.Sign() <= 0:
		return ApplyOutcome{}, fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequest, amount)
	case fromID == toID:
		return ApplyOutcome{}, fmt.Errorf("%w: cannot transfer from an account to itself", ErrInvalidRequest)
	case fromID <= 0 || toID <= 0:
		return ApplyOutcome{}, fmt.Errorf("%w: account ids must be positive", ErrInvalidRequest)
	}

	// Idempotency shortcut: a journaled transfer id means the movement
	// already committed. No account rows are read or locked.
	exists, err := s.repo.TransferExists(ctx, transferID)
	if err != nil {
		return ApplyOutcome{}, fmt.Errorf("idempotency check: %w", err)
	}
	if exists {
		log.Info("transfer already applied, skipping")
		return ApplyOutcome{AlreadyApplied: true}, nil
	}

	op := func() error {
		err := s.repo.ApplyTransfer(ctx, transferID, fromID, toID, amount)
		if err == nil || errors.Is(err, ErrTransient) {
			return err
		}
		// Deterministic rejections and duplicate races are not retried.
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = transientBackoffStart
	bo.MaxInterval = transientBackoffCap

	err = backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.txMaxAttempts-1)), ctx))
	switch {
	case err == nil:
		log.Info("transfer applied",
			"from_account_id", fromID,
			"to_account_id", toID,
			"amount", amount.String(),
		)
		return ApplyOutcome{}, nil
	case errors.Is(err, ErrDuplicateTransfer):
		// Lost a race against a concurrent duplicate; the winner journaled
		// the pair, so this request is a replay.
		log.Info("duplicate transfer raced, treating as applied")
		return ApplyOutcome{AlreadyApplied: true}, nil
	case errors.Is(err, ErrTransient):
		log.WithError(err).Error("transfer abandoned after transient retries", "attempts", s.txMaxAttempts)
		return ApplyOutcome{}, err
	default:
		return ApplyOutcome{}, err
	}
}
