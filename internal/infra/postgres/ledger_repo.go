package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/ledger"
)

// LedgerRepository implements the ledger repository interface using PostgreSQL
type LedgerRepository struct {
	db *DB
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreateAccount creates a new account and fills the store-assigned id
func (r *LedgerRepository) CreateAccount(ctx context.Context, account *ledger.Account) error {
	query := `
		INSERT INTO accounts (balance, version)
		VALUES ($1::numeric, $2)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		account.Balance.String(),
		account.Version,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	return nil
}

// GetAccount retrieves an account by ID
func (r *LedgerRepository) GetAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	query := `
		SELECT id, balance::text, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`

	account, err := scanAccount(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}

// TransferExists reports whether the transfer id already appears in the journal
func (r *LedgerRepository) TransferExists(ctx context.Context, transferID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM journal_entries WHERE transfer_id = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, transferID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check transfer existence: %w", err)
	}
	return exists, nil
}

// ApplyTransfer moves amount between two accounts and journals the debit and
// credit entries in one REPEATABLE READ transaction. Both account rows are
// locked with SELECT FOR UPDATE in ascending id order so that concurrent
// transfers touching the same pair acquire locks in the same sequence.
func (r *LedgerRepository) ApplyTransfer(ctx context.Context, transferID string, fromID, toID int64, amount decimal.Decimal) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", ledger.ErrTransient)
	}
	defer tx.Rollback(ctx)

	accounts, err := lockAccountPair(ctx, tx, fromID, toID)
	if err != nil {
		return err
	}

	from, to := accounts[fromID], accounts[toID]
	if from.Balance.LessThan(amount) {
		return ledger.ErrInsufficientFunds
	}

	if err := updateBalance(ctx, tx, from, from.Balance.Sub(amount)); err != nil {
		return err
	}
	if err := updateBalance(ctx, tx, to, to.Balance.Add(amount)); err != nil {
		return err
	}

	entryQuery := `
		INSERT INTO journal_entries (transfer_id, account_id, amount, entry_type)
		VALUES ($1, $2, $3::numeric, $4)
	`
	for _, entry := range []struct {
		accountID int64
		entryType ledger.EntryType
	}{
		{fromID, ledger.EntryTypeDebit},
		{toID, ledger.EntryTypeCredit},
	} {
		_, err := tx.Exec(ctx, entryQuery, transferID, entry.accountID, amount.String(), string(entry.entryType))
		if err != nil {
			if isUniqueViolation(err) {
				// Another application of the same transfer id won the race.
				return ledger.ErrDuplicateTransfer
			}
			return classifyTxError("failed to insert journal entry", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyTxError("failed to commit transfer", err)
	}

	return nil
}

// lockAccountPair locks both account rows FOR UPDATE in ascending id order and
// returns them keyed by id. A missing row is ErrAccountNotFound.
func lockAccountPair(ctx context.Context, tx pgx.Tx, fromID, toID int64) (map[int64]*ledger.Account, error) {
	first, second := fromID, toID
	if second < first {
		first, second = second, first
	}

	query := `
		SELECT id, balance::text, version, created_at, updated_at
		FROM accounts
		WHERE id = $1
		FOR UPDATE
	`

	accounts := make(map[int64]*ledger.Account, 2)
	for _, id := range []int64{first, second} {
		account, err := scanAccount(tx.QueryRow(ctx, query, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ledger.ErrAccountNotFound
			}
			return nil, classifyTxError("failed to lock account", err)
		}
		accounts[id] = account
	}

	return accounts, nil
}

// updateBalance writes the new balance and bumps the version. The version
// predicate is an assertion behind the row lock; a miss means the snapshot is
// stale and the caller should retry.
func updateBalance(ctx context.Context, tx pgx.Tx, account *ledger.Account, balance decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1::numeric, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
	`

	tag, err := tx.Exec(ctx, query, balance.String(), account.ID, account.Version)
	if err != nil {
		return classifyTxError("failed to update balance", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d version moved: %w", account.ID, ledger.ErrTransient)
	}
	return nil
}

func scanAccount(row pgx.Row) (*ledger.Account, error) {
	var account ledger.Account
	var balanceStr string

	err := row.Scan(
		&account.ID,
		&balanceStr,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse balance: %w", err)
	}
	account.Balance = balance

	return &account, nil
}

// classifyTxError maps serialization and deadlock failures to ErrTransient so
// the engine retries them; anything else passes through wrapped.
func classifyTxError(msg string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return fmt.Errorf("%s: %w", msg, ledger.ErrTransient)
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
