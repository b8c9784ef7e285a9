package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/transfer"
)

// TransferRepository implements the transfer record repository using PostgreSQL
type TransferRepository struct {
	db *DB
}

// NewTransferRepository creates a new PostgreSQL transfer record repository
func NewTransferRepository(db *DB) *TransferRepository {
	return &TransferRepository{db: db}
}

// Insert persists a new PENDING record. A duplicate idempotency key surfaces
// as ErrKeyTaken so the caller can resolve the existing record.
func (r *TransferRepository) Insert(ctx context.Context, rec *transfer.Record) error {
	query := `
		INSERT INTO transfer_records (transfer_id, idempotency_key, from_account_id, to_account_id, amount, status, error_message)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		rec.TransferID,
		rec.IdempotencyKey,
		rec.FromAccountID,
		rec.ToAccountID,
		rec.Amount.String(),
		string(rec.Status),
		nullIfEmpty(rec.ErrorMessage),
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return transfer.ErrKeyTaken
		}
		return fmt.Errorf("failed to insert transfer record: %w", err)
	}

	return nil
}

// GetByIdempotencyKey retrieves a record by its client-supplied key
func (r *TransferRepository) GetByIdempotencyKey(ctx context.Context, key string) (*transfer.Record, error) {
	return r.getBy(ctx, "idempotency_key", key)
}

// GetByTransferID retrieves a record by its server-synthesized transfer id
func (r *TransferRepository) GetByTransferID(ctx context.Context, transferID string) (*transfer.Record, error) {
	return r.getBy(ctx, "transfer_id", transferID)
}

func (r *TransferRepository) getBy(ctx context.Context, column, value string) (*transfer.Record, error) {
	query := fmt.Sprintf(`
		SELECT id, transfer_id, idempotency_key, from_account_id, to_account_id, amount::text, status, error_message, created_at, updated_at
		FROM transfer_records
		WHERE %s = $1
	`, column)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, transfer.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to get transfer record: %w", err)
	}

	return rec, nil
}

// MarkTerminal transitions a PENDING record to the given terminal status.
// Returns false when the record was already terminal; the first settlement
// wins and later outcomes are discarded.
func (r *TransferRepository) MarkTerminal(ctx context.Context, transferID string, status transfer.Status, errorMessage string) (bool, error) {
	if !status.Terminal() {
		return false, fmt.Errorf("status %s is not terminal", status)
	}

	query := `
		UPDATE transfer_records
		SET status = $1, error_message = $2, updated_at = now()
		WHERE transfer_id = $3 AND status = 'PENDING'
	`

	tag, err := r.db.Exec(ctx, query, string(status), nullIfEmpty(errorMessage), transferID)
	if err != nil {
		return false, fmt.Errorf("failed to mark transfer terminal: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListStalePending returns PENDING records created before the cutoff, oldest
// first. Feeds the recovery sweep.
func (r *TransferRepository) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]*transfer.Record, error) {
	query := `
		SELECT id, transfer_id, idempotency_key, from_account_id, to_account_id, amount::text, status, error_message, created_at, updated_at
		FROM transfer_records
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query stale records: %w", err)
	}
	defer rows.Close()

	var records []*transfer.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transfer record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale records: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (*transfer.Record, error) {
	var rec transfer.Record
	var amountStr string
	var errorMessage *string

	err := row.Scan(
		&rec.ID,
		&rec.TransferID,
		&rec.IdempotencyKey,
		&rec.FromAccountID,
		&rec.ToAccountID,
		&amountStr,
		&rec.Status,
		&errorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	rec.Amount = amount

	if errorMessage != nil {
		rec.ErrorMessage = *errorMessage
	}

	return &rec, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
