//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fundflow/internal/ledger"
	"github.com/example/fundflow/testutil/testdb"
)

var testDB *testdb.TestDB

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testDB, err = testdb.NewTestDB(ctx)
	if err != nil {
		panic("failed to create test database: " + err.Error())
	}

	code := m.Run()

	testDB.Close(ctx)
	if code != 0 {
		panic("tests failed")
	}
}

func setupLedgerTest(t *testing.T) (*LedgerRepository, context.Context) {
	ctx := context.Background()
	require.NoError(t, testDB.Reset(ctx))

	repo := NewLedgerRepository(&DB{Pool: testDB.Pool})
	return repo, ctx
}

func createTestAccount(t *testing.T, ctx context.Context, repo *LedgerRepository, balance string) *ledger.Account {
	account := &ledger.Account{Balance: decimal.RequireFromString(balance)}
	require.NoError(t, repo.CreateAccount(ctx, account))
	require.NotZero(t, account.ID)
	return account
}

func TestLedgerRepository_CreateAndGetAccount(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	account := createTestAccount(t, ctx, repo, "100.50")

	retrieved, err := repo.GetAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, retrieved.Balance.Equal(decimal.RequireFromString("100.50")),
		"got balance %s", retrieved.Balance)
	assert.Equal(t, int64(0), retrieved.Version)
	assert.False(t, retrieved.CreatedAt.IsZero())
}

func TestLedgerRepository_GetAccount_NotFound(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	_, err := repo.GetAccount(ctx, 9999)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestLedgerRepository_ApplyTransfer_MovesMoneyAndJournals(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	from := createTestAccount(t, ctx, repo, "100")
	to := createTestAccount(t, ctx, repo, "10")

	err := repo.ApplyTransfer(ctx, "tx-1", from.ID, to.ID, decimal.RequireFromString("30"))
	require.NoError(t, err)

	fromAfter, err := repo.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	toAfter, err := repo.GetAccount(ctx, to.ID)
	require.NoError(t, err)

	assert.True(t, fromAfter.Balance.Equal(decimal.RequireFromString("70")))
	assert.True(t, toAfter.Balance.Equal(decimal.RequireFromString("40")))
	assert.Equal(t, int64(1), fromAfter.Version)
	assert.Equal(t, int64(1), toAfter.Version)

	var debits, credits int
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM journal_entries WHERE transfer_id = $1 AND entry_type = 'DEBIT'", "tx-1").Scan(&debits))
	require.NoError(t, testDB.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM journal_entries WHERE transfer_id = $1 AND entry_type = 'CREDIT'", "tx-1").Scan(&credits))
	assert.Equal(t, 1, debits)
	assert.Equal(t, 1, credits)

	exists, err := repo.TransferExists(ctx, "tx-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestLedgerRepository_ApplyTransfer_InsufficientFunds(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	from := createTestAccount(t, ctx, repo, "10")
	to := createTestAccount(t, ctx, repo, "0")

	err := repo.ApplyTransfer(ctx, "tx-poor", from.ID, to.ID, decimal.RequireFromString("10.01"))
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	// Nothing moved, nothing journaled.
	fromAfter, err := repo.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, fromAfter.Balance.Equal(decimal.RequireFromString("10")))

	exists, err := repo.TransferExists(ctx, "tx-poor")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLedgerRepository_ApplyTransfer_UnknownAccount(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	from := createTestAccount(t, ctx, repo, "100")

	err := repo.ApplyTransfer(ctx, "tx-missing", from.ID, 9999, decimal.RequireFromString("5"))
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestLedgerRepository_ApplyTransfer_DuplicateTransferID(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	from := createTestAccount(t, ctx, repo, "100")
	to := createTestAccount(t, ctx, repo, "0")

	amount := decimal.RequireFromString("25")
	require.NoError(t, repo.ApplyTransfer(ctx, "tx-dup", from.ID, to.ID, amount))

	err := repo.ApplyTransfer(ctx, "tx-dup", from.ID, to.ID, amount)
	assert.ErrorIs(t, err, ledger.ErrDuplicateTransfer)

	// The second application must not move money again.
	fromAfter, err := repo.GetAccount(ctx, from.ID)
	require.NoError(t, err)
	assert.True(t, fromAfter.Balance.Equal(decimal.RequireFromString("75")))
}

// Concurrent transfers in both directions between the same pair must neither
// deadlock nor lose money. The ordered locking makes lock acquisition
// deterministic regardless of transfer direction.
func TestLedgerRepository_ApplyTransfer_ConcurrentConservation(t *testing.T) {
	repo, ctx := setupLedgerTest(t)

	a := createTestAccount(t, ctx, repo, "1000")
	b := createTestAccount(t, ctx, repo, "1000")

	const rounds = 20
	amount := decimal.RequireFromString("1")

	var wg sync.WaitGroup
	errs := make(chan error, rounds*2)
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			errs <- repo.ApplyTransfer(ctx, transferID("ab", i), a.ID, b.ID, amount)
		}(i)
		go func(i int) {
			defer wg.Done()
			errs <- repo.ApplyTransfer(ctx, transferID("ba", i), b.ID, a.ID, amount)
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			// Transient conflicts are acceptable; the engine retries them.
			require.ErrorIs(t, err, ledger.ErrTransient)
		}
	}

	aAfter, err := repo.GetAccount(ctx, a.ID)
	require.NoError(t, err)
	bAfter, err := repo.GetAccount(ctx, b.ID)
	require.NoError(t, err)

	total := aAfter.Balance.Add(bAfter.Balance)
	assert.True(t, total.Equal(decimal.RequireFromString("2000")),
		"money must be conserved, got total %s", total)
}

func transferID(prefix string, i int) string {
	return fmt.Sprintf("%s-%d", prefix, i)
}
