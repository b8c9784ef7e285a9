package transfer

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/fundflow/pkg/logger"
)

// memRepo is an in-memory Repository safe for the coordinator's concurrent
// settle path.
type memRepo struct {
	mu     sync.Mutex
	byKey  map[string]*Record
	byTxID map[string]*Record
	nextID int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		byKey:  make(map[string]*Record),
		byTxID: make(map[string]*Record),
	}
}

func (r *memRepo) Insert(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byKey[rec.IdempotencyKey]; ok {
		return ErrKeyTaken
	}
	r.nextID++
	rec.ID = r.nextID
	rec.CreatedAt = time.Now()
	rec.UpdatedAt = rec.CreatedAt
	clone := *rec
	r.byKey[rec.IdempotencyKey] = &clone
	r.byTxID[rec.TransferID] = &clone
	return nil
}

func (r *memRepo) GetByIdempotencyKey(_ context.Context, key string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byKey[key]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *memRepo) GetByTransferID(_ context.Context, transferID string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTxID[transferID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := *rec
	return &clone, nil
}

func (r *memRepo) MarkTerminal(_ context.Context, transferID string, status Status, errorMessage string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.byTxID[transferID]
	if !ok {
		return false, ErrRecordNotFound
	}
	if rec.Status != StatusPending {
		return false, nil
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.UpdatedAt = time.Now()
	return true, nil
}

func (r *memRepo) ListStalePending(_ context.Context, cutoff time.Time, limit int) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Record
	for _, rec := range r.byTxID {
		if rec.Status == StatusPending && rec.CreatedAt.Before(cutoff) && len(out) < limit {
			clone := *rec
			out = append(out, &clone)
		}
	}
	return out, nil
}

// stubDispatcher returns a fixed result and records the requests it saw.
type stubDispatcher struct {
	mu     sync.Mutex
	result ApplyResult
	seen   []ApplyRequest
}

func (d *stubDispatcher) Apply(_ context.Context, req ApplyRequest) ApplyResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = append(d.seen, req)
	return d.result
}

func (d *stubDispatcher) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func newTestService(t *testing.T, repo Repository, d Dispatcher) *Service {
	t.Helper()
	s := NewService(repo, d, nil, logger.New("test", io.Discard), Config{Workers: 2, QueueSize: 16})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.Close(ctx)
	})
	return s
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func waitForStatus(t *testing.T, repo Repository, transferID string, want Status) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		r, err := repo.GetByTransferID(context.Background(), transferID)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func TestCreateTransfer_SettlesCompleted(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	rec, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, rec.Status)
	assert.NotEmpty(t, rec.TransferID)

	settled := waitForStatus(t, repo, rec.TransferID, StatusCompleted)
	assert.Empty(t, settled.ErrorMessage)
}

func TestCreateTransfer_RejectionSettlesFailed(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyRejected, Reason: "insufficient funds"}}
	s := newTestService(t, repo, disp)

	rec, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)

	settled := waitForStatus(t, repo, rec.TransferID, StatusFailed)
	assert.Equal(t, "insufficient funds", settled.ErrorMessage)
}

func TestCreateTransfer_UnavailableSettlesFailed(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyUnavailable, Reason: "connection refused"}}
	s := newTestService(t, repo, disp)

	rec, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)

	settled := waitForStatus(t, repo, rec.TransferID, StatusFailed)
	assert.Equal(t, "ledger unavailable", settled.ErrorMessage)
}

func TestCreateTransfer_ReplayReturnsStoredRecord(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	first, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)
	waitForStatus(t, repo, first.TransferID, StatusCompleted)

	replay, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)
	assert.Equal(t, first.TransferID, replay.TransferID)
	assert.Equal(t, StatusCompleted, replay.Status)
	assert.Equal(t, 1, disp.calls(), "replay must not dispatch again")
}

// A replay while the original is still PENDING returns the PENDING record
// without a second dispatch.
func TestCreateTransfer_ReplayWhilePending(t *testing.T) {
	repo := newMemRepo()
	block := make(chan struct{})
	disp := &blockingDispatcher{release: block}
	s := newTestService(t, repo, disp)

	first, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)

	replay, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)
	assert.Equal(t, first.TransferID, replay.TransferID)
	assert.Equal(t, StatusPending, replay.Status)

	close(block)
	waitForStatus(t, repo, first.TransferID, StatusCompleted)
}

type blockingDispatcher struct {
	release chan struct{}
}

func (d *blockingDispatcher) Apply(_ context.Context, _ ApplyRequest) ApplyResult {
	<-d.release
	return ApplyResult{Status: ApplyApplied}
}

func TestCreateTransfer_KeyReuseWithDifferentPayload(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	_, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)

	_, err = s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("20.00"))
	assert.ErrorIs(t, err, ErrIdempotencyConflict)

	_, err = s.CreateTransfer(context.Background(), "key-1", 2, 1, amount("10.00"))
	assert.ErrorIs(t, err, ErrIdempotencyConflict)
}

func TestCreateTransfer_Validation(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	cases := []struct {
		name   string
		key    string
		from   int64
		to     int64
		amount decimal.Decimal
	}{
		{"empty key", "", 1, 2, amount("10")},
		{"zero amount", "k", 1, 2, amount("0")},
		{"negative amount", "k", 1, 2, amount("-5")},
		{"self transfer", "k", 1, 1, amount("10")},
		{"non-positive account", "k", 0, 2, amount("10")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.CreateTransfer(context.Background(), tc.key, tc.from, tc.to, tc.amount)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, disp.calls())
}

func TestProcessBatch_PreservesOrderAndIsolatesFailures(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	intents := []BatchIntent{
		{IdempotencyKey: "k1", FromAccountID: 1, ToAccountID: 2, Amount: amount("10")},
		{IdempotencyKey: "k2", FromAccountID: 1, ToAccountID: 1, Amount: amount("10")}, // invalid: self transfer
		{IdempotencyKey: "k3", FromAccountID: 3, ToAccountID: 4, Amount: amount("7")},
	}

	results, err := s.ProcessBatch(context.Background(), intents)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "k1", results[0].IdempotencyKey)
	assert.Equal(t, "k2", results[1].IdempotencyKey)
	assert.Equal(t, "k3", results[2].IdempotencyKey)

	assert.Equal(t, StatusPending, results[0].Status)
	assert.Equal(t, StatusFailed, results[1].Status)
	assert.NotEmpty(t, results[1].ErrorMessage)
	assert.Empty(t, results[1].TransferID, "failed slot is not persisted")
	assert.Equal(t, StatusPending, results[2].Status)

	waitForStatus(t, repo, results[0].TransferID, StatusCompleted)
	waitForStatus(t, repo, results[2].TransferID, StatusCompleted)
}

func TestProcessBatch_SizeLimits(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := NewService(repo, disp, nil, logger.New("test", io.Discard), Config{Workers: 2, QueueSize: 16, BatchLimit: 2})
	defer s.Close(context.Background())

	_, err := s.ProcessBatch(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	over := []BatchIntent{
		{IdempotencyKey: "a", FromAccountID: 1, ToAccountID: 2, Amount: amount("1")},
		{IdempotencyKey: "b", FromAccountID: 1, ToAccountID: 2, Amount: amount("1")},
		{IdempotencyKey: "c", FromAccountID: 1, ToAccountID: 2, Amount: amount("1")},
	}
	_, err = s.ProcessBatch(context.Background(), over)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestRecovery_RedispatchesStalePending(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}

	// Seed a PENDING record old enough to look abandoned.
	stale := &Record{
		TransferID:     "t-stale",
		IdempotencyKey: "key-stale",
		FromAccountID:  1,
		ToAccountID:    2,
		Amount:         amount("5"),
		Status:         StatusPending,
	}
	require.NoError(t, repo.Insert(context.Background(), stale))
	repo.mu.Lock()
	repo.byTxID["t-stale"].CreatedAt = time.Now().Add(-time.Hour)
	repo.mu.Unlock()

	s := NewService(repo, disp, nil, logger.New("test", io.Discard), Config{
		Workers:       2,
		QueueSize:     16,
		StaleAfter:    time.Minute,
		SweepInterval: 10 * time.Millisecond,
	})
	defer s.Close(context.Background())

	s.StartRecovery(context.Background())

	waitForStatus(t, repo, "t-stale", StatusCompleted)
	assert.GreaterOrEqual(t, disp.calls(), 1)
}

// raceRepo simulates losing the insert race: the probe sees nothing, the
// insert hits a reserved key, and the re-probe finds the winner's record.
type raceRepo struct {
	*memRepo
	winner *Record
	probes int
}

func (r *raceRepo) GetByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	r.probes++
	if r.probes == 1 {
		return nil, ErrRecordNotFound
	}
	clone := *r.winner
	return &clone, nil
}

func (r *raceRepo) Insert(_ context.Context, _ *Record) error {
	return ErrKeyTaken
}

func TestCreateTransfer_LostInsertRaceReturnsWinner(t *testing.T) {
	winner := &Record{
		TransferID:     "t-winner",
		IdempotencyKey: "key-1",
		FromAccountID:  1,
		ToAccountID:    2,
		Amount:         amount("10.00"),
		Status:         StatusPending,
	}
	repo := &raceRepo{memRepo: newMemRepo(), winner: winner}
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	rec, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10.00"))
	require.NoError(t, err)
	assert.Equal(t, "t-winner", rec.TransferID)
	assert.Equal(t, 0, disp.calls(), "the loser must not dispatch")
}

func TestCreateTransfer_TerminalOutcomeNotOverwritten(t *testing.T) {
	repo := newMemRepo()
	disp := &stubDispatcher{result: ApplyResult{Status: ApplyApplied}}
	s := newTestService(t, repo, disp)

	rec, err := s.CreateTransfer(context.Background(), "key-1", 1, 2, amount("10"))
	require.NoError(t, err)
	waitForStatus(t, repo, rec.TransferID, StatusCompleted)

	// A late duplicate settlement attempt must be discarded.
	updated, err := repo.MarkTerminal(context.Background(), rec.TransferID, StatusFailed, "late failure")
	require.NoError(t, err)
	assert.False(t, updated)

	stored, err := repo.GetByTransferID(context.Background(), rec.TransferID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
}
