package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/example/fundflow/internal/metrics"
	"github.com/example/fundflow/pkg/logger"
)

const (
	defaultWorkers    = 10
	defaultQueueSize  = 256
	defaultBatchLimit = 20
	defaultStaleAfter = 5 * time.Minute
	defaultSweep      = time.Minute

	// unavailableMessage is the documented breaker fallback recorded when
	// the ledger cannot be reached.
	unavailableMessage = "ledger unavailable"
)

// Config tunes the coordinator.
type Config struct {
	Workers       int
	QueueSize     int
	BatchLimit    int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// BatchIntent is one slot of a batch request.
type BatchIntent struct {
	IdempotencyKey string
	FromAccountID  int64
	ToAccountID    int64
	Amount         decimal.Decimal
}

// Service is the transfer coordinator. It accepts intent under an idempotency
// key, persists a PENDING record, dispatches asynchronously to the ledger
// through the resilient client, and reconciles the outcome into the record.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	cache      RecordCache // may be nil
	pool       *Pool
	log        *logger.Logger

	batchLimit    int
	staleAfter    time.Duration
	sweepInterval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	sweeper  sync.WaitGroup
}

// NewService creates a new coordinator and starts its worker pool.
func NewService(repo Repository, dispatcher Dispatcher, cache RecordCache, log *logger.Logger, cfg Config) *Service {
	if cfg.Workers < 1 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.BatchLimit < 1 {
		cfg.BatchLimit = defaultBatchLimit
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweep
	}

	return &Service{
		repo:          repo,
		dispatcher:    dispatcher,
		cache:         cache,
		pool:          NewPool(cfg.Workers, cfg.QueueSize),
		log:           log,
		batchLimit:    cfg.BatchLimit,
		staleAfter:    cfg.StaleAfter,
		sweepInterval: cfg.SweepInterval,
		stop:          make(chan struct{}),
	}
}

// CreateTransfer accepts a movement intent. The first sighting of an
// idempotency key persists a PENDING record and dispatches it; replays return
// the stored record verbatim, whatever its status. Reuse of a key with
// different parameters is rejected with ErrIdempotencyConflict.
func (s *Service) CreateTransfer(ctx context.Context, idempotencyKey string, fromID, toID int64, amount decimal.Decimal) (*Record, error) {
	if err := validateIntent(idempotencyKey, fromID, toID, amount); err != nil {
		return nil, err
	}

	if rec, err := s.probe(ctx, idempotencyKey, fromID, toID, amount); rec != nil || err != nil {
		return rec, err
	}

	rec := &Record{
		TransferID:     uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		FromAccountID:  fromID,
		ToAccountID:    toID,
		Amount:         amount,
		Status:         StatusPending,
	}

	if err := s.repo.Insert(ctx, rec); err != nil {
		if errors.Is(err, ErrKeyTaken) {
			// Lost the insert race; the winning record is authoritative.
			return s.probeExisting(ctx, idempotencyKey, fromID, toID, amount)
		}
		return nil, fmt.Errorf("persist intent: %w", err)
	}

	s.log.WithContext(ctx).Info("transfer accepted",
		"transfer_id", rec.TransferID,
		"from_account_id", fromID,
		"to_account_id", toID,
		"amount", amount.String(),
	)

	s.dispatch(ctx, rec)
	return rec, nil
}

// GetTransfer retrieves a transfer record by transfer id
func (s *Service) GetTransfer(ctx context.Context, transferID string) (*Record, error) {
	return s.repo.GetByTransferID(ctx, transferID)
}

// ProcessBatch fans at most batchLimit intents through CreateTransfer on the
// shared worker pool. The result preserves submission order; a slot that
// fails validation carries a non-persisted FAILED record and never disturbs
// the other slots.
func (s *Service) ProcessBatch(ctx context.Context, intents []BatchIntent) ([]*Record, error) {
	if len(intents) == 0 {
		return nil, fmt.Errorf("%w: batch is empty", ErrInvalidRequest)
	}
	if len(intents) > s.batchLimit {
		return nil, fmt.Errorf("%w: batch size %d exceeds limit %d", ErrInvalidRequest, len(intents), s.batchLimit)
	}

	results := make([]*Record, len(intents))
	var wg sync.WaitGroup

	for i, intent := range intents {
		i, intent := i, intent
		wg.Add(1)
		err := s.pool.Submit(ctx, func() {
			defer wg.Done()
			rec, err := s.CreateTransfer(ctx, intent.IdempotencyKey, intent.FromAccountID, intent.ToAccountID, intent.Amount)
			if err != nil {
				results[i] = failedSlot(intent, err)
				return
			}
			results[i] = rec
		})
		if err != nil {
			wg.Done()
			results[i] = failedSlot(intent, err)
		}
	}

	wg.Wait()
	return results, nil
}

// Close stops the recovery sweeper and drains the worker pool.
func (s *Service) Close(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	s.sweeper.Wait()
	s.pool.Shutdown(ctx)
}

// probe returns the stored record for the key, nil when the key is unseen.
func (s *Service) probe(ctx context.Context, key string, fromID, toID int64, amount decimal.Decimal) (*Record, error) {
	if s.cache != nil {
		if rec, ok := s.cache.Get(ctx, key); ok {
			if !rec.MatchesIntent(fromID, toID, amount) {
				return nil, conflictErr(key)
			}
			return rec, nil
		}
	}

	rec, err := s.repo.GetByIdempotencyKey(ctx, key)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency probe: %w", err)
	}
	if !rec.MatchesIntent(fromID, toID, amount) {
		return nil, conflictErr(key)
	}
	return rec, nil
}

// probeExisting re-reads after a lost insert race; the record must exist.
func (s *Service) probeExisting(ctx context.Context, key string, fromID, toID int64, amount decimal.Decimal) (*Record, error) {
	rec, err := s.repo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("re-probe after key race: %w", err)
	}
	if !rec.MatchesIntent(fromID, toID, amount) {
		return nil, conflictErr(key)
	}
	return rec, nil
}

// dispatch hands the record to the worker pool. The task context drops the
// request's cancellation but keeps its values: a client that gives up after
// the record is persisted does not retract it, and the correlation id still
// follows the application step.
func (s *Service) dispatch(ctx context.Context, rec *Record) {
	taskCtx := context.WithoutCancel(ctx)
	if err := s.pool.Submit(ctx, func() { s.apply(taskCtx, rec) }); err != nil {
		// The PENDING record stays behind; the recovery sweep re-dispatches it.
		s.log.WithContext(ctx).WithError(err).Warn("dispatch deferred to recovery sweep",
			"transfer_id", rec.TransferID,
		)
	}
}

// apply performs one application attempt and settles the record.
func (s *Service) apply(ctx context.Context, rec *Record) {
	log := s.log.WithContext(ctx).WithField("transfer_id", rec.TransferID)

	res := s.dispatcher.Apply(ctx, ApplyRequest{
		TransferID:    rec.TransferID,
		FromAccountID: rec.FromAccountID,
		ToAccountID:   rec.ToAccountID,
		Amount:        rec.Amount,
	})

	status := StatusCompleted
	message := ""
	switch res.Status {
	case ApplyApplied:
	case ApplyRejected:
		status = StatusFailed
		message = res.Reason
	case ApplyUnavailable:
		status = StatusFailed
		message = unavailableMessage
	}

	updated, err := s.repo.MarkTerminal(ctx, rec.TransferID, status, message)
	if err != nil {
		log.WithError(err).Error("failed to settle transfer record", "status", status)
		return
	}
	if !updated {
		log.Warn("transfer record already terminal, outcome discarded", "status", status)
		return
	}

	rec.Status = status
	rec.ErrorMessage = message
	if s.cache != nil {
		s.cache.Set(ctx, rec)
	}

	metrics.TransfersSettled.WithLabelValues(string(status)).Inc()
	if status == StatusCompleted {
		log.Info("transfer completed")
	} else {
		log.Warn("transfer failed", "reason", message)
	}
}

func validateIntent(key string, fromID, toID int64, amount decimal.Decimal) error {
	switch {
	case key == "":
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidRequest)
	case amount.Sign() <= 0:
		return fmt.Errorf("%w: amount must be positive, got %s", ErrInvalidRequest, amount)
	case fromID == toID:
		return fmt.Errorf("%w: cannot transfer from an account to itself", ErrInvalidRequest)
	case fromID <= 0 || toID <= 0:
		return fmt.Errorf("%w: account ids must be positive", ErrInvalidRequest)
	}
	return nil
}

func conflictErr(key string) error {
	return fmt.Errorf("%w: key %q", ErrIdempotencyConflict, key)
}

// failedSlot synthesizes a non-persisted FAILED record for a batch slot that
// never made it past validation.
func failedSlot(intent BatchIntent, err error) *Record {
	return &Record{
		IdempotencyKey: intent.IdempotencyKey,
		FromAccountID:  intent.FromAccountID,
		ToAccountID:    intent.ToAccountID,
		Amount:         intent.Amount,
		Status:         StatusFailed,
		ErrorMessage:   err.Error(),
	}
}
