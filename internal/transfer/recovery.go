package transfer

import (
	"context"
	"time"
)

const sweepBatchSize = 100

// StartRecovery launches the background sweep that re-dispatches PENDING
// records whose asynchronous application was lost, typically across a
// restart. Re-dispatch goes through the ledger's idempotent apply path, so a
// record whose first attempt actually committed settles as COMPLETED.
func (s *Service) StartRecovery(ctx context.Context) {
	s.sweeper.Add(1)
	go func() {
		defer s.sweeper.Done()

		s.recoverStale(ctx)

		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.recoverStale(ctx)
			case <-s.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (s *Service) recoverStale(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	records, err := s.repo.ListStalePending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.log.WithError(err).Error("recovery sweep failed")
		return
	}
	if len(records) == 0 {
		return
	}

	s.log.Info("recovering stale pending transfers", "count", len(records))
	for _, rec := range records {
		rec := rec
		if err := s.pool.Submit(ctx, func() { s.apply(ctx, rec) }); err != nil {
			s.log.WithError(err).Warn("recovery dispatch failed", "transfer_id", rec.TransferID)
			return
		}
	}
}
