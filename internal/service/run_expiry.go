package service

import (
	"context"
	"time"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
)

const sweepBatchSize = 100

// RunExpiryMonitor expires suspended runs whose deadline passed, until ctx
// ends.
func (s *Service) RunExpiryMonitor(ctx context.Context) {
	interval := s.config.ExpirySweepInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepExpiredRuns(ctx)
		}
	}
}

// SweepExpiredRuns moves every requires_action run past its deadline to
// expired and returns how many it expired.
func (s *Service) SweepExpiredRuns(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	now := s.nowMillis()
	runs, err := s.store.ListExpiredRuns(sweepCtx, now, sweepBatchSize)
	if err != nil {
		s.logger.Warn("run expiry sweep failed", "error", err)
		return 0
	}

	expired := 0
	for i := range runs {
		if s.expireRun(sweepCtx, &runs[i], now) {
			expired++
		}
	}
	return expired
}

// expireRun re-checks the run under its lock, since a submission or cancel
// may have won since the listing.
func (s *Service) expireRun(ctx context.Context, listed *domain.Run, now int64) bool {
	unlock := s.runLocks.Lock(listed.ID)
	defer unlock()

	run, err := s.store.GetRun(ctx, listed.ID)
	if err != nil || run == nil {
		s.logger.Warn("failed to reload run for expiry", "run_id", listed.ID, "error", err)
		return false
	}
	if run.Status != domain.RunStatusRequiresAction || run.ExpiresAt == nil || *run.ExpiresAt > now {
		return false
	}
	if !s.finishRun(ctx, run, domain.RunStatusRequiresAction, domain.RunStatusExpired, nil) {
		return false
	}
	s.logger.Info("run expired", "run_id", run.ID, "expires_at", *run.ExpiresAt)
	return true
}

// Recover fails runs that a previous process left queued or in_progress.
// Their processing goroutines died with it. Call before serving requests.
func (s *Service) Recover(ctx context.Context) (int, error) {
	lastErr := &domain.LastError{Code: domain.ErrorCodeServerError, Message: "run interrupted by service restart"}
	recovered := 0
	for {
		runs, err := s.store.ListRunsByStatus(ctx, []domain.RunStatus{domain.RunStatusQueued, domain.RunStatusInProgress}, sweepBatchSize)
		if err != nil {
			return recovered, err
		}
		if len(runs) == 0 {
			return recovered, nil
		}
		progressed := false
		for i := range runs {
			ok, err := s.recoverRun(ctx, &runs[i], lastErr)
			if err != nil {
				return recovered, err
			}
			if ok {
				recovered++
				progressed = true
			}
		}
		if !progressed {
			return recovered, nil
		}
	}
}

func (s *Service) recoverRun(ctx context.Context, run *domain.Run, lastErr *domain.LastError) (bool, error) {
	unlock := s.runLocks.Lock(run.ID)
	defer unlock()

	from := run.Status
	if from == domain.RunStatusQueued {
		ok, err := s.store.TransitionRun(ctx, store.RunTransition{
			RunID:    run.ID,
			ThreadID: run.ThreadID,
			From:     domain.RunStatusQueued,
			To:       domain.RunStatusInProgress,
			At:       s.nowMillis(),
		})
		if err != nil || !ok {
			return false, err
		}
		from = domain.RunStatusInProgress
	}
	ok, err := s.store.TransitionRun(ctx, store.RunTransition{
		RunID:     run.ID,
		ThreadID:  run.ThreadID,
		From:      from,
		To:        domain.RunStatusFailed,
		At:        s.nowMillis(),
		LastError: lastErr,
	})
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Warn("recovered interrupted run", "run_id", run.ID, "thread_id", run.ThreadID, "status", run.Status)
	}
	return ok, nil
}
