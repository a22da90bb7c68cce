package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

// CreateRun starts a run of an assistant on a thread. The returned snapshot
// is in_progress; processing continues in the background.
func (s *Service) CreateRun(ctx context.Context, threadID string, req domain.CreateRunRequest) (*domain.Run, error) {
	run, _, err := s.createRun(ctx, threadID, req, false)
	return run, err
}

// CreateRunStream is CreateRun with a stream session attached before the
// run's first event.
func (s *Service) CreateRunStream(ctx context.Context, threadID string, req domain.CreateRunRequest) (*domain.Run, *stream.Subscription, error) {
	return s.createRun(ctx, threadID, req, true)
}

// CreateThreadAndRun creates a thread from req.Thread and starts a run on it.
func (s *Service) CreateThreadAndRun(ctx context.Context, req domain.CreateThreadAndRunRequest) (*domain.Run, error) {
	run, _, err := s.createThreadAndRun(ctx, req, false)
	return run, err
}

// CreateThreadAndRunStream is CreateThreadAndRun with a stream session.
func (s *Service) CreateThreadAndRunStream(ctx context.Context, req domain.CreateThreadAndRunRequest) (*domain.Run, *stream.Subscription, error) {
	return s.createThreadAndRun(ctx, req, true)
}

func (s *Service) createThreadAndRun(ctx context.Context, req domain.CreateThreadAndRunRequest, subscribe bool) (*domain.Run, *stream.Subscription, error) {
	if req.AssistantID == "" {
		return nil, nil, domain.Validationf("assistant_id is required")
	}
	if _, err := s.GetAssistant(ctx, req.AssistantID); err != nil {
		return nil, nil, err
	}
	thread, err := s.CreateThread(ctx, req.Thread)
	if err != nil {
		return nil, nil, err
	}
	run, sub, err := s.createRun(ctx, thread.ID, domain.CreateRunRequest{
		AssistantID:  req.AssistantID,
		Model:        req.Model,
		Instructions: req.Instructions,
		Metadata:     req.Metadata,
	}, subscribe)
	if err != nil {
		// Nobody was told about the thread, so it goes with the failed run.
		if _, delErr := s.store.DeleteThread(context.WithoutCancel(ctx), thread.ID); delErr != nil {
			s.logger.Error("failed to delete thread of unstarted run", "thread_id", thread.ID, "error", delErr)
		}
		return nil, nil, err
	}
	return run, sub, nil
}

func (s *Service) createRun(ctx context.Context, threadID string, req domain.CreateRunRequest, subscribe bool) (*domain.Run, *stream.Subscription, error) {
	if threadID == "" {
		return nil, nil, domain.Validationf("thread_id is required")
	}
	if req.AssistantID == "" {
		return nil, nil, domain.Validationf("assistant_id is required")
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, nil, err
	}
	assistant, err := s.GetAssistant(ctx, req.AssistantID)
	if err != nil {
		return nil, nil, err
	}

	now := s.nowMillis()
	additional, err := s.buildUserMessages(threadID, req.AdditionalMessages, now)
	if err != nil {
		return nil, nil, err
	}

	run := &domain.Run{
		ID:           newID("run_"),
		Object:       "thread.run",
		ThreadID:     threadID,
		AssistantID:  assistant.ID,
		Status:       domain.RunStatusQueued,
		Model:        firstNonEmpty(req.Model, assistant.Model),
		Instructions: firstNonEmpty(req.Instructions, assistant.Instructions),
		CreatedAt:    now,
		Metadata:     req.Metadata,
	}

	unlock := s.runLocks.Lock(run.ID)
	handedOff := false
	defer func() {
		if !handedOff {
			unlock()
		}
	}()

	claimed, err := s.store.CreateRun(ctx, run, additional)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create run: %w", err)
	}
	if !claimed {
		return nil, nil, domain.Conflictf("thread %s already has an active run", threadID)
	}
	queued := run.Clone()

	ok, err := s.store.TransitionRun(ctx, store.RunTransition{
		RunID:    run.ID,
		ThreadID: threadID,
		From:     domain.RunStatusQueued,
		To:       domain.RunStatusInProgress,
		At:       s.nowMillis(),
	})
	if err != nil || !ok {
		// The run exists but never started; roll it back so the thread is released.
		s.logger.Error("failed to start run", "run_id", run.ID, "thread_id", threadID, "error", err)
		return nil, nil, fmt.Errorf("failed to start run %s: %w", run.ID, s.abandonQueuedRun(ctx, queued, additional, err))
	}
	started, err := s.loadRun(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}

	var sub *stream.Subscription
	if subscribe {
		sub = s.streamer.Subscribe(run.ID)
	}

	s.logger.Info("run created", "run_id", run.ID, "thread_id", threadID, "assistant_id", assistant.ID)
	s.startProcessing(started, unlock,
		domain.StreamEvent{Type: domain.EventTypeRunQueued, RunID: run.ID, Run: queued},
		domain.StreamEvent{Type: domain.EventTypeRunInProgress, RunID: run.ID, Run: started.Clone()},
	)
	handedOff = true
	return started, sub, nil
}

// abandonQueuedRun rolls back a run that could not be started, together
// with the messages created for it.
func (s *Service) abandonQueuedRun(ctx context.Context, run *domain.Run, messages []*domain.Message, cause error) error {
	if cause == nil {
		cause = fmt.Errorf("run left %s unexpectedly", domain.RunStatusQueued)
	}
	ids := make([]string, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	discarded, err := s.store.DiscardQueuedRun(context.WithoutCancel(ctx), run, ids)
	if err != nil {
		return errors.Join(cause, fmt.Errorf("failed to discard run: %w", err))
	}
	if !discarded {
		s.logger.Warn("unstarted run was no longer queued", "run_id", run.ID, "thread_id", run.ThreadID)
	}
	return cause
}

// RetrieveRun returns the current snapshot of a run. It reads the store
// directly and never waits on the run's mutations.
func (s *Service) RetrieveRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	if threadID == "" || runID == "" {
		return nil, domain.Validationf("thread_id and run_id are required")
	}
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil || run.ThreadID != threadID {
		return nil, domain.NotFoundf("run %s", runID)
	}
	return run, nil
}

// ListRuns pages through a thread's runs.
func (s *Service) ListRuns(ctx context.Context, threadID string, opts domain.ListOptions) (*domain.ListResult[domain.Run], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.GetThread(ctx, threadID); err != nil {
		return nil, err
	}
	runs, hasMore, err := s.store.ListRuns(ctx, threadID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return newListResult(runs, hasMore, func(r domain.Run) string { return r.ID }), nil
}

// ModifyRun replaces a run's metadata. It is allowed in every status.
func (s *Service) ModifyRun(ctx context.Context, threadID, runID string, req domain.ModifyRunRequest) (*domain.Run, error) {
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, err
	}
	if _, err := s.store.UpdateRunMetadata(ctx, runID, req.Metadata); err != nil {
		return nil, fmt.Errorf("failed to update run: %w", err)
	}
	return s.RetrieveRun(ctx, threadID, runID)
}

// CancelRun moves a non-terminal run to cancelled and interrupts its
// processing. A result that arrives afterwards is discarded.
func (s *Service) CancelRun(ctx context.Context, threadID, runID string) (*domain.Run, error) {
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, err
	}

	unlock := s.runLocks.Lock(runID)
	defer unlock()

	run, err := s.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return nil, domain.Conflictf("run %s is already %s", runID, run.Status)
	}

	ok, err := s.store.TransitionRun(ctx, store.RunTransition{
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		From:     run.Status,
		To:       domain.RunStatusCancelled,
		At:       s.nowMillis(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to cancel run: %w", err)
	}
	if !ok {
		return nil, domain.Conflictf("run %s changed status concurrently", runID)
	}
	s.interrupt(run.ID)

	cancelled, err := s.loadRun(ctx, run.ID)
	if err != nil {
		return nil, err
	}
	s.publishRun(cancelled)
	s.logger.Info("run cancelled", "run_id", run.ID, "thread_id", run.ThreadID, "from", run.Status)
	return cancelled, nil
}

// SubscribeRun opens a stream session on a run. Runs that already finished
// yield a closed session; there is no replay.
func (s *Service) SubscribeRun(ctx context.Context, threadID, runID string) (*stream.Subscription, error) {
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, err
	}

	unlock := s.runLocks.Lock(runID)
	defer unlock()

	// Checked under the run lock so the terminal event cannot slip in
	// between the status read and the subscription.
	run, err := s.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.IsTerminal() {
		return s.streamer.Closed(runID), nil
	}
	return s.streamer.Subscribe(runID), nil
}

func (s *Service) loadRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, domain.NotFoundf("run %s", runID)
	}
	return run, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
