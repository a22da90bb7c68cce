package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/dispatch"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/internal/stream"
)

// SubmitToolOutputs resolves every pending tool call of a suspended run in
// one atomic step and resumes processing.
func (s *Service) SubmitToolOutputs(ctx context.Context, threadID, runID string, req domain.SubmitToolOutputsRequest) (*domain.Run, error) {
	run, _, err := s.submitToolOutputs(ctx, threadID, runID, req, false)
	return run, err
}

// SubmitToolOutputsStream is SubmitToolOutputs with a stream session attached
// before the resumed run's first event.
func (s *Service) SubmitToolOutputsStream(ctx context.Context, threadID, runID string, req domain.SubmitToolOutputsRequest) (*domain.Run, *stream.Subscription, error) {
	return s.submitToolOutputs(ctx, threadID, runID, req, true)
}

func (s *Service) submitToolOutputs(ctx context.Context, threadID, runID string, req domain.SubmitToolOutputsRequest, subscribe bool) (*domain.Run, *stream.Subscription, error) {
	if len(req.ToolOutputs) == 0 {
		return nil, nil, domain.Validationf("tool_outputs must not be empty")
	}
	for i, out := range req.ToolOutputs {
		if out.ToolCallID == "" {
			return nil, nil, domain.Validationf("tool_outputs[%d].tool_call_id is required", i)
		}
	}
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, nil, err
	}

	unlock := s.runLocks.Lock(runID)
	handedOff := false
	defer func() {
		if !handedOff {
			unlock()
		}
	}()

	run, err := s.RetrieveRun(ctx, threadID, runID)
	if err != nil {
		return nil, nil, err
	}
	if run.Status != domain.RunStatusRequiresAction {
		return nil, nil, domain.Conflictf("run %s is %s, not %s", runID, run.Status, domain.RunStatusRequiresAction)
	}

	step, err := s.store.GetPendingToolCallsStep(ctx, runID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load pending tool calls: %w", err)
	}
	if step == nil {
		return nil, nil, domain.Conflictf("run %s has no pending tool calls", runID)
	}
	outputs, err := dispatch.NewBatch(runID, step.ID, step.StepDetails.ToolCalls).Resolve(req.ToolOutputs)
	if err != nil {
		return nil, nil, err
	}

	ok, err := s.store.ApplyToolOutputs(ctx, store.RunTransition{
		RunID:    run.ID,
		ThreadID: run.ThreadID,
		From:     domain.RunStatusRequiresAction,
		To:       domain.RunStatusInProgress,
		At:       s.nowMillis(),
	}, step.ID, outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply tool outputs: %w", err)
	}
	if !ok {
		return nil, nil, domain.Conflictf("tool outputs of run %s were already applied", runID)
	}

	resumed, err := s.loadRun(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	completedStep, err := s.store.GetRunStep(ctx, runID, step.ID)
	if err != nil || completedStep == nil {
		s.logger.Error("failed to reload tool_calls step", "run_id", runID, "step_id", step.ID, "error", err)
		completedStep = step
		completedStep.Status = domain.RunStepStatusCompleted
	}

	var sub *stream.Subscription
	if subscribe {
		sub = s.streamer.Subscribe(runID)
	}

	s.logger.Info("tool outputs submitted", "run_id", runID, "step_id", step.ID, "outputs", len(outputs))
	s.startProcessing(resumed, unlock,
		domain.StreamEvent{Type: domain.EventTypeRunStepCompleted, RunID: runID, Step: completedStep},
		domain.StreamEvent{Type: domain.EventTypeRunInProgress, RunID: runID, Run: resumed.Clone()},
	)
	handedOff = true
	return resumed, sub, nil
}
