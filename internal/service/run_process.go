package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xiaot623/gogo/assistant/internal/adapter/llm"
	"github.com/xiaot623/gogo/assistant/internal/domain"
	"github.com/xiaot623/gogo/assistant/internal/repository"
	"github.com/xiaot623/gogo/assistant/policy"
)

// errToolBlocked marks a completion whose function calls the policy refused.
var errToolBlocked = errors.New("tool call blocked by policy")

// startProcessing takes over the run lock held by the caller. The goroutine
// publishes pending first, releases the lock, and then drives one inference
// turn of the in_progress run.
func (s *Service) startProcessing(run *domain.Run, unlock func(), pending ...domain.StreamEvent) {
	ctx, cancel := s.turnContext()
	handle := s.setInflight(run.ID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer s.clearInflight(run.ID, handle)

		for _, event := range pending {
			s.publish(event)
		}
		unlock()

		s.process(ctx, run)
	}()
}

// turnContext derives the context of one processing turn from baseCtx,
// bounded by the inference timeout when one is configured.
func (s *Service) turnContext() (context.Context, context.CancelFunc) {
	if s.config.LLMTimeout > 0 {
		return context.WithTimeout(s.baseCtx, s.config.LLMTimeout)
	}
	return context.WithCancel(s.baseCtx)
}

// turn is the mutable state of one inference turn. It is only touched under
// the run lock.
type turn struct {
	run       *domain.Run
	assistant *domain.Assistant
	messageID string
	step      *domain.RunStep
}

func (s *Service) process(ctx context.Context, run *domain.Run) {
	t := &turn{run: run, messageID: newID("msg_")}

	req, err := s.buildCompletionRequest(ctx, t)
	var completion *llm.Completion
	if err == nil {
		completion, err = s.backend.Complete(ctx, req, func(text string) error {
			return s.onDelta(ctx, t, text)
		})
		if err == nil && completion == nil {
			err = errors.New("backend returned no completion")
		}
	}

	unlock := s.runLocks.Lock(run.ID)
	defer unlock()

	if !s.stillInProgress(run.ID) {
		return
	}
	switch {
	case err != nil:
		s.failRun(t, err)
	case completion.HasToolCalls():
		s.suspendRun(t, completion)
	default:
		s.completeRun(t, completion.Content)
	}
}

// buildCompletionRequest assembles the model input: thread history followed
// by the run's resolved tool-call rounds.
func (s *Service) buildCompletionRequest(ctx context.Context, t *turn) (llm.CompletionRequest, error) {
	assistant, err := s.store.GetAssistant(ctx, t.run.AssistantID)
	if err != nil {
		return llm.CompletionRequest{}, fmt.Errorf("failed to load assistant: %w", err)
	}
	if assistant == nil {
		return llm.CompletionRequest{}, fmt.Errorf("assistant %s no longer exists", t.run.AssistantID)
	}
	t.assistant = assistant

	history, err := s.store.ThreadHistory(ctx, t.run.ThreadID)
	if err != nil {
		return llm.CompletionRequest{}, fmt.Errorf("failed to load thread history: %w", err)
	}
	resolved, err := s.store.ListResolvedToolCalls(ctx, t.run.ID)
	if err != nil {
		return llm.CompletionRequest{}, fmt.Errorf("failed to load tool outputs: %w", err)
	}

	return llm.CompletionRequest{
		Model:        t.run.Model,
		Instructions: t.run.Instructions,
		Messages:     history,
		Tools:        assistant.Tools,
		ToolRounds:   groupRounds(resolved),
	}, nil
}

// groupRounds splits calls, in creation order, into one round per step.
func groupRounds(calls []domain.ToolCall) []domain.ToolRound {
	var rounds []domain.ToolRound
	index := make(map[string]int)
	for _, tc := range calls {
		i, ok := index[tc.StepID]
		if !ok {
			i = len(rounds)
			index[tc.StepID] = i
			rounds = append(rounds, domain.ToolRound{})
		}
		rounds[i].Calls = append(rounds[i].Calls, tc)
	}
	return rounds
}

// onDelta forwards a text fragment, opening the message_creation step on the
// first one. A cancelled turn rejects further fragments.
func (s *Service) onDelta(ctx context.Context, t *turn, text string) error {
	unlock := s.runLocks.Lock(t.run.ID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	if t.step == nil {
		if err := s.openMessageStep(ctx, t); err != nil {
			return err
		}
	}
	s.publishDelta(t.run.ID, t.step, text)
	return nil
}

func (s *Service) openMessageStep(ctx context.Context, t *turn) error {
	step := &domain.RunStep{
		ID:          newID("step_"),
		RunID:       t.run.ID,
		ThreadID:    t.run.ThreadID,
		AssistantID: t.run.AssistantID,
		Type:        domain.RunStepTypeMessageCreation,
		Status:      domain.RunStepStatusInProgress,
		CreatedAt:   s.nowMillis(),
		StepDetails: domain.StepDetails{
			MessageCreation: &domain.MessageCreation{MessageID: t.messageID},
		},
	}
	if err := s.store.CreateRunStep(ctx, step); err != nil {
		return fmt.Errorf("failed to create step: %w", err)
	}
	t.step = step
	s.publishStep(domain.EventTypeRunStepCreated, step)
	return nil
}

// stillInProgress reports whether a finished turn may still act on the run.
// Results of cancelled runs, and of any run once shutdown began, are dropped.
func (s *Service) stillInProgress(runID string) bool {
	if s.baseCtx.Err() != nil {
		s.logger.Debug("discarding turn result during shutdown", "run_id", runID)
		return false
	}
	current, err := s.store.GetRun(s.baseCtx, runID)
	if err != nil || current == nil {
		s.logger.Error("failed to reload run", "run_id", runID, "error", err)
		return false
	}
	if current.Status != domain.RunStatusInProgress {
		s.logger.Info("discarding turn result", "run_id", runID, "status", current.Status)
		return false
	}
	return true
}

// writeMessage persists the turn's assistant message and completes its
// message_creation step.
func (s *Service) writeMessage(ctx context.Context, t *turn, content string) error {
	if t.step == nil {
		if err := s.openMessageStep(ctx, t); err != nil {
			return err
		}
	}
	now := s.nowMillis()
	msg := &domain.Message{
		ID:          t.messageID,
		ThreadID:    t.run.ThreadID,
		Role:        domain.RoleAssistant,
		Content:     domain.TextContent(content),
		CreatedAt:   now,
		RunID:       t.run.ID,
		AssistantID: t.run.AssistantID,
	}
	if err := s.store.AppendMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	if _, err := s.store.FinishRunStep(ctx, t.step.ID, domain.RunStepStatusCompleted, now, nil); err != nil {
		return fmt.Errorf("failed to complete step: %w", err)
	}
	step, err := s.store.GetRunStep(ctx, t.run.ID, t.step.ID)
	if err != nil || step == nil {
		return fmt.Errorf("failed to reload step %s: %w", t.step.ID, err)
	}
	t.step = step

	s.publishStep(domain.EventTypeRunStepCompleted, step)
	s.publishMessage(t.run.ID, msg)
	return nil
}

func (s *Service) completeRun(t *turn, content string) {
	ctx := s.baseCtx
	if err := s.writeMessage(ctx, t, content); err != nil {
		s.failRun(t, err)
		return
	}
	s.finishRun(ctx, t.run, domain.RunStatusInProgress, domain.RunStatusCompleted, nil)
}

// suspendRun gates the requested calls through the policy and parks the run
// in requires_action with a tool_calls step.
func (s *Service) suspendRun(t *turn, completion *llm.Completion) {
	ctx := s.baseCtx

	if err := s.checkToolCalls(ctx, t, completion.ToolCalls); err != nil {
		s.failRun(t, err)
		return
	}
	// Text streamed ahead of the calls becomes a message of its own.
	if t.step != nil {
		if err := s.writeMessage(ctx, t, completion.Content); err != nil {
			s.failRun(t, err)
			return
		}
	}

	now := s.nowMillis()
	calls := make([]domain.ToolCall, 0, len(completion.ToolCalls))
	for _, fc := range completion.ToolCalls {
		calls = append(calls, domain.ToolCall{
			ID:       newID("call_"),
			Type:     domain.ToolCallTypeFunction,
			Function: domain.FunctionCall{Name: fc.Name, Arguments: fc.Arguments},
		})
	}
	step := &domain.RunStep{
		ID:          newID("step_"),
		RunID:       t.run.ID,
		ThreadID:    t.run.ThreadID,
		AssistantID: t.run.AssistantID,
		Type:        domain.RunStepTypeToolCalls,
		Status:      domain.RunStepStatusInProgress,
		CreatedAt:   now,
		StepDetails: domain.StepDetails{ToolCalls: calls},
	}
	expiresAt := now + s.config.RequiresActionTimeout.Milliseconds()

	ok, err := s.store.SuspendRun(ctx, store.RunTransition{
		RunID:    t.run.ID,
		ThreadID: t.run.ThreadID,
		From:     domain.RunStatusInProgress,
		To:       domain.RunStatusRequiresAction,
		At:       now,
		RequiredAction: &domain.RequiredAction{
			Type:              domain.RequiredActionSubmitToolOutputs,
			SubmitToolOutputs: domain.SubmitToolOutputsAction{ToolCalls: calls},
		},
		ExpiresAt: &expiresAt,
	}, step)
	if err != nil {
		s.failRun(t, fmt.Errorf("failed to suspend run: %w", err))
		return
	}
	if !ok {
		s.logger.Warn("run left in_progress before suspension", "run_id", t.run.ID)
		return
	}

	s.publishStep(domain.EventTypeRunStepCreated, step)
	suspended, err := s.loadRun(ctx, t.run.ID)
	if err != nil {
		s.logger.Error("failed to reload suspended run", "run_id", t.run.ID, "error", err)
		return
	}
	s.publishRun(suspended)
	s.logger.Info("run requires action", "run_id", t.run.ID, "tool_calls", len(calls), "expires_at", expiresAt)
}

// checkToolCalls evaluates every requested call; the first refusal wins.
func (s *Service) checkToolCalls(ctx context.Context, t *turn, calls []domain.FunctionCall) error {
	if s.policyEngine == nil {
		return nil
	}
	for _, fc := range calls {
		decision, reason, err := s.policyEngine.Evaluate(ctx, policy.Input{
			ToolName:      fc.Name,
			Arguments:     fc.Arguments,
			AssistantID:   t.run.AssistantID,
			Model:         t.run.Model,
			DeclaredTools: t.assistant.FunctionNames(),
		})
		if err != nil {
			return fmt.Errorf("failed to evaluate tool policy: %w", err)
		}
		if decision == policy.DecisionBlock {
			s.logger.Warn("tool call blocked", "run_id", t.run.ID, "tool", fc.Name, "reason", reason)
			return fmt.Errorf("%w: %s", errToolBlocked, reason)
		}
	}
	return nil
}

// failRun ends an in_progress run with an error derived from cause.
func (s *Service) failRun(t *turn, cause error) {
	lastErr := &domain.LastError{Code: domain.ErrorCodeServerError, Message: cause.Error()}
	switch {
	case errors.Is(cause, errToolBlocked):
		lastErr.Code = domain.ErrorCodeToolBlocked
		lastErr.Message = strings.TrimPrefix(cause.Error(), errToolBlocked.Error()+": ")
	case llm.IsClientError(cause):
		lastErr.Code = domain.ErrorCodeInvalidRequestError
	}
	s.logger.Error("run failed", "run_id", t.run.ID, "code", lastErr.Code, "error", cause)
	s.finishRun(s.baseCtx, t.run, domain.RunStatusInProgress, domain.RunStatusFailed, lastErr)
}

// finishRun moves a run into a terminal status and publishes it.
func (s *Service) finishRun(ctx context.Context, run *domain.Run, from, to domain.RunStatus, lastErr *domain.LastError) bool {
	ok, err := s.store.TransitionRun(ctx, store.RunTransition{
		RunID:     run.ID,
		ThreadID:  run.ThreadID,
		From:      from,
		To:        to,
		At:        s.nowMillis(),
		LastError: lastErr,
	})
	if err != nil {
		s.logger.Error("failed to finish run", "run_id", run.ID, "to", to, "error", err)
		return false
	}
	if !ok {
		s.logger.Warn("run changed status before finishing", "run_id", run.ID, "from", from, "to", to)
		return false
	}
	final, err := s.loadRun(ctx, run.ID)
	if err != nil {
		// Subscribers still need the terminal event.
		s.logger.Error("failed to reload run", "run_id", run.ID, "error", err)
		final = run.Clone()
		final.Status = to
		final.LastError = lastErr
	}
	s.publishRun(final)
	s.logger.Info("run finished", "run_id", run.ID, "status", to)
	return true
}
