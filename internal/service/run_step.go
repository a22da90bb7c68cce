package service

import (
	"context"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// ListRunSteps pages through a run's steps.
func (s *Service) ListRunSteps(ctx context.Context, threadID, runID string, opts domain.ListOptions) (*domain.ListResult[domain.RunStep], error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, err
	}
	steps, hasMore, err := s.store.ListRunSteps(ctx, runID, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list run steps: %w", err)
	}
	return newListResult(steps, hasMore, func(st domain.RunStep) string { return st.ID }), nil
}

// RetrieveRunStep returns one step of a run.
func (s *Service) RetrieveRunStep(ctx context.Context, threadID, runID, stepID string) (*domain.RunStep, error) {
	if stepID == "" {
		return nil, domain.Validationf("step_id is required")
	}
	if _, err := s.RetrieveRun(ctx, threadID, runID); err != nil {
		return nil, err
	}
	step, err := s.store.GetRunStep(ctx, runID, stepID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run step: %w", err)
	}
	if step == nil {
		return nil, domain.NotFoundf("step %s", stepID)
	}
	return step, nil
}
