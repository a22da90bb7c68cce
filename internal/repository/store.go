// Package store persists threads, messages, assistants, runs, run steps and
// tool calls.
package store

import (
	"context"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// Store defines the persistence operations used by the run engine.
// Lookups return (nil, nil) when the record does not exist.
type Store interface {
	// Thread operations
	CreateThread(ctx context.Context, thread *domain.Thread, messages []*domain.Message) error
	GetThread(ctx context.Context, threadID string) (*domain.Thread, error)
	UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]string) (bool, error)
	DeleteThread(ctx context.Context, threadID string) (bool, error)

	// Message operations
	AppendMessage(ctx context.Context, message *domain.Message) error
	AppendMessageIfIdle(ctx context.Context, message *domain.Message) (bool, error)
	GetMessage(ctx context.Context, threadID, messageID string) (*domain.Message, error)
	UpdateMessageMetadata(ctx context.Context, threadID, messageID string, metadata map[string]string) (bool, error)
	ListMessages(ctx context.Context, threadID string, opts domain.ListOptions) ([]domain.Message, bool, error)
	ThreadHistory(ctx context.Context, threadID string) ([]domain.Message, error)

	// Assistant operations
	CreateAssistant(ctx context.Context, assistant *domain.Assistant) error
	GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error)
	ListAssistants(ctx context.Context, opts domain.ListOptions) ([]domain.Assistant, bool, error)

	// Run operations
	CreateRun(ctx context.Context, run *domain.Run, messages []*domain.Message) (bool, error)
	DiscardQueuedRun(ctx context.Context, run *domain.Run, messageIDs []string) (bool, error)
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	ListRuns(ctx context.Context, threadID string, opts domain.ListOptions) ([]domain.Run, bool, error)
	ListRunsByStatus(ctx context.Context, statuses []domain.RunStatus, limit int) ([]domain.Run, error)
	ListExpiredRuns(ctx context.Context, now int64, limit int) ([]domain.Run, error)
	TransitionRun(ctx context.Context, tr RunTransition) (bool, error)
	SuspendRun(ctx context.Context, tr RunTransition, step *domain.RunStep) (bool, error)
	ApplyToolOutputs(ctx context.Context, tr RunTransition, stepID string, outputs map[string]string) (bool, error)
	UpdateRunMetadata(ctx context.Context, runID string, metadata map[string]string) (bool, error)

	// Run step operations
	CreateRunStep(ctx context.Context, step *domain.RunStep) error
	FinishRunStep(ctx context.Context, stepID string, status domain.RunStepStatus, at int64, lastErr *domain.LastError) (bool, error)
	GetRunStep(ctx context.Context, runID, stepID string) (*domain.RunStep, error)
	ListRunSteps(ctx context.Context, runID string, opts domain.ListOptions) ([]domain.RunStep, bool, error)
	GetPendingToolCallsStep(ctx context.Context, runID string) (*domain.RunStep, error)
	ListResolvedToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error)

	// Lifecycle
	Close() error
}

// RunTransition is a compare-and-set status change of one run.
type RunTransition struct {
	RunID    string
	ThreadID string
	From     domain.RunStatus
	To       domain.RunStatus
	At       int64 // Unix milliseconds

	// Set when To is requires_action.
	RequiredAction *domain.RequiredAction
	ExpiresAt      *int64

	// Optional when To is failed or expired.
	LastError *domain.LastError
}
