package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const stepColumns = `seq, step_id, run_id, thread_id, assistant_id, type, status, message_id, last_error,
	created_at, completed_at, failed_at, cancelled_at, expired_at`

// CreateRunStep records a new step. CreatedAt and Seq are updated to the
// stored values.
func (s *SQLiteStore) CreateRunStep(ctx context.Context, step *domain.RunStep) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertRunStep(ctx, tx, step)
	})
}

func insertRunStep(ctx context.Context, tx *sql.Tx, step *domain.RunStep) error {
	createdAt, err := clampCreatedAt(ctx, tx, "run_steps", "run_id", step.RunID, step.CreatedAt)
	if err != nil {
		return err
	}
	var messageID string
	if step.StepDetails.MessageCreation != nil {
		messageID = step.StepDetails.MessageCreation.MessageID
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO run_steps (step_id, run_id, thread_id, assistant_id, type, status, message_id, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		step.ID, step.RunID, step.ThreadID, step.AssistantID, step.Type, step.Status, nullString(messageID), createdAt)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	for _, tc := range step.StepDetails.ToolCalls {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_calls (tool_call_id, run_id, step_id, name, arguments, output) VALUES (?, ?, ?, ?, ?, ?)`,
			tc.ID, step.RunID, step.ID, tc.Function.Name, tc.Function.Arguments, tc.Function.Output); err != nil {
			return err
		}
	}
	step.CreatedAt = createdAt
	step.Seq = seq
	step.Object = "thread.run.step"
	step.StepDetails.Type = step.Type
	return nil
}

// FinishRunStep moves an in-progress step to a terminal status.
func (s *SQLiteStore) FinishRunStep(ctx context.Context, stepID string, status domain.RunStepStatus, at int64, lastErr *domain.LastError) (bool, error) {
	if !status.IsTerminal() {
		return false, fmt.Errorf("step status %s is not terminal", status)
	}
	encoded, err := nullJSON(lastErr)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE run_steps SET status = ?, %s = ?, last_error = ? WHERE step_id = ? AND status = ?`, stepTerminalColumn(status)),
		status, at, encoded, stepID, domain.RunStepStatusInProgress)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// GetRunStep retrieves a step of a run, including its tool calls.
func (s *SQLiteStore) GetRunStep(ctx context.Context, runID, stepID string) (*domain.RunStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? AND step_id = ?`, runID, stepID)
	step, err := scanRunStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	steps := []domain.RunStep{step}
	if err := s.attachToolCalls(ctx, steps); err != nil {
		return nil, err
	}
	return &steps[0], nil
}

// ListRunSteps returns one page of a run's steps.
func (s *SQLiteStore) ListRunSteps(ctx context.Context, runID string, opts domain.ListOptions) ([]domain.RunStep, bool, error) {
	spec := pageSpec{
		table:    "run_steps",
		columns:  stepColumns,
		idCol:    "step_id",
		scopeCol: "run_id",
		scopeVal: runID,
	}
	steps, hasMore, err := queryPage(ctx, s, spec, opts, scanRunStep)
	if err != nil {
		return nil, false, err
	}
	if err := s.attachToolCalls(ctx, steps); err != nil {
		return nil, false, err
	}
	return steps, hasMore, nil
}

// GetPendingToolCallsStep returns the run's unfinished tool_calls step with
// its calls, or nil when the run is not waiting on tool outputs.
func (s *SQLiteStore) GetPendingToolCallsStep(ctx context.Context, runID string) (*domain.RunStep, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM run_steps WHERE run_id = ? AND type = ? AND status = ? ORDER BY seq DESC LIMIT 1`,
		runID, domain.RunStepTypeToolCalls, domain.RunStepStatusInProgress)
	step, err := scanRunStep(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	steps := []domain.RunStep{step}
	if err := s.attachToolCalls(ctx, steps); err != nil {
		return nil, err
	}
	return &steps[0], nil
}

// ListResolvedToolCalls returns the run's tool calls that already carry an
// output, in creation order.
func (s *SQLiteStore) ListResolvedToolCalls(ctx context.Context, runID string) ([]domain.ToolCall, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool_call_id, run_id, step_id, name, arguments, output FROM tool_calls WHERE run_id = ? AND output IS NOT NULL ORDER BY seq ASC`,
		runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ToolCall
	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// attachToolCalls loads the calls of every tool_calls step. It runs after the
// step rows are closed since the store holds a single connection.
func (s *SQLiteStore) attachToolCalls(ctx context.Context, steps []domain.RunStep) error {
	index := make(map[string]int)
	var ids []any
	for i := range steps {
		if steps[i].Type == domain.RunStepTypeToolCalls {
			index[steps[i].ID] = i
			ids = append(ids, steps[i].ID)
			steps[i].StepDetails.ToolCalls = []domain.ToolCall{}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT tool_call_id, run_id, step_id, name, arguments, output FROM tool_calls WHERE step_id IN (%s) ORDER BY seq ASC`, placeholders(len(ids))),
		ids...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		tc, err := scanToolCall(rows)
		if err != nil {
			return err
		}
		i := index[tc.StepID]
		steps[i].StepDetails.ToolCalls = append(steps[i].StepDetails.ToolCalls, tc)
	}
	return rows.Err()
}

func scanToolCall(row rowScanner) (domain.ToolCall, error) {
	var tc domain.ToolCall
	var output sql.NullString
	if err := row.Scan(&tc.ID, &tc.RunID, &tc.StepID, &tc.Function.Name, &tc.Function.Arguments, &output); err != nil {
		return tc, err
	}
	tc.Type = domain.ToolCallTypeFunction
	if output.Valid {
		out := output.String
		tc.Function.Output = &out
	}
	return tc, nil
}

func scanRunStep(row rowScanner) (domain.RunStep, error) {
	var step domain.RunStep
	var messageID, lastError sql.NullString
	var completedAt, failedAt, cancelledAt, expiredAt sql.NullInt64
	err := row.Scan(&step.Seq, &step.ID, &step.RunID, &step.ThreadID, &step.AssistantID, &step.Type, &step.Status,
		&messageID, &lastError, &step.CreatedAt, &completedAt, &failedAt, &cancelledAt, &expiredAt)
	if err != nil {
		return step, err
	}
	if err := decodeJSON(lastError, &step.LastError); err != nil {
		return step, err
	}
	step.Object = "thread.run.step"
	step.StepDetails.Type = step.Type
	if step.Type == domain.RunStepTypeMessageCreation {
		step.StepDetails.MessageCreation = &domain.MessageCreation{MessageID: messageID.String}
	}
	step.CompletedAt = int64Ptr(completedAt)
	step.FailedAt = int64Ptr(failedAt)
	step.CancelledAt = int64Ptr(cancelledAt)
	step.ExpiredAt = int64Ptr(expiredAt)
	return step, nil
}

func stepTerminalColumn(status domain.RunStepStatus) string {
	switch status {
	case domain.RunStepStatusCompleted:
		return "completed_at"
	case domain.RunStepStatusCancelled:
		return "cancelled_at"
	case domain.RunStepStatusExpired:
		return "expired_at"
	default:
		return "failed_at"
	}
}
