package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const runColumns = `seq, run_id, thread_id, assistant_id, status, model, instructions, required_action, last_error,
	created_at, started_at, expires_at, cancelled_at, failed_at, completed_at, expired_at, metadata`

// errRollback aborts a transaction whose compare-and-set did not match.
var errRollback = errors.New("store: compare-and-set mismatch")

// CreateRun claims the thread's active-run slot for run and, only when the
// claim succeeds, appends messages and inserts the run in the same
// transaction. It returns false when the thread already has an active run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run, messages []*domain.Message) (bool, error) {
	metadata, err := nullJSON(run.Metadata)
	if err != nil {
		return false, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE threads SET active_run_id = ? WHERE thread_id = ? AND active_run_id IS NULL`,
			run.ID, run.ThreadID)
		if err != nil {
			return err
		}
		claimed, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !claimed {
			return errRollback
		}

		for _, msg := range messages {
			if err := insertMessage(ctx, tx, msg); err != nil {
				return err
			}
		}

		createdAt, err := clampCreatedAt(ctx, tx, "runs", "thread_id", run.ThreadID, run.CreatedAt)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO runs (run_id, thread_id, assistant_id, status, model, instructions, created_at, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, run.ThreadID, run.AssistantID, run.Status, run.Model, nullString(run.Instructions), createdAt, metadata)
		if err != nil {
			return err
		}
		run.CreatedAt = createdAt
		run.Object = "thread.run"
		return nil
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// DiscardQueuedRun undoes CreateRun for a run that never left queued: the run
// and the messages created with it are deleted and the thread's active-run
// slot is released. It returns false when the run is no longer queued.
func (s *SQLiteStore) DiscardQueuedRun(ctx context.Context, run *domain.Run, messageIDs []string) (bool, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM runs WHERE run_id = ? AND status = ?`, run.ID, domain.RunStatusQueued)
		if err != nil {
			return err
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}
		for _, id := range messageIDs {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM messages WHERE message_id = ? AND thread_id = ?`, id, run.ThreadID); err != nil {
				return err
			}
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE threads SET active_run_id = NULL WHERE thread_id = ? AND active_run_id = ?`,
			run.ThreadID, run.ID)
		return err
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ListRuns returns one page of a thread's runs.
func (s *SQLiteStore) ListRuns(ctx context.Context, threadID string, opts domain.ListOptions) ([]domain.Run, bool, error) {
	spec := pageSpec{
		table:    "runs",
		columns:  runColumns,
		idCol:    "run_id",
		scopeCol: "thread_id",
		scopeVal: threadID,
	}
	return queryPage(ctx, s, spec, opts, scanRun)
}

// ListRunsByStatus returns up to limit runs in any of the given statuses,
// oldest first.
func (s *SQLiteStore) ListRunsByStatus(ctx context.Context, statuses []domain.RunStatus, limit int) ([]domain.Run, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	args := make([]any, 0, len(statuses)+1)
	for _, st := range statuses {
		args = append(args, st)
	}
	args = append(args, limit)
	query := fmt.Sprintf(`SELECT %s FROM runs WHERE status IN (%s) ORDER BY created_at ASC, seq ASC LIMIT ?`,
		runColumns, placeholders(len(statuses)))
	return s.queryRuns(ctx, query, args...)
}

// ListExpiredRuns returns suspended runs whose deadline is at or before now.
func (s *SQLiteStore) ListExpiredRuns(ctx context.Context, now int64, limit int) ([]domain.Run, error) {
	return s.queryRuns(ctx,
		`SELECT `+runColumns+` FROM runs
		WHERE status = ? AND expires_at IS NOT NULL AND expires_at <= ?
		ORDER BY expires_at ASC, seq ASC
		LIMIT ?`,
		domain.RunStatusRequiresAction, now, limit)
}

func (s *SQLiteStore) queryRuns(ctx context.Context, query string, args ...any) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

// TransitionRun applies tr if the run is still in tr.From. Entering a
// terminal status also finishes the run's unfinished steps and releases the
// thread's active-run slot in the same transaction.
func (s *SQLiteStore) TransitionRun(ctx context.Context, tr RunTransition) (bool, error) {
	return s.casRun(ctx, tr, nil)
}

// SuspendRun moves a run to requires_action and records the tool_calls step
// with its calls in the same transaction.
func (s *SQLiteStore) SuspendRun(ctx context.Context, tr RunTransition, step *domain.RunStep) (bool, error) {
	if tr.To != domain.RunStatusRequiresAction {
		return false, fmt.Errorf("suspend must target %s, got %s", domain.RunStatusRequiresAction, tr.To)
	}
	return s.casRun(ctx, tr, func(tx *sql.Tx) error {
		return insertRunStep(ctx, tx, step)
	})
}

// ApplyToolOutputs writes every output, completes the tool_calls step and
// moves the run back to in_progress atomically. It returns false, leaving
// everything unchanged, if the run left tr.From or any call was already
// resolved.
func (s *SQLiteStore) ApplyToolOutputs(ctx context.Context, tr RunTransition, stepID string, outputs map[string]string) (bool, error) {
	return s.casRun(ctx, tr, func(tx *sql.Tx) error {
		for callID, output := range outputs {
			res, err := tx.ExecContext(ctx,
				`UPDATE tool_calls SET output = ? WHERE tool_call_id = ? AND step_id = ? AND output IS NULL`,
				output, callID, stepID)
			if err != nil {
				return err
			}
			ok, err := affectedOne(res)
			if err != nil {
				return err
			}
			if !ok {
				return errRollback
			}
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE run_steps SET status = ?, completed_at = ? WHERE step_id = ? AND status = ?`,
			domain.RunStepStatusCompleted, tr.At, stepID, domain.RunStepStatusInProgress)
		if err != nil {
			return err
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}
		return nil
	})
}

func (s *SQLiteStore) casRun(ctx context.Context, tr RunTransition, extra func(tx *sql.Tx) error) (bool, error) {
	if !domain.CanTransition(tr.From, tr.To) {
		return false, fmt.Errorf("illegal run transition %s -> %s", tr.From, tr.To)
	}
	requiredAction, err := nullJSON(tr.RequiredAction)
	if err != nil {
		return false, err
	}
	lastError, err := nullJSON(tr.LastError)
	if err != nil {
		return false, err
	}

	var query string
	var args []any
	switch tr.To {
	case domain.RunStatusInProgress:
		query = `UPDATE runs SET status = ?, started_at = COALESCE(started_at, ?), required_action = NULL, expires_at = NULL WHERE run_id = ? AND status = ?`
		args = []any{tr.To, tr.At, tr.RunID, tr.From}
	case domain.RunStatusRequiresAction:
		query = `UPDATE runs SET status = ?, required_action = ?, expires_at = ? WHERE run_id = ? AND status = ?`
		args = []any{tr.To, requiredAction, nullInt64(tr.ExpiresAt), tr.RunID, tr.From}
	default:
		query = fmt.Sprintf(`UPDATE runs SET status = ?, %s = ?, last_error = COALESCE(?, last_error), required_action = NULL WHERE run_id = ? AND status = ?`,
			terminalColumn(tr.To))
		args = []any{tr.To, tr.At, lastError, tr.RunID, tr.From}
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		ok, err := affectedOne(res)
		if err != nil {
			return err
		}
		if !ok {
			return errRollback
		}

		if tr.To.IsTerminal() {
			stepStatus := domain.StepStatusFor(tr.To)
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf(`UPDATE run_steps SET status = ?, %s = ?, last_error = ? WHERE run_id = ? AND status = ?`, stepTerminalColumn(stepStatus)),
				stepStatus, tr.At, lastError, tr.RunID, domain.RunStepStatusInProgress); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE threads SET active_run_id = NULL WHERE thread_id = ? AND active_run_id = ?`,
				tr.ThreadID, tr.RunID); err != nil {
				return err
			}
		}

		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateRunMetadata replaces a run's metadata.
func (s *SQLiteStore) UpdateRunMetadata(ctx context.Context, runID string, metadata map[string]string) (bool, error) {
	encoded, err := nullJSON(metadata)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET metadata = ? WHERE run_id = ?`, encoded, runID)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func terminalColumn(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusCompleted:
		return "completed_at"
	case domain.RunStatusCancelled:
		return "cancelled_at"
	case domain.RunStatusExpired:
		return "expired_at"
	default:
		return "failed_at"
	}
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var seq int64
	var instructions, requiredAction, lastError, metadata sql.NullString
	var startedAt, expiresAt, cancelledAt, failedAt, completedAt, expiredAt sql.NullInt64
	err := row.Scan(&seq, &run.ID, &run.ThreadID, &run.AssistantID, &run.Status, &run.Model, &instructions,
		&requiredAction, &lastError, &run.CreatedAt, &startedAt, &expiresAt, &cancelledAt, &failedAt,
		&completedAt, &expiredAt, &metadata)
	if err != nil {
		return run, err
	}
	if err := decodeJSON(requiredAction, &run.RequiredAction); err != nil {
		return run, err
	}
	if err := decodeJSON(lastError, &run.LastError); err != nil {
		return run, err
	}
	if err := decodeJSON(metadata, &run.Metadata); err != nil {
		return run, err
	}
	run.Object = "thread.run"
	run.Instructions = instructions.String
	run.StartedAt = int64Ptr(startedAt)
	run.ExpiresAt = int64Ptr(expiresAt)
	run.CancelledAt = int64Ptr(cancelledAt)
	run.FailedAt = int64Ptr(failedAt)
	run.CompletedAt = int64Ptr(completedAt)
	run.ExpiredAt = int64Ptr(expiredAt)
	return run, nil
}
