package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

const (
	messageColumns   = `seq, message_id, thread_id, role, content, created_at, run_id, assistant_id, metadata`
	assistantColumns = `assistant_id, name, instructions, model, tools, metadata, created_at`
)

// CreateThread creates a thread and its initial messages atomically.
func (s *SQLiteStore) CreateThread(ctx context.Context, thread *domain.Thread, messages []*domain.Message) error {
	metadata, err := nullJSON(thread.Metadata)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO threads (thread_id, created_at, metadata) VALUES (?, ?, ?)`,
			thread.ID, thread.CreatedAt, metadata); err != nil {
			return err
		}
		for _, msg := range messages {
			if err := insertMessage(ctx, tx, msg); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetThread retrieves a thread by ID.
func (s *SQLiteStore) GetThread(ctx context.Context, threadID string) (*domain.Thread, error) {
	var thread domain.Thread
	var metadata, activeRunID sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, created_at, metadata, active_run_id FROM threads WHERE thread_id = ?`,
		threadID).Scan(&thread.ID, &thread.CreatedAt, &metadata, &activeRunID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(metadata, &thread.Metadata); err != nil {
		return nil, err
	}
	thread.Object = "thread"
	thread.ActiveRunID = activeRunID.String
	return &thread, nil
}

// UpdateThreadMetadata replaces a thread's metadata.
func (s *SQLiteStore) UpdateThreadMetadata(ctx context.Context, threadID string, metadata map[string]string) (bool, error) {
	encoded, err := nullJSON(metadata)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE threads SET metadata = ? WHERE thread_id = ?`, encoded, threadID)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// DeleteThread removes a thread with its messages, runs, run steps and tool
// calls. It returns false when the thread does not exist or a run owns it.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) (bool, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var activeRunID sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT active_run_id FROM threads WHERE thread_id = ?`, threadID).Scan(&activeRunID)
		if err == sql.ErrNoRows || (err == nil && activeRunID.Valid) {
			return errRollback
		}
		if err != nil {
			return err
		}
		for _, query := range []string{
			`DELETE FROM tool_calls WHERE run_id IN (SELECT run_id FROM runs WHERE thread_id = ?)`,
			`DELETE FROM run_steps WHERE thread_id = ?`,
			`DELETE FROM runs WHERE thread_id = ?`,
			`DELETE FROM messages WHERE thread_id = ?`,
			`DELETE FROM threads WHERE thread_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, query, threadID); err != nil {
				return err
			}
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

// AppendMessage appends a message to its thread. CreatedAt and Seq are
// updated to the stored values.
func (s *SQLiteStore) AppendMessage(ctx context.Context, message *domain.Message) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertMessage(ctx, tx, message)
	})
}

// AppendMessageIfIdle appends a message only while the thread has no active
// run. It returns false when a run owns the thread.
func (s *SQLiteStore) AppendMessageIfIdle(ctx context.Context, message *domain.Message) (bool, error) {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var activeRunID sql.NullString
		if err := tx.QueryRowContext(ctx,
			`SELECT active_run_id FROM threads WHERE thread_id = ?`, message.ThreadID).Scan(&activeRunID); err != nil {
			return err
		}
		if activeRunID.Valid {
			return errRollback
		}
		return insertMessage(ctx, tx, message)
	})
	if errors.Is(err, errRollback) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func insertMessage(ctx context.Context, tx *sql.Tx, msg *domain.Message) error {
	if msg.Content == nil {
		msg.Content = []domain.ContentPart{}
	}
	content, err := json.Marshal(msg.Content)
	if err != nil {
		return err
	}
	metadata, err := nullJSON(msg.Metadata)
	if err != nil {
		return err
	}
	createdAt, err := clampCreatedAt(ctx, tx, "messages", "thread_id", msg.ThreadID, msg.CreatedAt)
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (message_id, thread_id, role, content, created_at, run_id, assistant_id, metadata) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ThreadID, msg.Role, string(content), createdAt, nullString(msg.RunID), nullString(msg.AssistantID), metadata)
	if err != nil {
		return err
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return err
	}
	msg.CreatedAt = createdAt
	msg.Seq = seq
	msg.Object = "thread.message"
	return nil
}

// GetMessage retrieves a message of a thread.
func (s *SQLiteStore) GetMessage(ctx context.Context, threadID, messageID string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? AND message_id = ?`,
		threadID, messageID)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// UpdateMessageMetadata replaces a message's metadata.
func (s *SQLiteStore) UpdateMessageMetadata(ctx context.Context, threadID, messageID string, metadata map[string]string) (bool, error) {
	encoded, err := nullJSON(metadata)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET metadata = ? WHERE thread_id = ? AND message_id = ?`, encoded, threadID, messageID)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ListMessages returns one page of a thread's messages.
func (s *SQLiteStore) ListMessages(ctx context.Context, threadID string, opts domain.ListOptions) ([]domain.Message, bool, error) {
	spec := pageSpec{
		table:    "messages",
		columns:  messageColumns,
		idCol:    "message_id",
		scopeCol: "thread_id",
		scopeVal: threadID,
	}
	return queryPage(ctx, s, spec, opts, scanMessage)
}

// ThreadHistory returns every message of a thread in insertion order.
func (s *SQLiteStore) ThreadHistory(ctx context.Context, threadID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE thread_id = ? ORDER BY created_at ASC, seq ASC`,
		threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func scanMessage(row rowScanner) (domain.Message, error) {
	var msg domain.Message
	var content string
	var runID, assistantID, metadata sql.NullString
	if err := row.Scan(&msg.Seq, &msg.ID, &msg.ThreadID, &msg.Role, &content, &msg.CreatedAt, &runID, &assistantID, &metadata); err != nil {
		return msg, err
	}
	if err := decodeJSON(sql.NullString{String: content, Valid: true}, &msg.Content); err != nil {
		return msg, err
	}
	if err := decodeJSON(metadata, &msg.Metadata); err != nil {
		return msg, err
	}
	msg.Object = "thread.message"
	msg.RunID = runID.String
	msg.AssistantID = assistantID.String
	return msg, nil
}

// CreateAssistant creates a new assistant.
func (s *SQLiteStore) CreateAssistant(ctx context.Context, assistant *domain.Assistant) error {
	tools, err := nullJSON(assistant.Tools)
	if err != nil {
		return err
	}
	metadata, err := nullJSON(assistant.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO assistants (assistant_id, name, instructions, model, tools, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		assistant.ID, nullString(assistant.Name), nullString(assistant.Instructions), assistant.Model, tools, metadata, assistant.CreatedAt)
	return err
}

// GetAssistant retrieves an assistant by ID.
func (s *SQLiteStore) GetAssistant(ctx context.Context, assistantID string) (*domain.Assistant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+assistantColumns+` FROM assistants WHERE assistant_id = ?`, assistantID)
	a, err := scanAssistant(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAssistants returns one page of all assistants.
func (s *SQLiteStore) ListAssistants(ctx context.Context, opts domain.ListOptions) ([]domain.Assistant, bool, error) {
	spec := pageSpec{
		table:   "assistants",
		columns: assistantColumns,
		idCol:   "assistant_id",
	}
	return queryPage(ctx, s, spec, opts, scanAssistant)
}

func scanAssistant(row rowScanner) (domain.Assistant, error) {
	var a domain.Assistant
	var name, instructions, tools, metadata sql.NullString
	if err := row.Scan(&a.ID, &name, &instructions, &a.Model, &tools, &metadata, &a.CreatedAt); err != nil {
		return a, err
	}
	if err := decodeJSON(tools, &a.Tools); err != nil {
		return a, err
	}
	if err := decodeJSON(metadata, &a.Metadata); err != nil {
		return a, err
	}
	if a.Tools == nil {
		a.Tools = []domain.ToolSpec{}
	}
	a.Object = "assistant"
	a.Name = name.String
	a.Instructions = instructions.String
	return a, nil
}
