package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to an in-memory database is a separate database, and
	// SQLite serializes writers anyway, so one connection is used throughout.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			metadata TEXT,
			active_run_id TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			message_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			run_id TEXT,
			assistant_id TEXT,
			metadata TEXT,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_thread ON messages(thread_id, created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS assistants (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			assistant_id TEXT NOT NULL UNIQUE,
			name TEXT,
			instructions TEXT,
			model TEXT NOT NULL,
			tools TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assistants_created ON assistants(created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL UNIQUE,
			thread_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			status TEXT NOT NULL,
			model TEXT NOT NULL,
			instructions TEXT,
			required_action TEXT,
			last_error TEXT,
			created_at INTEGER NOT NULL,
			started_at INTEGER,
			expires_at INTEGER,
			cancelled_at INTEGER,
			failed_at INTEGER,
			completed_at INTEGER,
			expired_at INTEGER,
			metadata TEXT,
			FOREIGN KEY (thread_id) REFERENCES threads(thread_id),
			FOREIGN KEY (assistant_id) REFERENCES assistants(assistant_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_thread ON runs(thread_id, created_at, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_expires ON runs(status, expires_at)`,
		`CREATE TABLE IF NOT EXISTS run_steps (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			step_id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			assistant_id TEXT NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			message_id TEXT,
			last_error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER,
			failed_at INTEGER,
			cancelled_at INTEGER,
			expired_at INTEGER,
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_steps_run ON run_steps(run_id, created_at, seq)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tool_call_id TEXT NOT NULL UNIQUE,
			run_id TEXT NOT NULL,
			step_id TEXT NOT NULL,
			name TEXT NOT NULL,
			arguments TEXT NOT NULL,
			output TEXT,
			FOREIGN KEY (run_id) REFERENCES runs(run_id),
			FOREIGN KEY (step_id) REFERENCES run_steps(step_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_step ON tool_calls(step_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_run ON tool_calls(run_id, seq)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn in a transaction, committing only when fn returns nil.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// clampCreatedAt returns at, raised to the newest created_at of the scope so
// that created_at never decreases in insertion order.
func clampCreatedAt(ctx context.Context, tx *sql.Tx, table, scopeCol, scopeVal string, at int64) (int64, error) {
	var latest int64
	query := fmt.Sprintf(`SELECT COALESCE(MAX(created_at), 0) FROM %s WHERE %s = ?`, table, scopeCol)
	if err := tx.QueryRowContext(ctx, query, scopeVal).Scan(&latest); err != nil {
		return 0, err
	}
	if at < latest {
		return latest, nil
	}
	return at, nil
}

func affectedOne(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

// nullJSON encodes v, storing NULL for nil values and empty maps.
func nullJSON(v any) (sql.NullString, error) {
	switch val := v.(type) {
	case map[string]string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(data) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func decodeJSON(raw sql.NullString, v any) error {
	if !raw.Valid || raw.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw.String), v)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
