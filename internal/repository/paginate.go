package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/xiaot623/gogo/assistant/internal/domain"
)

// pageSpec describes a keyset-paginated listing over a table ordered by
// (created_at, seq) within one scope. An empty scopeCol lists the whole table.
type pageSpec struct {
	table    string
	columns  string
	idCol    string
	scopeCol string
	scopeVal string
}

func (p pageSpec) scope() (string, []any) {
	if p.scopeCol == "" {
		return "1 = 1", nil
	}
	return p.scopeCol + " = ?", []any{p.scopeVal}
}

type orderKey struct {
	createdAt int64
	seq       int64
}

// resolveCursor maps a cursor id to its ordering key. Unknown ids are a
// validation error.
func resolveCursor(ctx context.Context, tx *sql.Tx, spec pageSpec, id string) (orderKey, error) {
	var key orderKey
	where, args := spec.scope()
	query := fmt.Sprintf(`SELECT created_at, seq FROM %s WHERE %s = ? AND %s`, spec.table, spec.idCol, where)
	err := tx.QueryRowContext(ctx, query, append([]any{id}, args...)...).Scan(&key.createdAt, &key.seq)
	if err == sql.ErrNoRows {
		return key, domain.Validationf("unknown cursor %q", id)
	}
	return key, err
}

// keyCondition selects rows strictly past key in the given direction.
func keyCondition(ascending bool, key orderKey) (string, []any) {
	op := "<"
	if ascending {
		op = ">"
	}
	cond := fmt.Sprintf(`(created_at %s ? OR (created_at = ? AND seq %s ?))`, op, op)
	return cond, []any{key.createdAt, key.createdAt, key.seq}
}

// queryPage reads one page in a single transaction. Rows are scanned with scan
// and returned in listing order along with the has-more flag.
//
// "after" walks forward from the cursor in listing order and "before" walks
// backward; with only "before" set, the page nearest the cursor is returned.
func queryPage[T any](ctx context.Context, s *SQLiteStore, spec pageSpec, opts domain.ListOptions, scan func(rowScanner) (T, error)) ([]T, bool, error) {
	var out []T
	var hasMore bool

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		listAsc := opts.Order == domain.ListOrderAsc
		where, args := spec.scope()

		if opts.After != "" {
			key, err := resolveCursor(ctx, tx, spec, opts.After)
			if err != nil {
				return err
			}
			cond, condArgs := keyCondition(listAsc, key)
			where += " AND " + cond
			args = append(args, condArgs...)
		}
		if opts.Before != "" {
			key, err := resolveCursor(ctx, tx, spec, opts.Before)
			if err != nil {
				return err
			}
			cond, condArgs := keyCondition(!listAsc, key)
			where += " AND " + cond
			args = append(args, condArgs...)
		}

		// Walk toward the "before" cursor only when it is the sole bound.
		reverse := opts.Before != "" && opts.After == ""
		scanAsc := listAsc != reverse
		dir := "DESC"
		if scanAsc {
			dir = "ASC"
		}

		query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY created_at %s, seq %s LIMIT ?`,
			spec.columns, spec.table, where, dir, dir)
		args = append(args, opts.Limit+1)

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			item, err := scan(rows)
			if err != nil {
				return err
			}
			out = append(out, item)
		}
		if err := rows.Err(); err != nil {
			return err
		}

		if len(out) > opts.Limit {
			hasMore = true
			out = out[:opts.Limit]
		}
		if reverse {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, hasMore, nil
}
