package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is an open transaction on a collection database. It provides the query
// primitives the repair phases are written against.
type Tx struct {
	tx *sql.Tx
	db *DB

	onCommit []func()
}

// OnCommit registers fn to run once the transaction has committed. It does
// not run when the transaction is rolled back or fails to commit.
func (t *Tx) OnCommit(fn func()) {
	t.onCommit = append(t.onCommit, fn)
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, fn := range t.onCommit {
		fn()
	}
	t.onCommit = nil
	return nil
}

// Rollback aborts the transaction.
func (t *Tx) Rollback() error {
	t.onCommit = nil
	if err := t.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to roll back transaction: %w", err)
	}
	return nil
}

// QueryScalar returns the first column of the first row as an integer. A NULL
// or missing row yields zero.
func (t *Tx) QueryScalar(ctx context.Context, query string, args ...any) (int64, error) {
	var v sql.NullInt64
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to query scalar: %w", err)
	}
	return v.Int64, nil
}

// QueryString returns the first column of the first row as a string.
func (t *Tx) QueryString(ctx context.Context, query string, args ...any) (string, error) {
	var v sql.NullString
	err := t.tx.QueryRowContext(ctx, query, args...).Scan(&v)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to query string: %w", err)
	}
	return v.String, nil
}

// QueryInt64s returns the first column of every row.
func (t *Tx) QueryInt64s(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query column: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan column row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read column rows: %w", err)
	}
	return out, nil
}

// Query runs a query and returns its cursor. The caller closes the rows.
func (t *Tx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	return rows, nil
}

// Exec runs a raw statement.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// ExecAffected runs an update or delete through a compiled statement and
// returns the number of rows it changed.
func (t *Tx) ExecAffected(ctx context.Context, query string, args ...any) (int64, error) {
	stmt, err := t.db.prepare(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to compile statement: %w", err)
	}
	res, err := t.tx.StmtContext(ctx, stmt).ExecContext(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to execute compiled statement: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// IntegrityOK runs SQLite's full integrity check. "ok" as the only result row
// means no corruption was detected.
func (t *Tx) IntegrityOK(ctx context.Context) (bool, error) {
	rows, err := t.tx.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return false, fmt.Errorf("failed to run integrity check: %w", err)
	}
	defer rows.Close()

	var results []string
	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return false, fmt.Errorf("failed to scan integrity check row: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("failed to read integrity check rows: %w", err)
	}
	return len(results) == 1 && results[0] == "ok", nil
}

// IndexCount returns the number of indices in the schema catalog.
func (t *Tx) IndexCount(ctx context.Context) (int64, error) {
	return t.QueryScalar(ctx, `SELECT count(name) FROM sqlite_master WHERE type = 'index'`)
}

// AddIndices creates any missing index of the expected set.
func (t *Tx) AddIndices(ctx context.Context) error {
	if err := t.Exec(ctx, indices); err != nil {
		return fmt.Errorf("failed to add indices: %w", err)
	}
	return nil
}
