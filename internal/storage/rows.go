package storage

import (
	"database/sql"
	"fmt"
	"iter"
)

// ScanFunc decodes the current row of a cursor.
type ScanFunc[T any] func(rows *sql.Rows) (T, error)

// RowError wraps a failure to decode a single row. The cursor is still
// usable after a RowError and the sequence continues with the next row.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Scan turns a cursor into a lazy sequence of decoded rows. A row that fails
// to decode is yielded as a *RowError and iteration goes on; an error from the
// cursor itself is yielded last. The rows are closed when iteration ends.
func Scan[T any](rows *sql.Rows, fn ScanFunc[T]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		defer rows.Close()

		var zero T
		for row := 0; rows.Next(); row++ {
			v, err := fn(rows)
			if err != nil {
				if !yield(zero, &RowError{Row: row, Err: err}) {
					return
				}
				continue
			}
			if !yield(v, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(zero, fmt.Errorf("failed to read rows: %w", err))
		}
	}
}
