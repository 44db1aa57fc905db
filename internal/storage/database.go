package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

// DefaultStmtCacheSize is the number of compiled statements kept per database.
const DefaultStmtCacheSize = 64

// DB represents a wrapper around the SQL database connection of one
// collection file.
type DB struct {
	conn  *sql.DB
	path  string
	stmts *lru.Cache[string, *sql.Stmt]
}

// Option configures a DB.
type Option func(*options)

type options struct {
	stmtCacheSize int
}

// WithStmtCacheSize sets how many compiled statements are cached.
func WithStmtCacheSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stmtCacheSize = n
		}
	}
}

// Open creates a new database connection and creates the schema if the file
// holds no collection yet.
func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	o := options{stmtCacheSize: DefaultStmtCacheSize}
	for _, opt := range opts {
		opt(&o)
	}

	conn, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(delete)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	stmts, err := lru.NewWithEvict(o.stmtCacheSize, func(_ string, stmt *sql.Stmt) {
		_ = stmt.Close()
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create statement cache: %w", err)
	}

	db := &DB{conn: conn, path: path, stmts: stmts}
	if err := db.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ensureSchema creates tables and indices for a fresh file. Existing files
// are left alone so that a damaged index catalog stays visible to callers.
func (db *DB) ensureSchema(ctx context.Context) error {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'col'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("failed to inspect schema: %w", err)
	}
	if n > 0 {
		return nil
	}
	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, indices); err != nil {
		return fmt.Errorf("failed to create indices: %w", err)
	}
	return nil
}

// Close closes the cached statements and the database connection.
func (db *DB) Close() error {
	db.stmts.Purge()
	return db.conn.Close()
}

// Path returns the file the database is stored in.
func (db *DB) Path() string {
	return db.path
}

// Size returns the current size of the database file in bytes.
func (db *DB) Size() (int64, error) {
	info, err := os.Stat(db.path)
	if err != nil {
		return 0, fmt.Errorf("failed to stat database file %s: %w", db.path, err)
	}
	return info.Size(), nil
}

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, db: db}, nil
}

// RunInTx executes fn within a transaction, committing when fn returns nil
// and rolling back otherwise.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *Tx) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Exec runs a statement outside of any transaction.
func (db *DB) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to execute statement: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file to reclaim free pages and refreshes the
// query planner statistics. SQLite refuses to vacuum inside a transaction.
func (db *DB) Vacuum(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("failed to vacuum database: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, "ANALYZE"); err != nil {
		return fmt.Errorf("failed to analyze database: %w", err)
	}
	return nil
}

// prepare returns a compiled statement for query, reusing a cached one when
// available.
func (db *DB) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := db.stmts.Get(query); ok {
		return stmt, nil
	}
	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	_ = db.stmts.Add(query, stmt)
	return stmt, nil
}
