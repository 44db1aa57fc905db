package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "collection.db"), WithStmtCacheSize(2))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesSchemaAndIndices(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, func(tx *Tx) error {
		n, err := tx.IndexCount(ctx)
		if err != nil {
			return err
		}
		if n != ExpectedIndexCount {
			t.Errorf("Expected %d indices, got %d", ExpectedIndexCount, n)
		}
		tables, err := tx.QueryScalar(ctx, `SELECT count(*) FROM sqlite_master WHERE type = 'table'`)
		if err != nil {
			return err
		}
		if tables != 5 {
			t.Errorf("Expected 5 tables, got %d", tables)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestReopenKeepsDroppedIndicesDropped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collection.db")
	ctx := context.Background()

	db, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := db.Exec(ctx, "DROP INDEX ix_notes_usn"); err != nil {
		t.Fatalf("Exec failed: %v", err)
	}
	db.Close()

	db, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db.Close()

	err = db.RunInTx(ctx, func(tx *Tx) error {
		n, err := tx.IndexCount(ctx)
		if err != nil {
			return err
		}
		if n != ExpectedIndexCount-1 {
			t.Errorf("Expected %d indices after reopen, got %d", ExpectedIndexCount-1, n)
		}
		if err := tx.AddIndices(ctx); err != nil {
			return err
		}
		n, err = tx.IndexCount(ctx)
		if err != nil {
			return err
		}
		if n != ExpectedIndexCount {
			t.Errorf("Expected %d indices after AddIndices, got %d", ExpectedIndexCount, n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := db.RunInTx(ctx, func(tx *Tx) error {
		if err := tx.Exec(ctx, `INSERT INTO graves (usn, oid, type) VALUES (0, 1, 0)`); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Expected errBoom, got %v", err)
	}

	err = db.RunInTx(ctx, func(tx *Tx) error {
		n, err := tx.QueryScalar(ctx, `SELECT count(*) FROM graves`)
		if err != nil {
			return err
		}
		if n != 0 {
			t.Errorf("Expected rolled back insert, found %d graves", n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestOnCommitRunsOnlyAfterCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name string
		fail bool
		want bool
	}{
		{"committed", false, true},
		{"rolled back", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			err := db.RunInTx(ctx, func(tx *Tx) error {
				tx.OnCommit(func() { ran = true })
				if ran {
					t.Errorf("Hook ran before commit")
				}
				if tt.fail {
					return errors.New("boom")
				}
				return nil
			})
			if (err != nil) != tt.fail {
				t.Fatalf("RunInTx error = %v, want failure %v", err, tt.fail)
			}
			if ran != tt.want {
				t.Errorf("Hook ran = %v, want %v", ran, tt.want)
			}
		})
	}
}

func TestExecAffectedCountsRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, func(tx *Tx) error {
		for i := 1; i <= 3; i++ {
			if err := tx.Exec(ctx, `INSERT INTO graves (usn, oid, type) VALUES (0, ?, 0)`, i); err != nil {
				return err
			}
		}
		// Run more distinct statements than the cache holds to exercise eviction.
		queries := []string{
			`UPDATE graves SET usn = 1 WHERE oid > ?`,
			`UPDATE graves SET usn = 2 WHERE oid > ?`,
			`UPDATE graves SET usn = 3 WHERE oid > ?`,
			`UPDATE graves SET usn = 1 WHERE oid > ?`,
		}
		for _, q := range queries {
			n, err := tx.ExecAffected(ctx, q, 1)
			if err != nil {
				return err
			}
			if n != 2 {
				t.Errorf("Expected 2 affected rows for %q, got %d", q, n)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestQueryHelpers(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, func(tx *Tx) error {
		maxOid, err := tx.QueryScalar(ctx, `SELECT max(oid) FROM graves`)
		if err != nil {
			return err
		}
		if maxOid != 0 {
			t.Errorf("Expected NULL scalar to read as 0, got %d", maxOid)
		}

		for _, oid := range []int{5, 3, 9} {
			if err := tx.Exec(ctx, `INSERT INTO graves (usn, oid, type) VALUES (0, ?, 1)`, oid); err != nil {
				return err
			}
		}
		ids, err := tx.QueryInt64s(ctx, `SELECT oid FROM graves ORDER BY oid`)
		if err != nil {
			return err
		}
		if len(ids) != 3 || ids[0] != 3 || ids[2] != 9 {
			t.Errorf("Unexpected column result %v", ids)
		}

		s, err := tx.QueryString(ctx, `SELECT 'hello'`)
		if err != nil {
			return err
		}
		if s != "hello" {
			t.Errorf("Expected 'hello', got %q", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestIntegrityOK(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, func(tx *Tx) error {
		ok, err := tx.IntegrityOK(ctx)
		if err != nil {
			return err
		}
		if !ok {
			t.Error("Expected a fresh database to pass the integrity check")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestScanSkipsBadRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTx(ctx, func(tx *Tx) error {
		for oid := 1; oid <= 4; oid++ {
			if err := tx.Exec(ctx, `INSERT INTO graves (usn, oid, type) VALUES (0, ?, 0)`, oid); err != nil {
				return err
			}
		}
		rows, err := tx.Query(ctx, `SELECT oid FROM graves ORDER BY oid`)
		if err != nil {
			return err
		}

		errOdd := errors.New("odd row")
		var good []int64
		var rowErrs int
		for v, err := range Scan(rows, func(r *sql.Rows) (int64, error) {
			var oid int64
			if err := r.Scan(&oid); err != nil {
				return 0, err
			}
			if oid%2 == 1 {
				return 0, errOdd
			}
			return oid, nil
		}) {
			if err != nil {
				var rowErr *RowError
				if !errors.As(err, &rowErr) || !errors.Is(err, errOdd) {
					t.Errorf("Expected a RowError wrapping errOdd, got %v", err)
				}
				rowErrs++
				continue
			}
			good = append(good, v)
		}

		if rowErrs != 2 {
			t.Errorf("Expected 2 row errors, got %d", rowErrs)
		}
		if len(good) != 2 || good[0] != 2 || good[1] != 4 {
			t.Errorf("Expected rows [2 4], got %v", good)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx failed: %v", err)
	}
}

func TestVacuumAndSize(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	before, err := db.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}
	if before <= 0 {
		t.Fatalf("Expected a non-empty file, got %d bytes", before)
	}
	if err := db.Vacuum(ctx); err != nil {
		t.Fatalf("Vacuum failed: %v", err)
	}
}
