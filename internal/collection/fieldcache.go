package collection

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/fieldcache"
	"github.com/conorfennell/knolfix/internal/parser"
	"github.com/conorfennell/knolfix/internal/storage"
)

type cachedNote struct {
	id   int64
	flds string
	sfld string
	csum int64
}

type cacheUpdate struct {
	id   int64
	sfld string
	csum int64
}

// UpdateFieldCache recomputes the sort field and checksum of every note using
// the note type and writes the ones that are stale. Notes whose fields cannot
// be decoded are skipped. It returns the number of notes updated.
func (c *Collection) UpdateFieldCache(ctx context.Context, tx *storage.Tx, m *domain.Model) (int, error) {
	rows, err := tx.Query(ctx, `SELECT id, flds, CAST(sfld AS TEXT), csum FROM notes WHERE mid = ?`, m.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to read notes of model %d: %w", m.ID, err)
	}

	var updates []cacheUpdate
	skipped := 0
	for n, err := range storage.Scan(rows, scanCachedNote) {
		if err != nil {
			var rowErr *storage.RowError
			if errors.As(err, &rowErr) {
				skipped++
				continue
			}
			return 0, fmt.Errorf("failed to scan notes of model %d: %w", m.ID, err)
		}
		fields, err := parser.ParseFields(n.flds)
		if err != nil {
			skipped++
			continue
		}
		sfld := fieldcache.SortField(fields, m.SortField)
		csum := fieldcache.Checksum(fields)
		if sfld != n.sfld || csum != n.csum {
			updates = append(updates, cacheUpdate{id: n.id, sfld: sfld, csum: csum})
		}
	}
	if skipped > 0 {
		slog.Warn("Skipped unreadable notes while updating field cache", "model_id", m.ID, "skipped", skipped)
	}

	for _, u := range updates {
		if _, err := tx.ExecAffected(ctx, `UPDATE notes SET sfld = ?, csum = ? WHERE id = ?`, u.sfld, u.csum, u.id); err != nil {
			return 0, fmt.Errorf("failed to update field cache of note %d: %w", u.id, err)
		}
	}
	return len(updates), nil
}

func scanCachedNote(r *sql.Rows) (cachedNote, error) {
	var n cachedNote
	var sfld sql.NullString
	if err := r.Scan(&n.id, &n.flds, &sfld, &n.csum); err != nil {
		return n, err
	}
	n.sfld = sfld.String
	return n, nil
}
