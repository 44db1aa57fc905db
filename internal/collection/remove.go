package collection

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/storage"
)

// IDList renders ids as an SQL list literal, e.g. "(1,2,3)".
func IDList(ids []int64) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(id, 10))
	}
	b.WriteByte(')')
	return b.String()
}

// IntList renders ints as an SQL list literal.
func IntList(vals []int) string {
	ids := make([]int64, len(vals))
	for i, v := range vals {
		ids[i] = int64(v)
	}
	return IDList(ids)
}

// RemoveNotes deletes notes together with their cards and leaves graves for
// the next sync.
func (c *Collection) RemoveNotes(ctx context.Context, tx *storage.Tx, nids []int64) error {
	if len(nids) == 0 {
		return nil
	}
	cids, err := tx.QueryInt64s(ctx, `SELECT id FROM cards WHERE nid IN `+IDList(nids))
	if err != nil {
		return fmt.Errorf("failed to find cards of removed notes: %w", err)
	}
	if err := c.removeCards(ctx, tx, cids); err != nil {
		return err
	}

	usn, err := c.Usn(ctx, tx)
	if err != nil {
		return err
	}
	if err := addGraves(ctx, tx, usn, nids, domain.GraveNote); err != nil {
		return err
	}
	if err := tx.Exec(ctx, `DELETE FROM notes WHERE id IN `+IDList(nids)); err != nil {
		return fmt.Errorf("failed to delete notes: %w", err)
	}
	return nil
}

// RemoveCards deletes cards and leaves graves for the next sync. Notes left
// without any card are removed as well.
func (c *Collection) RemoveCards(ctx context.Context, tx *storage.Tx, cids []int64) error {
	if len(cids) == 0 {
		return nil
	}
	nids, err := tx.QueryInt64s(ctx, `SELECT DISTINCT nid FROM cards WHERE id IN `+IDList(cids))
	if err != nil {
		return fmt.Errorf("failed to find notes of removed cards: %w", err)
	}
	if err := c.removeCards(ctx, tx, cids); err != nil {
		return err
	}
	if len(nids) == 0 {
		return nil
	}

	empty, err := tx.QueryInt64s(ctx,
		`SELECT id FROM notes WHERE id IN `+IDList(nids)+` AND id NOT IN (SELECT nid FROM cards)`)
	if err != nil {
		return fmt.Errorf("failed to find notes left without cards: %w", err)
	}
	return c.RemoveNotes(ctx, tx, empty)
}

func (c *Collection) removeCards(ctx context.Context, tx *storage.Tx, cids []int64) error {
	if len(cids) == 0 {
		return nil
	}
	usn, err := c.Usn(ctx, tx)
	if err != nil {
		return err
	}
	if err := addGraves(ctx, tx, usn, cids, domain.GraveCard); err != nil {
		return err
	}
	if err := tx.Exec(ctx, `DELETE FROM cards WHERE id IN `+IDList(cids)); err != nil {
		return fmt.Errorf("failed to delete cards: %w", err)
	}
	return nil
}

func addGraves(ctx context.Context, tx *storage.Tx, usn int, ids []int64, kind int) error {
	for _, id := range ids {
		if _, err := tx.ExecAffected(ctx, `INSERT INTO graves (usn, oid, type) VALUES (?, ?, ?)`, usn, id, kind); err != nil {
			return fmt.Errorf("failed to record grave for %d: %w", id, err)
		}
	}
	return nil
}
