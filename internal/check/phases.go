package check

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/conorfennell/knolfix/internal/collection"
	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/parser"
	"github.com/conorfennell/knolfix/internal/sched"
	"github.com/conorfennell/knolfix/internal/storage"
)

// phases lists the repair steps in execution order. Template and field count
// checks are repeated for every note type of the snapshot.
func (s *session) phases() []phase {
	phases := []phase{{name: "notes-missing-model", fn: s.notesWithMissingModel}}
	for _, m := range s.models {
		phases = append(phases,
			phase{name: fmt.Sprintf("cards-invalid-ordinal:%d", m.ID), fn: s.cardsWithInvalidOrdinal(m)},
			phase{name: fmt.Sprintf("notes-wrong-field-count:%d", m.ID), fn: s.notesWithWrongFieldCount(m)},
		)
	}
	return append(phases,
		phase{name: "notes-missing-cards", fn: s.notesWithoutCards},
		phase{name: "cards-missing-notes", fn: s.cardsWithoutNotes},
		phase{name: "odue-invalid", fn: s.invalidOriginalDue},
		phase{name: "odid-on-regular-deck", fn: s.originalDeckOnRegularDeck},
		phase{name: "dynamic-deck-options", fn: s.dynamicDeckOptions},
		phase{name: "tag-registry", fn: s.rebuildTagRegistry},
		phase{name: "field-cache", fn: s.rebuildFieldCache},
		phase{name: "new-card-due-overflow", fn: s.newCardDueOverflow},
		phase{name: "next-position", fn: s.resetNextPosition},
		phase{name: "review-due-overflow", fn: s.reviewDueOverflow},
		phase{name: "decimal-card-fields", fn: s.decimalCardFields},
		phase{name: "decimal-revlog-fields", fn: s.decimalReviewLogFields},
		phase{name: "indices", fn: s.restoreIndices},
		phase{name: "empty-models", fn: s.emptyModels},
	)
}

func (s *session) notesWithMissingModel(ctx context.Context, tx *storage.Tx) error {
	mids, err := s.col.ModelIDs(ctx, tx)
	if err != nil {
		return err
	}
	nids, err := tx.QueryInt64s(ctx, `SELECT id FROM notes WHERE mid NOT IN `+collection.IDList(mids))
	if err != nil {
		return fmt.Errorf("failed to find notes with missing note type: %w", err)
	}
	if len(nids) == 0 {
		return nil
	}
	if err := s.col.RemoveNotes(ctx, tx, nids); err != nil {
		return err
	}
	s.problems.addf("Deleted %d note(s) with missing note type.", len(nids))
	return nil
}

// cardsWithInvalidOrdinal deletes cards of a standard note type whose ordinal
// matches no template. Cloze ordinals are open-ended and left alone, as are
// note types without templates, which emptyModels repairs.
func (s *session) cardsWithInvalidOrdinal(m *domain.Model) func(context.Context, *storage.Tx) error {
	return func(ctx context.Context, tx *storage.Tx) error {
		if m.IsCloze() || len(m.Templates) == 0 {
			return nil
		}
		cids, err := tx.QueryInt64s(ctx, `
			SELECT id FROM cards
			WHERE ord NOT IN `+collection.IntList(m.TemplateOrds())+`
			AND nid IN (SELECT id FROM notes WHERE mid = ?)
		`, m.ID)
		if err != nil {
			return fmt.Errorf("failed to find cards with missing template: %w", err)
		}
		if len(cids) == 0 {
			return nil
		}
		if err := s.col.RemoveCards(ctx, tx, cids); err != nil {
			return err
		}
		s.problems.addf("Deleted %d card(s) with missing template.", len(cids))
		return nil
	}
}

type fieldCount struct {
	nid   int64
	count int
}

func scanFieldCount(r *sql.Rows) (fieldCount, error) {
	var (
		fc   fieldCount
		flds string
	)
	if err := r.Scan(&fc.nid, &flds); err != nil {
		return fc, err
	}
	n, err := parser.CountFields(flds)
	if err != nil {
		return fc, fmt.Errorf("note %d: %w", fc.nid, err)
	}
	fc.count = n
	return fc, nil
}

// notesWithWrongFieldCount deletes notes whose field count differs from their
// note type. Rows that cannot be decoded are skipped and reported once.
func (s *session) notesWithWrongFieldCount(m *domain.Model) func(context.Context, *storage.Tx) error {
	return func(ctx context.Context, tx *storage.Tx) error {
		s.progress.advance()
		if len(m.Fields) == 0 {
			return nil
		}

		rows, err := tx.Query(ctx, `SELECT id, flds FROM notes WHERE mid = ?`, m.ID)
		if err != nil {
			return fmt.Errorf("failed to read notes of note type %d: %w", m.ID, err)
		}

		var (
			nids     []int64
			skipped  int
			rowFault error
		)
		for fc, err := range storage.Scan(rows, scanFieldCount) {
			if err != nil {
				var rowErr *storage.RowError
				if !errors.As(err, &rowErr) {
					return err
				}
				skipped++
				if rowFault == nil {
					rowFault = err
				}
				continue
			}
			if fc.count != len(m.Fields) {
				nids = append(nids, fc.nid)
			}
		}
		if rowFault != nil {
			s.log.Warn("Skipped unreadable notes", "model", m.ID, "skipped", skipped, "error", rowFault)
			s.telemetry.ReportException(rowFault, "check:notes-wrong-field-count")
		}

		if len(nids) == 0 {
			return nil
		}
		if err := s.col.RemoveNotes(ctx, tx, nids); err != nil {
			return err
		}
		s.problems.addf("Deleted %d note(s) with wrong field count.", len(nids))
		return nil
	}
}

func (s *session) notesWithoutCards(ctx context.Context, tx *storage.Tx) error {
	nids, err := tx.QueryInt64s(ctx, `SELECT id FROM notes WHERE id NOT IN (SELECT DISTINCT nid FROM cards)`)
	if err != nil {
		return fmt.Errorf("failed to find notes without cards: %w", err)
	}
	if len(nids) == 0 {
		return nil
	}
	if err := s.col.RemoveNotes(ctx, tx, nids); err != nil {
		return err
	}
	s.problems.addf("Deleted %d note(s) with missing no cards.", len(nids))
	return nil
}

func (s *session) cardsWithoutNotes(ctx context.Context, tx *storage.Tx) error {
	cids, err := tx.QueryInt64s(ctx, `SELECT id FROM cards WHERE nid NOT IN (SELECT id FROM notes)`)
	if err != nil {
		return fmt.Errorf("failed to find cards without notes: %w", err)
	}
	if len(cids) == 0 {
		return nil
	}
	if err := s.col.RemoveCards(ctx, tx, cids); err != nil {
		return err
	}
	s.problems.addf("Deleted %d card(s) with missing note.", len(cids))
	return nil
}

// invalidOriginalDue clears odue on learning and review cards that are not
// in a filtered deck.
func (s *session) invalidOriginalDue(ctx context.Context, tx *storage.Tx) error {
	n, err := tx.ExecAffected(ctx, `
		UPDATE cards SET odue = 0
		WHERE odue > 0 AND (type = ? OR queue = ?) AND odid = 0
	`, domain.CardTypeLearn, domain.QueueReview)
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Fixed %d card(s) with invalid properties.", n)
	}
	return nil
}

// originalDeckOnRegularDeck clears the filtered deck bookkeeping of cards
// that sit in a regular deck.
func (s *session) originalDeckOnRegularDeck(ctx context.Context, tx *storage.Tx) error {
	dids, err := s.col.NonDynamicDeckIDs(ctx, tx)
	if err != nil {
		return err
	}
	n, err := tx.ExecAffected(ctx,
		`UPDATE cards SET odid = 0, odue = 0 WHERE odid > 0 AND did IN `+collection.IDList(dids))
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Fixed %d card(s) with invalid properties.", n)
	}
	return nil
}

func (s *session) dynamicDeckOptions(ctx context.Context, tx *storage.Tx) error {
	decks, err := s.col.Decks(ctx, tx)
	if err != nil {
		return err
	}
	var patches []collection.EntityPatch
	for _, d := range decks {
		if d.IsDynamic() && d.Conf != nil {
			patches = append(patches, collection.EntityPatch{ID: d.ID, Remove: []string{"conf"}})
		}
	}
	if len(patches) == 0 {
		return nil
	}
	if err := s.stamp(ctx, tx, patches); err != nil {
		return err
	}
	if err := s.col.PatchDecks(ctx, tx, patches...); err != nil {
		return err
	}
	s.problems.addf("%d dynamic deck(s) had deck options.", len(patches))
	return nil
}

// stamp marks patched entities as locally modified.
func (s *session) stamp(ctx context.Context, tx *storage.Tx, patches []collection.EntityPatch) error {
	usn, err := s.col.Usn(ctx, tx)
	if err != nil {
		return err
	}
	mod := s.col.Now().Unix()
	for i := range patches {
		if patches[i].Set == nil {
			patches[i].Set = make(map[string]any)
		}
		patches[i].Set["mod"] = mod
		patches[i].Set["usn"] = usn
	}
	return nil
}

func (s *session) rebuildTagRegistry(ctx context.Context, tx *storage.Tx) error {
	changed, err := s.col.RegisterNotes(ctx, tx)
	if err != nil {
		return err
	}
	if changed {
		s.log.Debug("Tag registry rebuilt")
	}
	return nil
}

func (s *session) rebuildFieldCache(ctx context.Context, tx *storage.Tx) error {
	for _, m := range s.models {
		s.progress.advance()
		n, err := s.col.UpdateFieldCache(ctx, tx, m)
		if err != nil {
			return err
		}
		if n > 0 {
			s.log.Debug("Field cache updated", "model", m.ID, "notes", n)
		}
	}
	return nil
}

func (s *session) newCardDueOverflow(ctx context.Context, tx *storage.Tx) error {
	usn, err := s.col.Usn(ctx, tx)
	if err != nil {
		return err
	}
	n, err := tx.ExecAffected(ctx, `
		UPDATE cards SET due = ?, mod = ?, usn = ?
		WHERE due > ? AND type = ?
	`, sched.MaxNewDue, s.col.Now().Unix(), usn, sched.MaxNewDue, domain.CardTypeNew)
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Fixed %d new card(s) with due position overflow.", n)
	}
	return nil
}

// resetNextPosition points the new card counter past the highest new card
// position.
func (s *session) resetNextPosition(ctx context.Context, tx *storage.Tx) error {
	next, err := tx.QueryScalar(ctx,
		`SELECT CAST(COALESCE(max(due), 0) AS INTEGER) + 1 FROM cards WHERE type = ?`, domain.CardTypeNew)
	if err != nil {
		return fmt.Errorf("failed to find highest new card position: %w", err)
	}
	current, ok, err := s.col.ConfInt(ctx, tx, "nextPos")
	if err != nil {
		s.log.Warn("Replacing unreadable nextPos", "error", err)
	} else if ok && current == next {
		return nil
	}
	return s.col.PutConf(ctx, tx, "nextPos", next)
}

// reviewDueOverflow moves review cards with an absurd due day to today.
func (s *session) reviewDueOverflow(ctx context.Context, tx *storage.Tx) error {
	usn, err := s.col.Usn(ctx, tx)
	if err != nil {
		return err
	}
	n, err := tx.ExecAffected(ctx, `
		UPDATE cards SET due = ?, ivl = 1, mod = ?, usn = ?
		WHERE queue = ? AND due > ?
	`, s.col.Today(), s.col.Now().Unix(), usn, domain.QueueReview, sched.MaxReviewDue)
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Reviews had incorrect due date.")
	}
	return nil
}

func (s *session) decimalCardFields(ctx context.Context, tx *storage.Tx) error {
	n, err := tx.ExecAffected(ctx, `
		UPDATE cards SET ivl = round(ivl), due = round(due)
		WHERE ivl != round(ivl) OR due != round(due)
	`)
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Fixed %d cards with v2 scheduler bug.", n)
	}
	return nil
}

func (s *session) decimalReviewLogFields(ctx context.Context, tx *storage.Tx) error {
	n, err := tx.ExecAffected(ctx, `
		UPDATE revlog SET ivl = round(ivl), lastIvl = round(lastIvl)
		WHERE ivl != round(ivl) OR lastIvl != round(lastIvl)
	`)
	if err != nil {
		return err
	}
	if n > 0 {
		s.problems.addf("Fixed %d review history entries with v2 scheduler bug.", n)
	}
	return nil
}

func (s *session) restoreIndices(ctx context.Context, tx *storage.Tx) error {
	n, err := tx.IndexCount(ctx)
	if err != nil {
		return err
	}
	if n >= storage.ExpectedIndexCount {
		return nil
	}
	s.log.Info("Recreating missing indices", "found", n, "expected", storage.ExpectedIndexCount)
	if err := tx.AddIndices(ctx); err != nil {
		return err
	}
	s.problems.addf("Indices were missing.")
	return nil
}

// emptyModels gives note types without templates or fields a default set so
// that they can be edited again.
func (s *session) emptyModels(ctx context.Context, tx *storage.Tx) error {
	models, err := s.col.Models(ctx, tx)
	if err != nil {
		return err
	}
	var patches []collection.EntityPatch
	for _, m := range models {
		if len(m.Templates) > 0 && len(m.Fields) > 0 {
			continue
		}
		p := collection.EntityPatch{ID: m.ID, Set: make(map[string]any)}
		if len(m.Fields) == 0 {
			m.Fields = collection.DefaultFields(m)
			p.Set["flds"] = m.Fields
		}
		if len(m.Templates) == 0 {
			m.Templates = []domain.Template{collection.DefaultTemplate(m)}
			p.Set["tmpls"] = m.Templates
		}
		patches = append(patches, p)
	}
	if len(patches) == 0 {
		return nil
	}
	if err := s.stamp(ctx, tx, patches); err != nil {
		return err
	}
	if err := s.col.PatchModels(ctx, tx, patches...); err != nil {
		return err
	}
	s.problems.addf("Fixed %d note type(s) with no templates or fields.", len(patches))
	return nil
}
