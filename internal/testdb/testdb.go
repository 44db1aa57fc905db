// Package testdb builds collection fixtures on temporary SQLite files.
package testdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolfix/internal/collection"
	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/fieldcache"
	"github.com/conorfennell/knolfix/internal/parser"
	"github.com/conorfennell/knolfix/internal/storage"
)

// Now is the fixed wall-clock time fixtures are created at.
var Now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

// DefaultDeckID is the id of the deck every new collection starts with.
const DefaultDeckID = 1

// New creates an empty collection in a temporary directory. The collection is
// marked as synced so that tests can observe the schema-modified flag.
func New(t *testing.T, opts ...collection.Option) *collection.Collection {
	t.Helper()

	path := filepath.Join(t.TempDir(), "collection.db")
	opts = append([]collection.Option{collection.WithNow(func() time.Time { return Now })}, opts...)
	col, err := collection.Create(t.Context(), path, opts...)
	require.NoError(t, err, "failed to create collection")
	t.Cleanup(func() { col.Close() })

	require.NoError(t, col.MarkSynced(t.Context()), "failed to mark collection synced")
	return col
}

// BasicModel returns a standard two-field note type with two templates.
func BasicModel(id int64) *domain.Model {
	return &domain.Model{
		ID:   id,
		Name: "Basic (and reversed card)",
		Type: domain.ModelStandard,
		Templates: []domain.Template{
			{Name: "Card 1", Ord: 0, Qfmt: "{{Front}}", Afmt: "{{Back}}"},
			{Name: "Card 2", Ord: 1, Qfmt: "{{Back}}", Afmt: "{{Front}}"},
		},
		Fields: []domain.Field{{Name: "Front", Ord: 0}, {Name: "Back", Ord: 1}},
	}
}

// ClozeModel returns a cloze note type.
func ClozeModel(id int64) *domain.Model {
	return &domain.Model{
		ID:        id,
		Name:      "Cloze",
		Type:      domain.ModelCloze,
		Templates: []domain.Template{{Name: "Cloze", Ord: 0, Qfmt: "{{cloze:Text}}", Afmt: "{{cloze:Text}}"}},
		Fields:    []domain.Field{{Name: "Text", Ord: 0}, {Name: "Back Extra", Ord: 1}},
	}
}

// InTx runs fn in a committed transaction.
func InTx(t *testing.T, col *collection.Collection, fn func(ctx context.Context, tx *storage.Tx)) {
	t.Helper()
	ctx := t.Context()
	err := col.DB().RunInTx(ctx, func(tx *storage.Tx) error {
		fn(ctx, tx)
		return nil
	})
	require.NoError(t, err)
}

// AddModels adds note types to the collection.
func AddModels(t *testing.T, col *collection.Collection, models ...*domain.Model) {
	t.Helper()
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.SaveModels(ctx, tx, models))
	})
}

// AddDecks adds decks to the collection.
func AddDecks(t *testing.T, col *collection.Collection, decks ...*domain.Deck) {
	t.Helper()
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.SaveDecks(ctx, tx, decks))
	})
}

// AddNote inserts a note with an up-to-date field cache.
func AddNote(t *testing.T, col *collection.Collection, n domain.Note) {
	t.Helper()
	if n.GUID == "" {
		n.GUID = "guid-" + time.Unix(n.ID, 0).Format("150405")
	}
	sfld := fieldcache.SortField(n.Fields, 0)
	csum := fieldcache.Checksum(n.Fields)
	Exec(t, col, `
		INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
	`, n.ID, n.GUID, n.ModelID, Now.Unix(), n.Usn, parser.JoinTags(n.Tags), n.JoinedFields(), sfld, csum)
}

// AddCard inserts a card.
func AddCard(t *testing.T, col *collection.Collection, c domain.Card) {
	t.Helper()
	if c.DeckID == 0 {
		c.DeckID = DefaultDeckID
	}
	Exec(t, col, `
		INSERT INTO cards (id, nid, did, ord, mod, usn, type, queue, due, ivl, factor, reps, lapses, left, odue, odid, flags, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, '')
	`, c.ID, c.NoteID, c.DeckID, c.Ord, Now.Unix(), c.Usn, c.Type, c.Queue, c.Due, c.Ivl,
		c.Factor, c.Reps, c.Lapses, c.Left, c.ODue, c.ODeckID)
}

// AddReviewLog inserts a review log entry.
func AddReviewLog(t *testing.T, col *collection.Collection, r domain.ReviewLog) {
	t.Helper()
	Exec(t, col, `
		INSERT INTO revlog (id, cid, usn, ease, ivl, lastIvl, factor, time, type)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CardID, r.Usn, r.Ease, r.Ivl, r.LastIvl, r.Factor, r.Time, r.Type)
}

// AddNoteWithCards inserts a note of a standard model and one new card per
// template ordinal given.
func AddNoteWithCards(t *testing.T, col *collection.Collection, nid, mid int64, fields []string, ords ...int) {
	t.Helper()
	AddNote(t, col, domain.Note{ID: nid, ModelID: mid, Fields: fields})
	for i, ord := range ords {
		AddCard(t, col, domain.Card{
			ID:     nid*100 + int64(i),
			NoteID: nid,
			Ord:    ord,
			Type:   domain.CardTypeNew,
			Queue:  domain.QueueNew,
			Due:    float64(nid),
		})
	}
}

// Exec runs a raw statement against the collection.
func Exec(t *testing.T, col *collection.Collection, query string, args ...any) {
	t.Helper()
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, tx.Exec(ctx, query, args...))
	})
}

// Scalar runs a query returning a single integer.
func Scalar(t *testing.T, col *collection.Collection, query string, args ...any) int64 {
	t.Helper()
	var v int64
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		var err error
		v, err = tx.QueryScalar(ctx, query, args...)
		require.NoError(t, err)
	})
	return v
}

// String runs a query returning a single text value.
func String(t *testing.T, col *collection.Collection, query string, args ...any) string {
	t.Helper()
	var v string
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		var err error
		v, err = tx.QueryString(ctx, query, args...)
		require.NoError(t, err)
	})
	return v
}

// Int64s runs a query returning a single column.
func Int64s(t *testing.T, col *collection.Collection, query string, args ...any) []int64 {
	t.Helper()
	var v []int64
	InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		var err error
		v, err = tx.QueryInt64s(ctx, query, args...)
		require.NoError(t, err)
	})
	return v
}
