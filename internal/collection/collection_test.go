package collection_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolfix/internal/collection"
	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/fieldcache"
	"github.com/conorfennell/knolfix/internal/storage"
	"github.com/conorfennell/knolfix/internal/testdb"
)

func TestOpen(t *testing.T) {
	ctx := t.Context()

	t.Run("missing collection row", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.db")
		_, err := collection.Open(ctx, path)
		if !errors.Is(err, collection.ErrNoCollection) {
			t.Fatalf("expected ErrNoCollection, got %v", err)
		}
	})

	t.Run("create twice", func(t *testing.T) {
		col := testdb.New(t)
		_, err := collection.Create(ctx, col.Path())
		if !errors.Is(err, collection.ErrCollectionExists) {
			t.Fatalf("expected ErrCollectionExists, got %v", err)
		}
	})

	t.Run("reopen", func(t *testing.T) {
		col := testdb.New(t)
		path := col.Path()
		require.NoError(t, col.Close())

		reopened, err := collection.Open(ctx, path)
		require.NoError(t, err)
		defer reopened.Close()
		if reopened.Path() != path {
			t.Errorf("Path() = %q, want %q", reopened.Path(), path)
		}
	})
}

func TestConf(t *testing.T) {
	col := testdb.New(t)

	col.SetConf("nextPos", 42)
	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.Save(ctx, tx))
		require.NoError(t, col.PutConf(ctx, tx, "sortType", "noteFld"))
	})

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		n, ok, err := col.ConfInt(ctx, tx, "nextPos")
		require.NoError(t, err)
		if !ok || n != 42 {
			t.Errorf("ConfInt(nextPos) = %d, %v; want 42, true", n, ok)
		}

		_, ok, err = col.ConfInt(ctx, tx, "missing")
		require.NoError(t, err)
		if ok {
			t.Error("expected missing key to be reported absent")
		}

		_, _, err = col.ConfInt(ctx, tx, "sortType")
		if err == nil {
			t.Error("expected an error for a non-numeric value")
		}
	})
}

func TestSaveKeepsPendingConfUntilCommit(t *testing.T) {
	col := testdb.New(t)
	ctx := t.Context()
	errBoom := errors.New("boom")

	col.SetConf("nextPos", 42)
	err := col.DB().RunInTx(ctx, func(tx *storage.Tx) error {
		if err := col.Save(ctx, tx); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected errBoom, got %v", err)
	}

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.Save(ctx, tx))
	})
	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		n, ok, err := col.ConfInt(ctx, tx, "nextPos")
		require.NoError(t, err)
		if !ok || n != 42 {
			t.Errorf("ConfInt(nextPos) = %d, %v; want 42, true", n, ok)
		}
	})
}

func TestSchemaModified(t *testing.T) {
	col := testdb.New(t)
	ctx := t.Context()

	modified, err := col.SchemaModified(ctx)
	require.NoError(t, err)
	if modified {
		t.Fatal("expected a synced collection to be unmodified")
	}

	require.NoError(t, col.ModSchema(ctx))
	modified, err = col.SchemaModified(ctx)
	require.NoError(t, err)
	if !modified {
		t.Fatal("expected ModSchema to mark the schema modified")
	}

	require.NoError(t, col.MarkSynced(ctx))
	modified, err = col.SchemaModified(ctx)
	require.NoError(t, err)
	if modified {
		t.Fatal("expected MarkSynced to clear the schema state")
	}
}

func TestModelsAndDecks(t *testing.T) {
	col := testdb.New(t)
	testdb.AddModels(t, col, testdb.ClozeModel(200), testdb.BasicModel(100))
	testdb.AddDecks(t, col, &domain.Deck{ID: 5, Name: "Filtered", Dyn: 1})

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		ids, err := col.ModelIDs(ctx, tx)
		require.NoError(t, err)
		if diff := cmp.Diff([]int64{100, 200}, ids); diff != "" {
			t.Errorf("model ids mismatch (-want +got):\n%s", diff)
		}

		dids, err := col.NonDynamicDeckIDs(ctx, tx)
		require.NoError(t, err)
		if diff := cmp.Diff([]int64{testdb.DefaultDeckID}, dids); diff != "" {
			t.Errorf("regular deck ids mismatch (-want +got):\n%s", diff)
		}
	})

	// Older documents only carry the id in the key.
	testdb.Exec(t, col, `UPDATE col SET models = '{"7": {"name": "Legacy", "type": 0}}'`)
	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		ids, err := col.ModelIDs(ctx, tx)
		require.NoError(t, err)
		if diff := cmp.Diff([]int64{7}, ids); diff != "" {
			t.Errorf("legacy model ids mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPatchKeepsUnknownKeys(t *testing.T) {
	col := testdb.New(t)
	testdb.AddModels(t, col, testdb.BasicModel(100))
	testdb.AddDecks(t, col, &domain.Deck{ID: 5, Name: "Filtered", Dyn: 1})
	testdb.Exec(t, col, `UPDATE col SET models = json_set(models, '$."100".css', '.card {}', '$."100".tmpls[0].did', 9)`)
	testdb.Exec(t, col, `UPDATE col SET decks = json_set(decks, '$."5".conf', 1, '$."5".terms', json('[["is:due", 10, 0]]'))`)

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.PatchModels(ctx, tx, collection.EntityPatch{ID: 100, Set: map[string]any{"usn": 3}}))
		require.NoError(t, col.PatchDecks(ctx, tx, collection.EntityPatch{ID: 5, Remove: []string{"conf"}}))
		require.NoError(t, col.SaveDecks(ctx, tx, []*domain.Deck{{ID: 6, Name: "New"}}))
	})

	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"model css", `SELECT json_extract(models, '$."100".css') FROM col`, ".card {}"},
		{"template deck", `SELECT json_extract(models, '$."100".tmpls[0].did') FROM col`, "9"},
		{"model usn", `SELECT json_extract(models, '$."100".usn') FROM col`, "3"},
		{"model name", `SELECT json_extract(models, '$."100".name') FROM col`, "Basic (and reversed card)"},
		{"deck terms", `SELECT json_extract(decks, '$."5".terms[0][0]') FROM col`, "is:due"},
		{"deck conf", `SELECT coalesce(json_type(decks, '$."5".conf'), 'absent') FROM col`, "absent"},
		{"default deck", `SELECT json_extract(decks, '$."1".name') FROM col`, "Default"},
		{"added deck", `SELECT json_extract(decks, '$."6".name') FROM col`, "New"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testdb.String(t, col, tt.query); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	tests := []struct {
		name     string
		model    *domain.Model
		template domain.Template
		fields   []string
	}{
		{
			name:     "standard",
			model:    &domain.Model{Type: domain.ModelStandard, Fields: []domain.Field{{Name: "Word"}}},
			template: domain.Template{Name: "Card 1", Qfmt: "{{Word}}", Afmt: "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}"},
			fields:   []string{"Front", "Back"},
		},
		{
			name:     "cloze",
			model:    &domain.Model{Type: domain.ModelCloze},
			template: domain.Template{Name: "Cloze", Qfmt: "{{cloze:Front}}", Afmt: "{{cloze:Front}}"},
			fields:   []string{"Text", "Back Extra"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.template, collection.DefaultTemplate(tt.model)); diff != "" {
				t.Errorf("template mismatch (-want +got):\n%s", diff)
			}
			var names []string
			for _, f := range collection.DefaultFields(tt.model) {
				names = append(names, f.Name)
			}
			if diff := cmp.Diff(tt.fields, names); diff != "" {
				t.Errorf("fields mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRemoveNotes(t *testing.T) {
	col := testdb.New(t)
	testdb.AddModels(t, col, testdb.BasicModel(100))
	testdb.AddNoteWithCards(t, col, 1, 100, []string{"a", "b"}, 0, 1)
	testdb.AddNoteWithCards(t, col, 2, 100, []string{"c", "d"}, 0)

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.RemoveNotes(ctx, tx, []int64{1}))
	})

	if diff := cmp.Diff([]int64{200}, testdb.Int64s(t, col, `SELECT id FROM cards`)); diff != "" {
		t.Errorf("remaining cards mismatch (-want +got):\n%s", diff)
	}
	graves := testdb.Int64s(t, col, `SELECT oid FROM graves ORDER BY type, oid`)
	if diff := cmp.Diff([]int64{100, 101, 1}, graves); diff != "" {
		t.Errorf("graves mismatch (-want +got):\n%s", diff)
	}
}

func TestRemoveCards(t *testing.T) {
	col := testdb.New(t)
	testdb.AddModels(t, col, testdb.BasicModel(100))
	testdb.AddNoteWithCards(t, col, 1, 100, []string{"a", "b"}, 0, 1)
	testdb.AddNoteWithCards(t, col, 2, 100, []string{"c", "d"}, 0)

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		require.NoError(t, col.RemoveCards(ctx, tx, []int64{100, 200}))
	})

	if diff := cmp.Diff([]int64{1}, testdb.Int64s(t, col, `SELECT id FROM notes`)); diff != "" {
		t.Errorf("remaining notes mismatch (-want +got):\n%s", diff)
	}
	if n := testdb.Scalar(t, col, `SELECT count(*) FROM graves WHERE type = ?`, domain.GraveNote); n != 1 {
		t.Errorf("expected one note grave, got %d", n)
	}
}

func TestRegisterNotes(t *testing.T) {
	col := testdb.New(t)
	testdb.AddModels(t, col, testdb.BasicModel(100))
	testdb.Exec(t, col, `UPDATE col SET tags = '{"verbs": 3, "unused": 1}', usn = 9`)
	testdb.AddNote(t, col, domain.Note{ID: 1, ModelID: 100, Fields: []string{"a", "b"}, Tags: []string{"Verbs", "nouns"}})
	testdb.AddNote(t, col, domain.Note{ID: 2, ModelID: 100, Fields: []string{"c", "d"}, Tags: []string{"VERBS"}})

	var changed bool
	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		var err error
		changed, err = col.RegisterNotes(ctx, tx)
		require.NoError(t, err)
	})
	require.True(t, changed)

	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		tags, err := col.TagRegistry(ctx, tx)
		require.NoError(t, err)
		if diff := cmp.Diff(map[string]int{"verbs": 3, "nouns": 9}, tags); diff != "" {
			t.Errorf("registry mismatch (-want +got):\n%s", diff)
		}

		changed, err := col.RegisterNotes(ctx, tx)
		require.NoError(t, err)
		if changed {
			t.Error("expected a rebuilt registry to be stable")
		}
	})
}

func TestUpdateFieldCache(t *testing.T) {
	col := testdb.New(t)
	m := testdb.BasicModel(100)
	m.SortField = 1
	testdb.AddModels(t, col, m)
	testdb.AddNote(t, col, domain.Note{ID: 1, ModelID: 100, Fields: []string{"<i>front</i>", "back"}})
	testdb.Exec(t, col, `
		INSERT INTO notes (id, guid, mid, mod, usn, tags, flds, sfld, csum, flags, data)
		VALUES (2, 'broken', 100, 0, 0, '', X'FE', '', 0, 0, '')
	`)

	var updated int
	testdb.InTx(t, col, func(ctx context.Context, tx *storage.Tx) {
		var err error
		updated, err = col.UpdateFieldCache(ctx, tx, m)
		require.NoError(t, err)
	})

	if updated != 1 {
		t.Errorf("expected one note updated, got %d", updated)
	}
	want := fieldcache.Checksum([]string{"front", "back"})
	if n := testdb.Scalar(t, col, `SELECT count(*) FROM notes WHERE id = 1 AND sfld = 'back' AND csum = ?`, want); n != 1 {
		t.Error("expected sort field and checksum to be refreshed")
	}
}
