package collection

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/storage"
)

// Models returns all note types ordered by id.
func (c *Collection) Models(ctx context.Context, tx *storage.Tx) ([]*domain.Model, error) {
	raw, err := tx.QueryString(ctx, `SELECT models FROM col`)
	if err != nil {
		return nil, fmt.Errorf("failed to read models: %w", err)
	}
	byID := make(map[string]*domain.Model)
	if err := decodeJSON(raw, &byID); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}

	models := make([]*domain.Model, 0, len(byID))
	for key, m := range byID {
		if m == nil {
			continue
		}
		if m.ID == 0 {
			// Older documents only carry the id in the key.
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid model id %q: %w", key, err)
			}
			m.ID = id
		}
		models = append(models, m)
	}
	sort.Slice(models, func(i, j int) bool { return models[i].ID < models[j].ID })
	return models, nil
}

// ModelIDs returns the ids of all note types.
func (c *Collection) ModelIDs(ctx context.Context, tx *storage.Tx) ([]int64, error) {
	models, err := c.Models(ctx, tx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// SaveModels stores the given note types, adding new ones and overwriting
// the typed keys of existing ones. Other note types and keys are kept.
func (c *Collection) SaveModels(ctx context.Context, tx *storage.Tx, models []*domain.Model) error {
	patches := make([]EntityPatch, 0, len(models))
	for _, m := range models {
		p, err := typedPatch(m.ID, m)
		if err != nil {
			return fmt.Errorf("failed to encode model %d: %w", m.ID, err)
		}
		patches = append(patches, p)
	}
	return c.PatchModels(ctx, tx, patches...)
}

// DefaultTemplate returns the template used to repair a note type that has
// none, showing the first field on the front.
func DefaultTemplate(m *domain.Model) domain.Template {
	front := "Front"
	if len(m.Fields) > 0 {
		front = m.Fields[0].Name
	}
	if m.IsCloze() {
		return domain.Template{
			Name: "Cloze",
			Ord:  0,
			Qfmt: "{{cloze:" + front + "}}",
			Afmt: "{{cloze:" + front + "}}",
		}
	}
	return domain.Template{
		Name: "Card 1",
		Ord:  0,
		Qfmt: "{{" + front + "}}",
		Afmt: "{{FrontSide}}\n\n<hr id=answer>\n\n{{Back}}",
	}
}

// DefaultFields returns the field set used to repair a note type that has none.
func DefaultFields(m *domain.Model) []domain.Field {
	if m.IsCloze() {
		return []domain.Field{{Name: "Text", Ord: 0}, {Name: "Back Extra", Ord: 1}}
	}
	return []domain.Field{{Name: "Front", Ord: 0}, {Name: "Back", Ord: 1}}
}
