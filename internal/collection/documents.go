package collection

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/conorfennell/knolfix/internal/storage"
)

// EntityPatch changes top-level keys of one entry in a JSON document column.
// Keys it does not name are written back byte for byte.
type EntityPatch struct {
	ID     int64
	Set    map[string]any
	Remove []string
}

// document is a col column keyed by entity id, with each entity kept as raw
// values so that keys without a typed counterpart survive a rewrite.
type document map[string]map[string]json.RawMessage

// PatchModels applies patches to the note type document.
func (c *Collection) PatchModels(ctx context.Context, tx *storage.Tx, patches ...EntityPatch) error {
	return c.patchDocument(ctx, tx, "models", patches)
}

// PatchDecks applies patches to the deck document.
func (c *Collection) PatchDecks(ctx context.Context, tx *storage.Tx, patches ...EntityPatch) error {
	return c.patchDocument(ctx, tx, "decks", patches)
}

func (c *Collection) patchDocument(ctx context.Context, tx *storage.Tx, column string, patches []EntityPatch) error {
	if len(patches) == 0 {
		return nil
	}
	raw, err := tx.QueryString(ctx, `SELECT `+column+` FROM col`)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", column, err)
	}
	doc := make(document)
	if err := decodeJSON(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", column, err)
	}

	for _, p := range patches {
		key := strconv.FormatInt(p.ID, 10)
		entity := doc[key]
		if entity == nil {
			entity = make(map[string]json.RawMessage)
			doc[key] = entity
		}
		for k, v := range p.Set {
			value, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("failed to encode %s key %s of %d: %w", column, k, p.ID, err)
			}
			entity[k] = value
		}
		for _, k := range p.Remove {
			delete(entity, k)
		}
	}

	out, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", column, err)
	}
	if err := tx.Exec(ctx, `UPDATE col SET `+column+` = ?, mod = ?`, string(out), c.now().UnixMilli()); err != nil {
		return fmt.Errorf("failed to write %s: %w", column, err)
	}
	return nil
}

// typedPatch sets every key the typed value encodes.
func typedPatch(id int64, v any) (EntityPatch, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return EntityPatch{}, err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return EntityPatch{}, err
	}
	p := EntityPatch{ID: id, Set: make(map[string]any, len(keys))}
	for k, v := range keys {
		p.Set[k] = v
	}
	return p, nil
}
