package collection

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/conorfennell/knolfix/internal/domain"
	"github.com/conorfennell/knolfix/internal/storage"
)

// Decks returns all decks ordered by id.
func (c *Collection) Decks(ctx context.Context, tx *storage.Tx) ([]*domain.Deck, error) {
	raw, err := tx.QueryString(ctx, `SELECT decks FROM col`)
	if err != nil {
		return nil, fmt.Errorf("failed to read decks: %w", err)
	}
	byID := make(map[string]*domain.Deck)
	if err := decodeJSON(raw, &byID); err != nil {
		return nil, fmt.Errorf("failed to decode decks: %w", err)
	}

	decks := make([]*domain.Deck, 0, len(byID))
	for key, d := range byID {
		if d == nil {
			continue
		}
		if d.ID == 0 {
			id, err := strconv.ParseInt(key, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid deck id %q: %w", key, err)
			}
			d.ID = id
		}
		decks = append(decks, d)
	}
	sort.Slice(decks, func(i, j int) bool { return decks[i].ID < decks[j].ID })
	return decks, nil
}

// SaveDecks stores the given decks, adding new ones and overwriting the typed
// keys of existing ones. A deck without options has its conf key removed.
func (c *Collection) SaveDecks(ctx context.Context, tx *storage.Tx, decks []*domain.Deck) error {
	patches := make([]EntityPatch, 0, len(decks))
	for _, d := range decks {
		p, err := typedPatch(d.ID, d)
		if err != nil {
			return fmt.Errorf("failed to encode deck %d: %w", d.ID, err)
		}
		if d.Conf == nil {
			p.Remove = append(p.Remove, "conf")
		}
		patches = append(patches, p)
	}
	return c.PatchDecks(ctx, tx, patches...)
}

// NonDynamicDeckIDs returns the ids of regular decks.
func (c *Collection) NonDynamicDeckIDs(ctx context.Context, tx *storage.Tx) ([]int64, error) {
	decks, err := c.Decks(ctx, tx)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for _, d := range decks {
		if !d.IsDynamic() {
			ids = append(ids, d.ID)
		}
	}
	return ids, nil
}
