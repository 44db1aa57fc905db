package collection

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"strings"

	"github.com/conorfennell/knolfix/internal/parser"
	"github.com/conorfennell/knolfix/internal/storage"
)

// TagRegistry returns the registered tags with the usn they were added at.
func (c *Collection) TagRegistry(ctx context.Context, tx *storage.Tx) (map[string]int, error) {
	raw, err := tx.QueryString(ctx, `SELECT tags FROM col`)
	if err != nil {
		return nil, fmt.Errorf("failed to read tag registry: %w", err)
	}
	tags := make(map[string]int)
	if err := decodeJSON(raw, &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tag registry: %w", err)
	}
	return tags, nil
}

// RegisterNotes rebuilds the tag registry from the tags used by notes. Tags
// that stay registered keep their usn; new ones get the current usn. It
// reports whether the registry changed.
func (c *Collection) RegisterNotes(ctx context.Context, tx *storage.Tx) (bool, error) {
	current, err := c.TagRegistry(ctx, tx)
	if err != nil {
		return false, err
	}
	usn, err := c.Usn(ctx, tx)
	if err != nil {
		return false, err
	}

	rows, err := tx.Query(ctx, `SELECT DISTINCT tags FROM notes WHERE tags != ''`)
	if err != nil {
		return false, fmt.Errorf("failed to read note tags: %w", err)
	}
	byKey := make(map[string]string)
	for tags, err := range storage.Scan(rows, func(r *sql.Rows) (string, error) {
		var s string
		err := r.Scan(&s)
		return s, err
	}) {
		if err != nil {
			return false, fmt.Errorf("failed to scan note tags: %w", err)
		}
		for _, tag := range parser.ParseTags(tags) {
			key := strings.ToLower(tag)
			if _, ok := byKey[key]; !ok {
				byKey[key] = tag
			}
		}
	}

	existing := make(map[string]string, len(current))
	for tag := range current {
		existing[strings.ToLower(tag)] = tag
	}

	rebuilt := make(map[string]int, len(byKey))
	for key, tag := range byKey {
		if old, ok := existing[key]; ok {
			rebuilt[old] = current[old]
			continue
		}
		rebuilt[tag] = usn
	}

	if maps.Equal(rebuilt, current) {
		return false, nil
	}
	raw, err := json.Marshal(rebuilt)
	if err != nil {
		return false, fmt.Errorf("failed to encode tag registry: %w", err)
	}
	if err := tx.Exec(ctx, `UPDATE col SET tags = ?`, string(raw)); err != nil {
		return false, fmt.Errorf("failed to write tag registry: %w", err)
	}
	return true, nil
}
