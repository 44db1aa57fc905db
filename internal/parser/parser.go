// Package parser decodes the stored text forms of note columns: the
// separator-joined field blob and the space-padded tag list.
package parser

import (
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/conorfennell/knolfix/internal/domain"
)

// ErrInvalidEncoding is returned for column values that are not valid UTF-8,
// which only happens when a row has been damaged.
var ErrInvalidEncoding = errors.New("invalid utf-8 encoding")

// CountFields returns the number of fields in a stored field blob. An empty
// blob still holds a single empty field.
func CountFields(flds string) (int, error) {
	if !utf8.ValidString(flds) {
		return 0, ErrInvalidEncoding
	}
	return strings.Count(flds, domain.FieldSeparator) + 1, nil
}

// ParseFields splits a stored field blob into its field values.
func ParseFields(flds string) ([]string, error) {
	if !utf8.ValidString(flds) {
		return nil, ErrInvalidEncoding
	}
	return strings.Split(flds, domain.FieldSeparator), nil
}

// ParseTags splits a stored tag list. Tags are separated by whitespace and
// compared case-insensitively, so duplicates differing only in case collapse
// to the first spelling seen.
func ParseTags(tags string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, tag := range strings.Fields(tags) {
		key := strings.ToLower(tag)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}

// JoinTags renders tags in their stored form, sorted and padded with a space
// on both sides so that "% tag %" LIKE queries match whole tags.
func JoinTags(tags []string) string {
	if len(tags) == 0 {
		return ""
	}
	sorted := append([]string(nil), tags...)
	sort.Strings(sorted)
	return " " + strings.Join(sorted, " ") + " "
}
