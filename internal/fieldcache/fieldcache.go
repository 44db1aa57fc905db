// Package fieldcache derives the per-note search cache: the sort field and
// the first-field checksum used for duplicate detection.
package fieldcache

import (
	"crypto/sha1"
	"encoding/binary"
	"html"
	"regexp"
	"strings"
)

var (
	reComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	reStyle   = regexp.MustCompile(`(?si)<style.*?>.*?</style>`)
	reScript  = regexp.MustCompile(`(?si)<script.*?>.*?</script>`)
	reTag     = regexp.MustCompile(`(?s)<.*?>`)
	reMedia   = regexp.MustCompile(`(?i)<img[^>]+src=["']?([^"'>]+)["']?[^>]*>`)
)

// StripHTML removes markup and decodes entities, keeping image file names so
// that image-only fields still sort and compare by something.
func StripHTML(s string) string {
	s = reMedia.ReplaceAllString(s, " $1 ")
	s = reComment.ReplaceAllString(s, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reScript.ReplaceAllString(s, "")
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}

// SortField returns the sort key for a note: the stripped value of the
// model's sort field. An out-of-range index falls back to the first field.
func SortField(fields []string, sortIdx int) string {
	if len(fields) == 0 {
		return ""
	}
	if sortIdx < 0 || sortIdx >= len(fields) {
		sortIdx = 0
	}
	return StripHTML(fields[sortIdx])
}

// Checksum takes the first field, strips it, and returns the leading 32 bits
// of its SHA-1 hash, the first eight hex digits read as an integer.
func Checksum(fields []string) int64 {
	first := ""
	if len(fields) > 0 {
		first = StripHTML(fields[0])
	}
	sum := sha1.Sum([]byte(first))
	return int64(binary.BigEndian.Uint32(sum[:4]))
}
