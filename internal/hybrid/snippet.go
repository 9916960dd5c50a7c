package hybrid

import (
	"context"
	"strings"
	"unicode/utf8"
)

// DefaultSnippetRadius is the number of context bytes around a hit.
const DefaultSnippetRadius = 100

// TextSource returns the current text of a document.
type TextSource func(ctx context.Context, path string) (string, error)

// Snippet cuts text[off-radius : off+length+radius] on rune boundaries and
// marks truncated ends with "...". Negative length or radius count as zero.
func Snippet(text string, off, length, radius int) string {
	if off < 0 || off > len(text) {
		return ""
	}
	length, radius = max(length, 0), max(radius, 0)
	start := max(0, off-radius)
	end := min(len(text), off+length+radius)
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}

	s := text[start:end]
	if start > 0 {
		s = "..." + strings.TrimLeft(s, " \t\r\n")
	}
	if end < len(text) {
		s = strings.TrimRight(s, " \t\r\n") + "..."
	}
	return s
}

// locate returns the byte span of the first matched term in text, searching
// case-insensitively. Terms are already stemmed, so a prefix hit counts.
func locate(text string, terms []string) (off, length int, ok bool) {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		// Lowercasing changed byte offsets; fall back to the document start.
		return 0, 0, len(terms) > 0
	}
	best := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 && (best < 0 || i < best) {
			best, length = i, len(t)
		}
	}
	if best < 0 {
		return 0, 0, false
	}
	return best, length, true
}
