// Package match implements the term matching pipeline: a pure text
// expansion pass that surfaces link targets hidden inside rich-text spans,
// and a first-match case-insensitive substring scan over the term set.
package match

import (
	"strings"
	"unicode/utf16"

	"github.com/vmelniki2828/qodeq-finder/internal/core"
)

// FindTerm returns the first term whose lower-cased form is contained in
// the lower-cased text. Terms are checked in the given order; callers that
// need every matching term must loop themselves.
func FindTerm(text string, terms []string) (string, bool) {
	if text == "" || len(terms) == 0 {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		if strings.Contains(lowered, t) {
			return term, true
		}
	}
	return "", false
}

// Searchable expands text for matching only: for every link span it appends
// the literal substring the span covers and, when present, the span's
// target URL. A message can show innocuous anchor text while the term hides
// in the URL behind it; matching just the visible text misses that. Both
// additions are deduplicated case-insensitively against text already
// accumulated. The stored/displayed body is never modified.
func Searchable(text string, spans []core.LinkSpan) string {
	if len(spans) == 0 {
		return text
	}

	units := utf16.Encode([]rune(text))
	var b strings.Builder
	b.WriteString(text)
	lowered := strings.ToLower(text)

	appendUnique := func(fragment string) {
		fragment = strings.TrimSpace(fragment)
		if fragment == "" {
			return
		}
		if strings.Contains(lowered, strings.ToLower(fragment)) {
			return
		}
		b.WriteString(" ")
		b.WriteString(fragment)
		lowered += " " + strings.ToLower(fragment)
	}

	for _, span := range spans {
		appendUnique(spanText(units, span))
		appendUnique(span.URL)
	}
	return b.String()
}

// spanText slices the covered substring using UTF-16 offsets, the unit
// Telegram entity offsets are defined in.
func spanText(units []uint16, span core.LinkSpan) string {
	start := span.Offset
	end := span.Offset + span.Length
	if start < 0 || span.Length <= 0 || start >= len(units) {
		return ""
	}
	if end > len(units) {
		end = len(units)
	}
	return string(utf16.Decode(units[start:end]))
}
