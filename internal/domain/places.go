package domain

import (
	"strings"
	"unicode"
)

var knownDestinations = []string{
	"tokyo", "paris", "london", "new york", "rome", "barcelona", "amsterdam",
	"berlin", "prague", "vienna", "budapest", "thailand", "japan", "italy",
	"france", "spain", "greece", "lisbon", "bali", "iceland",
}

// KnownDestinations returns the lower-cased destination names recognised in
// free text.
func KnownDestinations() []string {
	return append([]string(nil), knownDestinations...)
}

// MentionedDestinations returns the known destinations that start a word in
// text, title-cased, in list order.
func MentionedDestinations(text string) []string {
	padded := WordText(text)
	var out []string
	for _, d := range knownDestinations {
		if HasWordStart(padded, d) {
			out = append(out, titleWords(d))
		}
	}
	return out
}

// WordText lower-cases s, replaces everything but letters and digits with a
// single space and pads both ends, so word starts can be found with
// HasWordStart.
func WordText(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}

// HasWordStart reports whether stem begins a word of padded, which must come
// from WordText.
func HasWordStart(padded, stem string) bool {
	return strings.Contains(padded, " "+stem)
}

func titleWords(s string) string {
	parts := strings.Fields(s)
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, " ")
}
