package models

import (
	"strings"
	"unicode"
)

// NormalizeTitle produces the comparison key used for approximate matching:
// lower-cased, apostrophes dropped, other punctuation treated as a word
// break, whitespace collapsed. A title with no letters or digits keys on its
// lower-cased, whitespace-collapsed text so it still matches itself.
func NormalizeTitle(title string) string {
	var b strings.Builder
	b.Grow(len(title))
	for _, r := range strings.ToLower(title) {
		switch {
		case r == '\'' || r == '’' || r == '‘':
			continue
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	if key := strings.Join(strings.Fields(b.String()), " "); key != "" {
		return key
	}
	return strings.Join(strings.Fields(strings.ToLower(title)), " ")
}
