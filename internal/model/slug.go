package model

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// IdentityKey normalizes a sender name for de-duplication: case-folded with
// whitespace collapsed. Two names with the same key are the same participant.
func IdentityKey(name string) string {
	return folder.String(strings.Join(strings.Fields(name), " "))
}

// Slugify turns a display name into an ASCII-leaning id fragment. Accents are
// stripped, runs of anything that is not a letter or digit become a single
// dash. An empty result falls back to "participant".
func Slugify(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var sb strings.Builder
	dash := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(sb.String(), "-")
	if slug == "" {
		return "participant"
	}
	return slug
}
