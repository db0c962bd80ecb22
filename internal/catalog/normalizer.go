package catalog

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	unitSuffixRe = regexp.MustCompile(`(?i)\s*-\s*inf\s+\w+$`)
	dimensionRe  = regexp.MustCompile(`(?i)\s*x\s*`)
	keepRe       = regexp.MustCompile(`[^\p{L}\p{N}. ]`)
	spacesRe     = regexp.MustCompile(`\s+`)
)

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Normalize canonicalises a free-text item description for matching.
// Supplier documents write the same material a dozen ways: stray hyphens,
// "- inf KG" unit annotations, decimal commas, spaced dimension separators
// ("2.0 X 7.0") and parenthesised qualifiers. The transform is deterministic
// and total; input that is not valid UTF-8 falls back to uppercase+trim.
func Normalize(text string) string {
	if !utf8.ValidString(text) {
		return strings.ToUpper(strings.TrimSpace(text))
	}

	s := strings.TrimSpace(text)
	s = strings.Trim(s, "-_")
	s = strings.TrimSpace(s)

	s = unitSuffixRe.ReplaceAllString(s, "")

	s = strings.ReplaceAll(s, "(", " ")
	s = strings.ReplaceAll(s, ")", " ")
	s = strings.ReplaceAll(s, ",", ".")

	s = dimensionRe.ReplaceAllString(s, "X")

	if folded, _, err := transform.String(accentFolder, s); err == nil {
		s = folded
	}

	s = keepRe.ReplaceAllString(s, " ")
	s = spacesRe.ReplaceAllString(s, " ")

	return strings.ToUpper(strings.TrimSpace(s))
}

// Tokens splits a normalized name into its words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
