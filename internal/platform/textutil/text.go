// Package textutil normalises free-form text entered by customers and staff.
package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

const maxBankReferenceLength = 64

var strictPolicy = bluemonday.StrictPolicy()

// SanitizeNotes strips markup, trims surrounding space and caps the result at
// limit runes. A non-positive limit disables the cap.
func SanitizeNotes(value string, limit int) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	cleaned = strings.TrimSpace(norm.NFC.String(cleaned))
	return truncateRunes(cleaned, limit)
}

// NormalizeBankReference folds full-width characters, removes whitespace and
// upper-cases the reference so staff can match it against bank statements.
func NormalizeBankReference(value string) string {
	folded := norm.NFKC.String(width.Fold.String(value))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return truncateRunes(b.String(), maxBankReferenceLength)
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return strings.TrimSpace(string(runes[:limit]))
}
