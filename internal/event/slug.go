package event

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// letters that do not decompose into base letter + mark
var foldReplacer = strings.NewReplacer(
	"æ", "ae", "Æ", "ae",
	"ø", "o", "Ø", "o",
	"ß", "ss",
)

// Slug builds an id of the form <source-domain>-<title-slug>-<YYYY-MM-DD>.
func Slug(source, title, startDate string) string {
	parts := make([]string, 0, 3)
	if s := slugify(source); s != "" {
		parts = append(parts, s)
	}
	if s := slugify(title); s != "" {
		parts = append(parts, s)
	}
	if len(startDate) >= 10 {
		parts = append(parts, startDate[:10])
	}
	return strings.Join(parts, "-")
}

func slugify(s string) string {
	s = foldReplacer.Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
