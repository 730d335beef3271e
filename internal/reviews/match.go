package reviews

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stopWords carry no identity when comparing hotel names.
var stopWords = map[string]bool{
	"hotel": true, "hoteles": true, "hostal": true, "hostel": true, "hosteria": true,
	"apart": true, "aparthotel": true, "resort": true, "suites": true, "suite": true,
	"boutique": true, "inn": true, "lodge": true, "spa": true, "posada": true,
	"the": true, "and": true, "de": true, "del": true, "la": true, "el": true,
	"los": true, "las": true, "y": true, "en": true, "b": true,
}

// genericWords are removed from a name before it is used as a search query.
var genericWords = map[string]bool{
	"hotel": true, "hostal": true, "hostel": true, "apart": true, "aparthotel": true,
	"resort": true, "boutique": true, "suites": true, "b&b": true,
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// Tokens lower-cases, folds accents, splits on non-alphanumerics and drops
// stop words.
func Tokens(name string) map[string]bool {
	fields := strings.FieldsFunc(strings.ToLower(fold(name)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		if !stopWords[f] {
			out[f] = true
		}
	}
	return out
}

// NamesOverlap reports whether a and b share at least one significant token.
func NamesOverlap(a, b string) bool {
	ta := Tokens(a)
	for tok := range Tokens(b) {
		if ta[tok] {
			return true
		}
	}
	return false
}

// CleanName strips generic lodging words so the directory search is driven
// by the distinctive part of the name. The input is returned when nothing
// distinctive remains.
func CleanName(name string) string {
	var kept []string
	for _, w := range strings.Fields(name) {
		if !genericWords[strings.ToLower(fold(w))] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		return strings.TrimSpace(name)
	}
	return strings.Join(kept, " ")
}
