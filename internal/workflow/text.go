package workflow

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// Clean strips HTML tags, cuts s to max runes and repairs mojibake.
func Clean(s string, max int) string {
	return FixEncoding(Truncate(tagRe.ReplaceAllString(s, ""), max))
}

// Truncate cuts s to max runes, marking the cut with "...".
func Truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max]) + "..."
}

// FixEncoding repairs UTF-8 text that was decoded as Latin-1 somewhere
// upstream ("habitaciÃ³n"). Runs that do not decode are left alone.
func FixEncoding(s string) string {
	if s == "" {
		return s
	}
	enc := charmap.ISO8859_1.NewEncoder()
	var out, run strings.Builder
	flush := func() {
		if run.Len() == 0 {
			return
		}
		raw, err := enc.String(run.String())
		if err == nil && utf8.ValidString(raw) {
			out.WriteString(raw)
		} else {
			out.WriteString(run.String())
		}
		run.Reset()
	}
	for _, r := range s {
		if r <= 0xFF {
			run.WriteRune(r)
			continue
		}
		flush()
		out.WriteRune(r)
	}
	flush()
	return out.String()
}
