package mapper

import "strings"

// Digits keeps only ASCII digits.
func Digits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone returns "+" and the digits of raw when it has 7 to 15 digits
// and does not start with a national trunk "0". Anything else yields "".
func NormalizePhone(raw string) string {
	d := Digits(raw)
	if len(d) < 7 || len(d) > 15 || d[0] == '0' {
		return ""
	}
	return "+" + d
}
