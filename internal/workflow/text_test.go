package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixEncoding(t *testing.T) {
	cases := map[string]string{
		"habitaciÃ³n":   "habitación",
		"café":          "café",
		"plain":         "plain",
		"SegÃºn 🏨 mÃ¡s": "Según 🏨 más",
		"":              "",
	}
	for in, want := range cases {
		assert.Equal(t, want, FixEncoding(in), in)
	}
}

func TestClean(t *testing.T) {
	assert.Equal(t, "hola mundo", Clean("<p>hola <b>mundo</b></p>", 500))
	assert.Equal(t, "abc...", Clean("abcdef", 3))
	assert.Equal(t, "ññ...", Clean("ñññññ", 2), "truncation counts runes")
}
