package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadflow/internal/upstream"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want map[string]any
	}{
		{"plain", `{"a":1}`, map[string]any{"a": float64(1)}},
		{"fenced", "```json\n{\"a\":\"x\"}\n```", map[string]any{"a": "x"}},
		{"prose", `Here you go: {"a": {"b": "}"}} hope it helps`, map[string]any{"a": map[string]any{"b": "}"}}},
		{"broken then good", `{oops} and {"ok":true}`, map[string]any{"ok": true}},
		{"none", "no json here", nil},
		{"array", `[1,2]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractJSON(tt.in))
		})
	}
}

func TestFieldReaders(t *testing.T) {
	m := map[string]any{"s": " x ", "n": float64(42), "ns": "8.5", "null": nil}
	assert.Equal(t, "x", String(m, "s"))
	assert.Equal(t, "42", String(m, "n"))
	assert.Equal(t, "", String(m, "null"))

	f, ok := Float(m, "ns")
	assert.True(t, ok)
	assert.Equal(t, 8.5, f)
	_, ok = Float(m, "s")
	assert.False(t, ok)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"msg_1","type":"message","role":"assistant","model":"m","stop_reason":"end_turn",
"content":[{"type":"text","text":"`+"```json\\n{\\\"market_fit\\\":\\\"Conejo\\\"}\\n```"+`"}],
"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer srv.Close()

	c := New("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	out, err := c.Analyze(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "Conejo", out["market_fit"])
}

func TestAnalyzeRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	}))
	defer srv.Close()

	c := New("k", "", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	_, err := c.Analyze(context.Background(), "sys", "user")
	assert.True(t, upstream.IsRateLimit(err))
}
