// Package llm wraps the Anthropic Messages API for structured analysis and
// holds the tolerant JSON extraction shared by the LLM-backed adapters.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"leadflow/internal/upstream"
)

const (
	DefaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 1024
)

type Client struct {
	api   anthropic.Client
	model string
}

// New builds a client. Extra request options (base URL, HTTP client) are
// passed through to the SDK.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	if model == "" {
		model = DefaultModel
	}
	return &Client{
		api:   anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model: model,
	}
}

// Analyze sends one system+user exchange and returns the JSON object in the
// reply, or nil when the reply carries none.
func (c *Client) Analyze(ctx context.Context, system, user string) (map[string]any, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: defaultMaxTokens,
		System:    []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return nil, translate(err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ExtractJSON(text.String()), nil
}

func translate(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic messages: %w", err)
	}
	if apiErr.StatusCode == http.StatusTooManyRequests {
		return &upstream.RateLimitError{Service: "Anthropic"}
	}
	return &upstream.Error{Service: "Anthropic", StatusCode: apiErr.StatusCode, Body: apiErr.Error()}
}
