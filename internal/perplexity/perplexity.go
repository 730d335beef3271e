// Package perplexity calls the Perplexity chat completions API, used as a
// web-grounded search for listing and social profile data.
package perplexity

import (
	"context"
	"net/http"
	"strings"

	"leadflow/internal/upstream"
)

const (
	DefaultBaseURL = "https://api.perplexity.ai"
	DefaultModel   = "sonar"
)

// SystemPrompt asks for bare JSON.
const SystemPrompt = "You are a hotel data extraction assistant. Return ONLY valid JSON, no markdown fences, no explanation."

type Client struct {
	api     *upstream.Client
	baseURL string
	model   string
}

func New(httpClient *http.Client, apiKey string) *Client {
	return &Client{
		api: &upstream.Client{
			Service: "Perplexity",
			HTTP:    httpClient,
			Header:  http.Header{"Authorization": {"Bearer " + apiKey}},
		},
		baseURL: DefaultBaseURL,
		model:   DefaultModel,
	}
}

func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = strings.TrimRight(u, "/")
	return c
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Ask sends a system+user exchange and returns the first choice's content.
// An empty choice list yields "".
func (c *Client) Ask(ctx context.Context, system, user string) (string, error) {
	var resp struct {
		Choices []struct {
			Message message `json:"message"`
		} `json:"choices"`
	}
	err := c.api.Do(ctx, upstream.Request{
		Method: http.MethodPost,
		URL:    c.baseURL + "/chat/completions",
		Body: map[string]any{
			"model": c.model,
			"messages": []message{
				{Role: "system", Content: system},
				{Role: "user", Content: user},
			},
		},
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}
