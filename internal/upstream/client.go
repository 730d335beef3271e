package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"
)

const defaultMaxBody = 8 << 20

// Client issues JSON requests against one upstream service and translates
// failures into *Error and *RateLimitError.
type Client struct {
	Service string
	HTTP    *http.Client
	// Header is sent with every request.
	Header http.Header
	// Limiter, when set, paces requests.
	Limiter *rate.Limiter
	// MaxBody caps how much of a response is read.
	MaxBody int64
}

type Request struct {
	Method string
	URL    string
	Query  url.Values
	Header map[string]string
	// Body is JSON-encoded when non-nil.
	Body any
}

// Do sends req and decodes a 2xx JSON response into out (which may be nil).
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	raw, err := c.DoRaw(ctx, req)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", c.Service, err)
	}
	return nil
}

// DoRaw is Do without decoding.
func (c *Client) DoRaw(ctx context.Context, req Request) ([]byte, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%s: rate limiter: %w", c.Service, err)
		}
	}

	target := req.URL
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%s: encode request: %w", c.Service, err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.Service, err)
	}
	for k, vs := range c.Header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", c.Service, err)
	}
	defer resp.Body.Close()

	limit := c.MaxBody
	if limit <= 0 {
		limit = defaultMaxBody
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("%s: read response body: %w", c.Service, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{Service: c.Service}
	}
	if resp.StatusCode >= 400 {
		return nil, &Error{Service: c.Service, StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}
