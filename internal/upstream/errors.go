// Package upstream holds the HTTP plumbing and error taxonomy shared by the
// external service adapters.
package upstream

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// maxErrorBody bounds the upstream body quoted in error strings, in bytes.
const maxErrorBody = 300

// Error is a non-2xx answer from an upstream service.
type Error struct {
	Service    string
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	body := e.Body
	if len(body) > maxErrorBody {
		n := maxErrorBody
		for n > 0 && !utf8.RuneStart(body[n]) {
			n--
		}
		body = body[:n] + "..."
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Service, e.StatusCode, body)
}

// RateLimitError signals HTTP 429. Batch callers stop on it instead of
// treating it as a per-item failure.
type RateLimitError struct {
	Service string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s", e.Service)
}

func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// StatusCode returns the upstream HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.StatusCode
	}
	if IsRateLimit(err) {
		return 429
	}
	return 0
}
