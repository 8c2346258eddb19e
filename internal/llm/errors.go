package llm

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// AuthError means the credential is missing or was refused. It is fatal for
// the turn and the user has to fix configuration.
type AuthError struct {
	Provider string
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed: %s", e.Provider, e.Message)
}

// RateLimitError is retryable after RetryAfter (zero when unknown).
type RateLimitError struct {
	Provider   string
	Message    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

// ProviderError covers every other failure: unexpected status, malformed
// payload, broken stream or transport error.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: provider error status=%d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// StatusError maps an HTTP error response onto the error taxonomy. body is
// searched for the usual {"error":{"message":...}} shape.
func StatusError(provider string, status int, header http.Header, body []byte) error {
	message := gjson.GetBytes(body, "error.message").String()
	if message == "" {
		message = gjson.GetBytes(body, "message").String()
	}
	if message == "" {
		message = strings.TrimSpace(string(body))
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthError{Provider: provider, Message: message}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{Provider: provider, Message: message, RetryAfter: parseRetryAfter(header)}
	default:
		return &ProviderError{Provider: provider, Status: status, Message: message}
	}
}

func parseRetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(raw); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
