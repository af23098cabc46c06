package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrProviderUnavailable means every provider tried for a request failed.
// It is not retried further.
var ErrProviderUnavailable = errors.New("provider unavailable")

// ErrUnknownProvider is returned when an explicit provider is not configured.
var ErrUnknownProvider = errors.New("unknown provider")

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 1 << 20

// StatusError is a non-2xx answer from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func newStatusError(providerName string, statusCode int, body io.Reader) *StatusError {
	b, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	return &StatusError{
		Provider:   providerName,
		StatusCode: statusCode,
		Message:    parseProviderError(statusCode, b),
	}
}

// parseProviderError extracts a human-readable error from provider API responses.
func parseProviderError(statusCode int, body []byte) string {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &errResp) == nil {
		msg := errResp.Error.Message
		if msg == "" {
			msg = errResp.Message
		}
		if msg != "" {
			return msg
		}
	}

	switch statusCode {
	case 401:
		return "authentication failed, check the API key"
	case 403:
		return "access denied, the API key lacks the required permissions"
	case 404:
		return "model or endpoint not found"
	case 429:
		return "rate limited or quota exhausted"
	case 500:
		return "internal server error on the provider side"
	case 502, 503:
		return "provider service temporarily unavailable"
	case 529:
		return "provider is overloaded"
	}

	s := string(body)
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return fmt.Sprintf("HTTP %d: %s", statusCode, s)
}

// friendlyProviderError converts common network errors to readable messages.
func friendlyProviderError(providerName string, err error) error {
	msg := err.Error()
	var hint string
	switch {
	case strings.Contains(msg, "connection refused"):
		hint = "connection refused (is the service running?)"
	case strings.Contains(msg, "no such host"):
		hint = "host not found (check the URL)"
	case strings.Contains(msg, "reset by peer"):
		hint = "connection reset by server"
	}
	if hint == "" {
		return fmt.Errorf("provider %s: %w", providerName, err)
	}
	return fmt.Errorf("provider %s: %s: %w", providerName, hint, err)
}
