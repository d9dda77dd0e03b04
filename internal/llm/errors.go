package llm

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Error is the unified error interface returned by text and image providers.
type Error interface {
	error
	Provider() string
	StatusCode() int
	// Code is the provider's structured error code (e.g. "RESOURCE_EXHAUSTED"), if any.
	Code() string
	Retryable() bool
	RetryAfter() *time.Duration
}

type httpErrorBase struct {
	provider    string
	statusCode  int
	code        string
	message     string
	retryable   bool
	retryAfter  *time.Duration
	rawResponse any
}

func (e *httpErrorBase) Error() string {
	msg := strings.TrimSpace(e.message)
	if msg == "" {
		msg = "request failed"
	}
	if e.code != "" {
		return fmt.Sprintf("%s error (status=%d code=%s): %s", e.provider, e.statusCode, e.code, msg)
	}
	return fmt.Sprintf("%s error (status=%d): %s", e.provider, e.statusCode, msg)
}
func (e *httpErrorBase) Provider() string           { return e.provider }
func (e *httpErrorBase) StatusCode() int            { return e.statusCode }
func (e *httpErrorBase) Code() string               { return e.code }
func (e *httpErrorBase) Retryable() bool            { return e.retryable }
func (e *httpErrorBase) RetryAfter() *time.Duration { return e.retryAfter }

type InvalidRequestError struct{ httpErrorBase }
type AuthenticationError struct{ httpErrorBase }
type AccessDeniedError struct{ httpErrorBase }
type NotFoundError struct{ httpErrorBase }
type RequestTimeoutError struct{ httpErrorBase }
type ContextLengthError struct{ httpErrorBase }
type ContentFilterError struct{ httpErrorBase }
type QuotaExceededError struct{ httpErrorBase }
type RateLimitError struct{ httpErrorBase }
type ServerError struct{ httpErrorBase }
type UnknownHTTPError struct{ httpErrorBase }

// ErrorFromHTTPStatus builds a typed provider error. code is the structured
// error code from the response body and takes precedence over the status.
func ErrorFromHTTPStatus(provider string, statusCode int, code string, message string, raw any, retryAfter *time.Duration) error {
	base := httpErrorBase{
		provider:    strings.TrimSpace(provider),
		statusCode:  statusCode,
		code:        strings.TrimSpace(code),
		message:     message,
		retryAfter:  retryAfter,
		rawResponse: raw,
	}
	if err := classifyByCode(base); err != nil {
		return err
	}
	switch statusCode {
	case 400, 422:
		base.retryable = false
		return &InvalidRequestError{base}
	case 401:
		base.retryable = false
		return &AuthenticationError{base}
	case 403:
		base.retryable = false
		return &AccessDeniedError{base}
	case 404:
		base.retryable = false
		return &NotFoundError{base}
	case 408:
		base.retryable = true
		return &RequestTimeoutError{base}
	case 413:
		base.retryable = false
		return &ContextLengthError{base}
	case 429:
		// Rate limits outlast any backoff a single run can afford.
		base.retryable = false
		return &RateLimitError{base}
	case 500, 502, 503, 504:
		base.retryable = true
		return &ServerError{base}
	default:
		base.retryable = true
		return &UnknownHTTPError{base}
	}
}

// classifyByCode refines classification from the provider's structured code.
// Codes are matched exactly (case-insensitive); free-form messages are never parsed.
func classifyByCode(base httpErrorBase) error {
	switch strings.ToLower(base.code) {
	case "":
		return nil
	case "resource_exhausted", "insufficient_quota", "quota_exceeded", "billing_hard_limit_reached":
		base.retryable = false
		return &QuotaExceededError{base}
	case "rate_limit_exceeded":
		base.retryable = false
		return &RateLimitError{base}
	case "context_length_exceeded":
		base.retryable = false
		return &ContextLengthError{base}
	case "content_filter", "content_policy_violation", "safety":
		base.retryable = false
		return &ContentFilterError{base}
	case "invalid_api_key", "unauthenticated":
		base.retryable = false
		return &AuthenticationError{base}
	case "deadline_exceeded":
		base.retryable = true
		return &RequestTimeoutError{base}
	case "unavailable", "internal", "overloaded_error":
		base.retryable = true
		return &ServerError{base}
	}
	return nil
}

// NewRequestTimeoutError constructs a non-HTTP timeout error (e.g. a context
// deadline on the provider call). These are retried.
func NewRequestTimeoutError(provider string, message string) error {
	base := httpErrorBase{
		provider:   strings.TrimSpace(provider),
		statusCode: 0,
		code:       "deadline_exceeded",
		message:    message,
		retryable:  true,
	}
	return &RequestTimeoutError{base}
}

// ParseRetryAfter parses the Retry-After header value.
// Supported forms:
// - integer seconds
// - HTTP-date (RFC 7231)
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}
