package llm

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseRetryAfter_Seconds(t *testing.T) {
	now := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	d := ParseRetryAfter("12", now)
	if d == nil || *d != 12*time.Second {
		t.Fatalf("got %v want 12s", d)
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	now := time.Date(2026, 2, 7, 0, 0, 0, 0, time.UTC)
	d := ParseRetryAfter("Sat, 07 Feb 2026 00:00:10 GMT", now)
	if d == nil || *d != 10*time.Second {
		t.Fatalf("got %v want 10s", d)
	}
}

func TestParseRetryAfter_Invalid(t *testing.T) {
	if d := ParseRetryAfter("soon", time.Now()); d != nil {
		t.Fatalf("got %v want nil", d)
	}
}

func TestErrorFromHTTPStatus_MappingAndRetryable(t *testing.T) {
	cases := []struct {
		status    int
		want      string
		retryable bool
	}{
		{status: 400, want: "*llm.InvalidRequestError", retryable: false},
		{status: 401, want: "*llm.AuthenticationError", retryable: false},
		{status: 403, want: "*llm.AccessDeniedError", retryable: false},
		{status: 404, want: "*llm.NotFoundError", retryable: false},
		{status: 408, want: "*llm.RequestTimeoutError", retryable: true},
		{status: 413, want: "*llm.ContextLengthError", retryable: false},
		{status: 422, want: "*llm.InvalidRequestError", retryable: false},
		{status: 429, want: "*llm.RateLimitError", retryable: false},
		{status: 500, want: "*llm.ServerError", retryable: true},
		{status: 503, want: "*llm.ServerError", retryable: true},
		{status: 599, want: "*llm.UnknownHTTPError", retryable: true},
	}
	for _, tc := range cases {
		err := ErrorFromHTTPStatus("p", tc.status, "", "msg", nil, nil)
		if got := fmt.Sprintf("%T", err); got != tc.want {
			t.Fatalf("status %d: got %s want %s", tc.status, got, tc.want)
		}
		e, ok := err.(Error)
		if !ok {
			t.Fatalf("status %d: not an llm.Error (%T)", tc.status, err)
		}
		if e.Retryable() != tc.retryable {
			t.Fatalf("status %d: retryable=%t want %t", tc.status, e.Retryable(), tc.retryable)
		}
	}
}

func TestErrorFromHTTPStatus_CodeBasedClassification(t *testing.T) {
	cases := []struct {
		name   string
		status int
		code   string
		want   string
	}{
		{"gemini exhausted", 400, "RESOURCE_EXHAUSTED", "*llm.QuotaExceededError"},
		{"openai quota", 429, "insufficient_quota", "*llm.QuotaExceededError"},
		{"openai rate", 429, "rate_limit_exceeded", "*llm.RateLimitError"},
		{"context", 400, "context_length_exceeded", "*llm.ContextLengthError"},
		{"safety", 400, "SAFETY", "*llm.ContentFilterError"},
		{"unavailable", 503, "UNAVAILABLE", "*llm.ServerError"},
		{"unknown code falls back to status", 500, "weird", "*llm.ServerError"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ErrorFromHTTPStatus("p", tc.status, tc.code, "msg", nil, nil)
			if got := fmt.Sprintf("%T", err); got != tc.want {
				t.Fatalf("ErrorFromHTTPStatus(%d, %q) = %s, want %s", tc.status, tc.code, got, tc.want)
			}
		})
	}
}

func TestErrorFromHTTPStatus_IgnoresMessageText(t *testing.T) {
	err := ErrorFromHTTPStatus("p", 400, "", "quota exceeded for billing account", nil, nil)
	if _, ok := err.(*InvalidRequestError); !ok {
		t.Fatalf("got %T want *llm.InvalidRequestError", err)
	}
	err = ErrorFromHTTPStatus("p", 503, "", "rate limit reached", nil, nil)
	var llmErr Error
	if !errors.As(err, &llmErr) || !llmErr.Retryable() {
		t.Fatalf("503 with quota-like text must stay retryable: %v", err)
	}
}

func TestQuotaExceededError_ImplementsErrorInterface(t *testing.T) {
	err := &QuotaExceededError{httpErrorBase{provider: "test", statusCode: 429, code: "insufficient_quota", message: "quota exceeded", retryable: false}}
	var llmErr Error
	if !errors.As(err, &llmErr) {
		t.Fatalf("QuotaExceededError does not implement Error interface")
	}
	if llmErr.Code() != "insufficient_quota" {
		t.Fatalf("Code: %q", llmErr.Code())
	}
	if llmErr.Retryable() {
		t.Fatalf("expected non-retryable")
	}
}

func TestNewRequestTimeoutError_Retryable(t *testing.T) {
	err := NewRequestTimeoutError("gemini", "deadline exceeded")
	var llmErr Error
	if !errors.As(err, &llmErr) || !llmErr.Retryable() {
		t.Fatalf("timeouts should be retryable: %v", err)
	}
}
