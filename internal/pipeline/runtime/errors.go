package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/llm"
)

type ErrorKind string

const (
	KindValidation     ErrorKind = "ValidationError"
	KindDataNotFound   ErrorKind = "DataNotFoundError"
	KindModel          ErrorKind = "ModelError"
	KindCorruption     ErrorKind = "CorruptionError"
	KindCircuitBreaker ErrorKind = "CircuitBreakerTrippedError"
	KindBudgetExceeded ErrorKind = "BudgetExceededError"
	// KindInternal covers recovered stage panics.
	KindInternal ErrorKind = "InternalError"
)

func (k ErrorKind) Valid() bool {
	switch k {
	case KindValidation, KindDataNotFound, KindModel, KindCorruption,
		KindCircuitBreaker, KindBudgetExceeded, KindInternal:
		return true
	default:
		return false
	}
}

// Fatal reports whether the kind aborts the run regardless of where it occurs.
func (k ErrorKind) Fatal() bool {
	switch k {
	case KindCorruption, KindCircuitBreaker, KindBudgetExceeded:
		return true
	default:
		return false
	}
}

func (k ErrorKind) defaultRetryable() bool {
	return k == KindModel
}

// StageError is the typed failure carried by error envelopes and returned by
// the run guards.
type StageError struct {
	Kind       ErrorKind `json:"type"`
	Message    string    `json:"message"`
	Retryable  bool      `json:"retryable"`
	Code       string    `json:"code,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`

	// RetryAfterMS is the provider's requested minimum delay before a retry.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`

	Cause error `json:"-"`
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "stage failed"
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *StageError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func NewError(kind ErrorKind, format string, args ...any) *StageError {
	return &StageError{
		Kind:      kind,
		Message:   strings.TrimSpace(fmt.Sprintf(format, args...)),
		Retryable: kind.defaultRetryable(),
	}
}

func Validationf(format string, args ...any) *StageError {
	return NewError(KindValidation, format, args...)
}

func DataNotFoundf(format string, args ...any) *StageError {
	return NewError(KindDataNotFound, format, args...)
}

func Modelf(format string, args ...any) *StageError {
	return NewError(KindModel, format, args...)
}

func Corruption(cause error, format string, args ...any) *StageError {
	e := NewError(KindCorruption, format, args...)
	e.Cause = cause
	return e
}

// AsStageError reports whether err wraps a *StageError.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) && se != nil {
		return se, true
	}
	return nil, false
}

// quotaCodes are the structured provider codes that mean retrying within the
// same run cannot succeed.
var quotaCodes = map[string]bool{
	"resource_exhausted":  true,
	"insufficient_quota":  true,
	"quota_exceeded":      true,
	"rate_limit_exceeded": true,
}

// IsQuotaError reports whether a model failure carries a quota or rate-limit
// signal in its structured code or HTTP status. Message text is not consulted.
func IsQuotaError(e *StageError) bool {
	if e == nil || e.Kind != KindModel {
		return false
	}
	if e.StatusCode == 429 {
		return true
	}
	return quotaCodes[strings.ToLower(strings.TrimSpace(e.Code))]
}

// ReclassifyQuota returns e, or a non-retryable copy when e is a quota failure.
func ReclassifyQuota(e *StageError) *StageError {
	if !IsQuotaError(e) || !e.Retryable {
		return e
	}
	cp := *e
	cp.Retryable = false
	return &cp
}

// ClassifyProviderError maps an arbitrary error into the stage error taxonomy.
func ClassifyProviderError(err error) *StageError {
	if err == nil {
		return nil
	}
	if se, ok := AsStageError(err); ok {
		return ReclassifyQuota(se)
	}
	if errors.Is(err, context.Canceled) {
		return &StageError{Kind: KindModel, Message: err.Error(), Code: "canceled", Cause: err}
	}
	var le llm.Error
	if errors.As(err, &le) {
		se := &StageError{
			Kind:       KindModel,
			Message:    err.Error(),
			Retryable:  le.Retryable(),
			Code:       le.Code(),
			StatusCode: le.StatusCode(),
			Cause:      err,
		}
		if ra := le.RetryAfter(); ra != nil && *ra > 0 {
			se.RetryAfterMS = ra.Milliseconds()
		}
		switch le.(type) {
		case *llm.InvalidRequestError, *llm.ContextLengthError, *llm.ContentFilterError:
			se.Kind = KindValidation
			se.Retryable = false
		}
		return ReclassifyQuota(se)
	}
	return &StageError{Kind: KindModel, Message: err.Error(), Retryable: true, Cause: err}
}
