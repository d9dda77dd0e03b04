package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/llm"
)

func TestErrorKind_Fatal(t *testing.T) {
	fatal := map[ErrorKind]bool{
		KindValidation:     false,
		KindDataNotFound:   false,
		KindModel:          false,
		KindInternal:       false,
		KindCorruption:     true,
		KindCircuitBreaker: true,
		KindBudgetExceeded: true,
	}
	for kind, want := range fatal {
		if got := kind.Fatal(); got != want {
			t.Fatalf("%s.Fatal(): got %v want %v", kind, got, want)
		}
	}
}

func TestNewError_OnlyModelErrorsRetryByDefault(t *testing.T) {
	if !Modelf("x").Retryable {
		t.Fatalf("ModelError should be retryable")
	}
	for _, e := range []*StageError{Validationf("x"), DataNotFoundf("x"), Corruption(nil, "x")} {
		if e.Retryable {
			t.Fatalf("%s should not be retryable", e.Kind)
		}
	}
}

func TestReclassifyQuota_StructuredCodes(t *testing.T) {
	cases := []struct {
		name      string
		err       *StageError
		retryable bool
	}{
		{name: "resource_exhausted", err: &StageError{Kind: KindModel, Message: "m", Retryable: true, Code: "RESOURCE_EXHAUSTED"}, retryable: false},
		{name: "insufficient_quota", err: &StageError{Kind: KindModel, Message: "m", Retryable: true, Code: "insufficient_quota"}, retryable: false},
		{name: "status 429", err: &StageError{Kind: KindModel, Message: "m", Retryable: true, StatusCode: 429}, retryable: false},
		{name: "server error", err: &StageError{Kind: KindModel, Message: "m", Retryable: true, StatusCode: 503}, retryable: true},
		// Message text alone never reclassifies.
		{name: "quota in message only", err: &StageError{Kind: KindModel, Message: "quota exceeded, rate limit hit", Retryable: true}, retryable: true},
	}
	for _, tc := range cases {
		got := ReclassifyQuota(tc.err)
		if got.Retryable != tc.retryable {
			t.Fatalf("%s: retryable got %v want %v", tc.name, got.Retryable, tc.retryable)
		}
		if got.Kind != KindModel {
			t.Fatalf("%s: kind changed to %s", tc.name, got.Kind)
		}
	}
}

func TestReclassifyQuota_DoesNotMutateInput(t *testing.T) {
	in := &StageError{Kind: KindModel, Message: "m", Retryable: true, Code: "RESOURCE_EXHAUSTED"}
	_ = ReclassifyQuota(in)
	if !in.Retryable {
		t.Fatalf("input error was mutated")
	}
}

func TestClassifyProviderError(t *testing.T) {
	ra := 3 * time.Second
	cases := []struct {
		name      string
		err       error
		kind      ErrorKind
		retryable bool
	}{
		{name: "server", err: llm.ErrorFromHTTPStatus("gemini", 503, "", "unavailable", nil, nil), kind: KindModel, retryable: true},
		{name: "quota code", err: llm.ErrorFromHTTPStatus("gemini", 400, "RESOURCE_EXHAUSTED", "limit", nil, nil), kind: KindModel, retryable: false},
		{name: "rate limit", err: llm.ErrorFromHTTPStatus("gemini", 429, "", "slow down", nil, &ra), kind: KindModel, retryable: false},
		{name: "invalid request", err: llm.ErrorFromHTTPStatus("gemini", 400, "", "bad", nil, nil), kind: KindValidation, retryable: false},
		{name: "wrapped stage error", err: fmt.Errorf("stage: %w", DataNotFoundf("nothing")), kind: KindDataNotFound, retryable: false},
		{name: "canceled", err: context.Canceled, kind: KindModel, retryable: false},
		{name: "plain", err: errors.New("connection reset"), kind: KindModel, retryable: true},
	}
	for _, tc := range cases {
		got := ClassifyProviderError(tc.err)
		if got.Kind != tc.kind || got.Retryable != tc.retryable {
			t.Fatalf("%s: got kind=%s retryable=%v want kind=%s retryable=%v", tc.name, got.Kind, got.Retryable, tc.kind, tc.retryable)
		}
	}
}

func TestClassifyProviderError_CarriesRetryAfter(t *testing.T) {
	ra := 2 * time.Second
	got := ClassifyProviderError(llm.ErrorFromHTTPStatus("gemini", 503, "", "busy", nil, &ra))
	if got.RetryAfterMS != 2000 {
		t.Fatalf("retry_after_ms: got %d want 2000", got.RetryAfterMS)
	}
	if got.StatusCode != 503 {
		t.Fatalf("status_code: got %d want 503", got.StatusCode)
	}
}

func TestStageError_UnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("persist: %w", Corruption(cause, "write 40_draft.md"))
	if !errors.Is(err, cause) {
		t.Fatalf("expected errors.Is to reach the cause")
	}
	se, ok := AsStageError(err)
	if !ok || se.Kind != KindCorruption {
		t.Fatalf("AsStageError: got %+v ok=%v", se, ok)
	}
}
