package engine

import (
	"testing"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

func TestCircuitBreaker_TripsAtThreshold(t *testing.T) {
	b := NewCircuitBreaker(3)
	if b.RecordFailure("draft") || b.RecordFailure("draft") {
		t.Fatalf("breaker opened early")
	}
	if !b.RecordFailure("validation") {
		t.Fatalf("expected breaker to open on the third failure")
	}
	snap := b.Snapshot()
	if !snap.Open || snap.ConsecutiveFailures != 3 || snap.LastFailureStage != "validation" {
		t.Fatalf("snapshot: %+v", snap)
	}
	err := b.trippedError(runtime.Modelf("overloaded"))
	if err.Kind != runtime.KindCircuitBreaker || err.Retryable {
		t.Fatalf("tripped error: %+v", err)
	}
}

func TestCircuitBreaker_SuccessResetsUntilOpen(t *testing.T) {
	b := NewCircuitBreaker(2)
	b.RecordFailure("research")
	b.RecordSuccess()
	if b.ConsecutiveFailures() != 0 {
		t.Fatalf("success must reset the count")
	}
	b.RecordFailure("research")
	b.RecordFailure("research")
	b.RecordSuccess()
	if !b.Open() {
		t.Fatalf("an open breaker stays open")
	}
}
