package engine

import (
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// CircuitBreaker counts consecutive retryable failures across every stage of
// a run. Reaching the threshold opens it for the rest of the run.
type CircuitBreaker struct {
	threshold   int
	consecutive int
	open        bool
	lastStage   string
}

func NewCircuitBreaker(threshold int) *CircuitBreaker {
	if threshold < 1 {
		threshold = 1
	}
	return &CircuitBreaker{threshold: threshold}
}

// RecordSuccess resets the failure count. An open breaker stays open.
func (b *CircuitBreaker) RecordSuccess() {
	if b.open {
		return
	}
	b.consecutive = 0
}

// RecordFailure counts one retryable failure and reports whether the breaker is now open.
func (b *CircuitBreaker) RecordFailure(stage string) bool {
	if b.open {
		return true
	}
	b.consecutive++
	b.lastStage = stage
	if b.consecutive >= b.threshold {
		b.open = true
	}
	return b.open
}

func (b *CircuitBreaker) Open() bool { return b.open }

func (b *CircuitBreaker) ConsecutiveFailures() int { return b.consecutive }

func (b *CircuitBreaker) Snapshot() runtime.BreakerSnapshot {
	return runtime.BreakerSnapshot{
		ConsecutiveFailures: b.consecutive,
		Threshold:           b.threshold,
		Open:                b.open,
		LastFailureStage:    b.lastStage,
	}
}

func (b *CircuitBreaker) trippedError(last *runtime.StageError) *runtime.StageError {
	msg := "circuit breaker open"
	if b.open {
		msg = "circuit breaker tripped after consecutive retryable failures"
	}
	e := runtime.NewError(runtime.KindCircuitBreaker, "%s (%d/%d, last stage %s)", msg, b.consecutive, b.threshold, b.lastStage)
	if last != nil {
		e.Message += ": " + last.Message
		e.Cause = last
	}
	return e
}
