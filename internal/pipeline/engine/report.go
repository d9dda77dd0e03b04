package engine

import (
	"errors"
	"strings"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

func (e *Engine) failureReport(f *runFailure) *runtime.RunFailureReport {
	rc := e.rc
	return &runtime.RunFailureReport{
		Timestamp:               e.Options.Now().UTC(),
		RunID:                   rc.RunID,
		FailedStage:             f.Stage,
		ErrorType:               f.Err.Kind,
		Message:                 f.Err.Message,
		Guard:                   f.Guard,
		Trace:                   e.failureTrace(f),
		AttemptsMade:            f.Attempts,
		StateTrail:              append([]string{}, e.trail...),
		CircuitBreakerState:     rc.Breaker.Snapshot(),
		CostLedgerSnapshot:      rc.Guard.Snapshot(),
		FallbackTrackerSnapshot: rc.Fallbacks.Snapshot(),
	}
}

// failureTrace is the attempt history followed by the error's cause chain.
func (e *Engine) failureTrace(f *runFailure) string {
	var b strings.Builder
	for _, line := range e.trace {
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(f.Err.Error())
	for cause := errors.Unwrap(error(f.Err)); cause != nil; cause = errors.Unwrap(cause) {
		b.WriteString("\ncaused by: ")
		b.WriteString(cause.Error())
	}
	return b.String()
}
