package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// Guards name the mechanism that ended a run.
const (
	GuardStage       = "stage"
	GuardRetry       = "retry"
	GuardBreaker     = "breaker"
	GuardBudget      = "budget"
	GuardCorruption  = "corruption"
	GuardConvergence = "convergence"
	GuardPivot       = "pivot"
	GuardCanceled    = "canceled"
)

// stageCall describes one stage invocation to retry.
type stageCall struct {
	Stage      string
	Kind       cost.CallKind
	InputChars int
	Invoke     func(ctx context.Context, attempt int) runtime.Envelope
	// Check rejects a successful envelope whose payload is unusable.
	Check func(runtime.Envelope) *runtime.StageError
}

type attemptRecord struct {
	Stage    string
	Attempt  int
	Envelope runtime.Envelope
	Duration time.Duration
	CostUSD  float64
	Charged  bool
}

// RetryResult is the outcome of one stage after retries.
type RetryResult struct {
	Envelope  runtime.Envelope
	Attempts  int
	Failure   *runtime.StageError
	Guard     string
	Exhausted bool
}

func (r RetryResult) Succeeded() bool { return r.Failure == nil }

// RetryExecutor runs a stage call with bounded retries, exponential backoff,
// the shared circuit breaker and the per-call budget check.
type RetryExecutor struct {
	MaxAttempts int
	Backoff     BackoffConfig
	Breaker     *CircuitBreaker
	Guard       *cost.Guard

	sleep    func(ctx context.Context, d time.Duration) bool
	now      func() time.Time
	observe  func(attemptRecord)
	progress func(map[string]any)
}

func (x *RetryExecutor) emit(ev map[string]any) {
	if x.progress != nil {
		x.progress(ev)
	}
}

func (x *RetryExecutor) Execute(ctx context.Context, call stageCall) RetryResult {
	maxAttempts := x.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := x.sleep
	if sleep == nil {
		sleep = sleepWithContext
	}
	now := x.now
	if now == nil {
		now = time.Now
	}

	var (
		last    *runtime.StageError
		lastEnv runtime.Envelope
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := runContextError(ctx); err != nil {
			return RetryResult{Envelope: lastEnv, Attempts: attempt - 1, Failure: canceledError(err), Guard: GuardCanceled}
		}
		if x.Breaker.Open() {
			return RetryResult{Envelope: lastEnv, Attempts: attempt - 1, Failure: x.Breaker.trippedError(last), Guard: GuardBreaker}
		}
		estimate, err := x.Guard.Authorize(call.Stage, call.Kind, call.InputChars)
		if err != nil {
			se, ok := runtime.AsStageError(err)
			if !ok {
				se = runtime.NewError(runtime.KindBudgetExceeded, "%v", err)
			}
			x.emit(map[string]any{
				"event":    "stage_budget_blocked",
				"stage":    call.Stage,
				"attempt":  attempt,
				"estimate": estimate,
				"reason":   se.Message,
			})
			return RetryResult{Envelope: lastEnv, Attempts: attempt - 1, Failure: se, Guard: GuardBudget}
		}

		x.emit(map[string]any{
			"event":        "stage_attempt_start",
			"stage":        call.Stage,
			"attempt":      attempt,
			"max":          maxAttempts,
			"estimate_usd": estimate,
		})
		start := now()
		env := call.Invoke(ctx, attempt)
		elapsed := now().Sub(start)
		if env.Metrics.DurationMS <= 0 {
			env.Metrics.DurationMS = elapsed.Milliseconds()
		}
		env = conformEnvelope(call, env)

		charged := x.Guard.Record(call.Stage, call.Kind, cost.Usage{
			InputTokens:  env.Metrics.InputTokens,
			OutputTokens: env.Metrics.OutputTokens,
			Images:       env.Metrics.Images,
			CostUSD:      env.Metrics.CostUSD,
		})
		if x.observe != nil {
			x.observe(attemptRecord{
				Stage:    call.Stage,
				Attempt:  attempt,
				Envelope: env,
				Duration: elapsed,
				CostUSD:  charged,
				Charged:  call.Kind != cost.CallLocal,
			})
		}
		lastEnv = env

		if env.Succeeded() {
			x.Breaker.RecordSuccess()
			return RetryResult{Envelope: env, Attempts: attempt}
		}

		failure := runtime.ReclassifyQuota(env.Error)
		last = failure
		if !failure.Retryable || failure.Kind.Fatal() {
			x.emit(map[string]any{
				"event":      "stage_retry_blocked",
				"stage":      call.Stage,
				"attempt":    attempt,
				"error_type": string(failure.Kind),
				"reason":     failure.Message,
			})
			return RetryResult{Envelope: env, Attempts: attempt, Failure: failure, Guard: GuardStage}
		}
		if x.Breaker.RecordFailure(call.Stage) {
			x.emit(map[string]any{
				"event":                "circuit_breaker_open",
				"stage":                call.Stage,
				"attempt":              attempt,
				"consecutive_failures": x.Breaker.ConsecutiveFailures(),
			})
			return RetryResult{Envelope: env, Attempts: attempt, Failure: x.Breaker.trippedError(failure), Guard: GuardBreaker}
		}
		if attempt == maxAttempts {
			break
		}
		delay := retryDelay(attempt, x.Backoff, failure.RetryAfterMS)
		x.emit(map[string]any{
			"event":      "stage_retry_sleep",
			"stage":      call.Stage,
			"attempt":    attempt,
			"delay_ms":   delay.Milliseconds(),
			"error_type": string(failure.Kind),
		})
		if !sleep(ctx, delay) {
			return RetryResult{Envelope: env, Attempts: attempt, Failure: canceledError(runContextError(ctx)), Guard: GuardCanceled}
		}
	}
	return RetryResult{Envelope: lastEnv, Attempts: maxAttempts, Failure: last, Guard: GuardRetry, Exhausted: true}
}

// conformEnvelope turns malformed or unusable envelopes into non-retryable
// validation failures.
func conformEnvelope(call stageCall, env runtime.Envelope) runtime.Envelope {
	if err := env.Validate(); err != nil {
		return runtime.Fail(runtime.Validationf("%s returned a malformed envelope: %v", call.Stage, err), env.Metrics)
	}
	b, err := json.Marshal(env)
	if err != nil {
		return runtime.Fail(runtime.Validationf("%s envelope is not serializable: %v", call.Stage, err), env.Metrics)
	}
	if err := runtime.ValidateEnvelopeJSON(b); err != nil {
		return runtime.Fail(runtime.Validationf("%s: %v", call.Stage, err), env.Metrics)
	}
	if env.Succeeded() && call.Check != nil {
		if se := call.Check(env); se != nil {
			return runtime.Fail(se, env.Metrics)
		}
	}
	return env
}

func canceledError(err error) *runtime.StageError {
	msg := "run canceled"
	if err != nil {
		msg = "run canceled: " + err.Error()
	}
	return &runtime.StageError{Kind: runtime.KindModel, Message: msg, Code: "canceled", Cause: err}
}

func sleepWithContext(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func runContextError(ctx context.Context) error {
	if ctx == nil || ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil {
		return cause
	}
	return ctx.Err()
}
