package runtime

import (
	"time"
)

type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// FallbackRecord is one use of a degraded path.
type FallbackRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Reason    string    `json:"reason"`
	Strategy  string    `json:"strategy"`
	Detail    string    `json:"detail,omitempty"`
}

type FallbackSummary struct {
	TotalFallbacks int            `json:"total_fallbacks"`
	ByStage        map[string]int `json:"by_stage"`
	ByStrategy     map[string]int `json:"by_strategy"`
}

type FallbackSnapshot struct {
	Summary FallbackSummary  `json:"summary"`
	Records []FallbackRecord `json:"records"`
}

type CostSnapshot struct {
	CallsMade          int                `json:"calls_made"`
	MaxCalls           int                `json:"max_calls"`
	CallsRemaining     int                `json:"calls_remaining"`
	TotalCostUSD       float64            `json:"total_cost_usd"`
	MaxCostUSD         float64            `json:"max_cost_usd"`
	BudgetRemainingUSD float64            `json:"budget_remaining_usd"`
	CostByStage        map[string]float64 `json:"cost_by_stage"`
	CallsByStage       map[string]int     `json:"calls_by_stage"`
}

type BreakerSnapshot struct {
	ConsecutiveFailures int    `json:"consecutive_failures"`
	Threshold           int    `json:"threshold"`
	Open                bool   `json:"open"`
	LastFailureStage    string `json:"last_failure_stage,omitempty"`
}

type RunMetrics struct {
	TotalDurationMS       int64   `json:"total_duration_ms"`
	TotalCostUSD          float64 `json:"total_cost_usd"`
	TotalRetries          int     `json:"total_retries"`
	ConvergenceIterations int     `json:"convergence_iterations"`
	PivotsUsed            int     `json:"pivots_used"`
}

// RunSummary is written at the end of every run, successful or not.
type RunSummary struct {
	Timestamp       time.Time         `json:"timestamp"`
	RunID           string            `json:"run_id"`
	Status          RunStatus         `json:"status"`
	Field           string            `json:"field"`
	Topic           string            `json:"topic,omitempty"`
	Artifacts       map[string]string `json:"artifacts"`
	Metrics         RunMetrics        `json:"metrics"`
	Cost            CostSnapshot      `json:"cost"`
	FallbackSummary FallbackSummary   `json:"fallback_summary"`
	FallbackReport  string            `json:"fallback_report"`
	Warnings        []string          `json:"warnings,omitempty"`
	FailureReport   string            `json:"failure_report,omitempty"`
}

// RunFailureReport is persisted when a run aborts.
type RunFailureReport struct {
	Timestamp               time.Time        `json:"timestamp"`
	RunID                   string           `json:"run_id"`
	FailedStage             string           `json:"failed_stage"`
	ErrorType               ErrorKind        `json:"error_type"`
	Message                 string           `json:"message"`
	Guard                   string           `json:"guard"`
	Trace                   string           `json:"trace"`
	AttemptsMade            int              `json:"attempts_made"`
	StateTrail              []string         `json:"state_trail"`
	CircuitBreakerState     BreakerSnapshot  `json:"circuit_breaker_state"`
	CostLedgerSnapshot      CostSnapshot     `json:"cost_ledger_snapshot"`
	FallbackTrackerSnapshot FallbackSnapshot `json:"fallback_tracker_snapshot"`
}
