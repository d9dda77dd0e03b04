package cost

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// ErrBudgetExceeded is the cause carried by every budget rejection.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Limits bounds the spend of a single run.
type Limits struct {
	MaxCalls    int
	MaxCostUSD  float64
	WarnCostUSD float64
}

func DefaultLimits() Limits {
	return Limits{MaxCalls: 25, MaxCostUSD: 3.00, WarnCostUSD: 0.50}
}

// Ledger is the cumulative spend of one run. Amounts are micro-dollars so
// TotalMicros always equals the sum of StageMicros.
type Ledger struct {
	CallsMade    int
	TotalMicros  int64
	StageMicros  map[string]int64
	CallsByStage map[string]int
}

// Guard enforces Limits before each provider call and records actual usage
// after it.
type Guard struct {
	mu      sync.Mutex
	limits  Limits
	pricing Pricing
	ledger  Ledger
	warned  bool
	warn    func(string)
}

type GuardOption func(*Guard)

// WithWarn receives the one-time advisory emitted when spend reaches Limits.WarnCostUSD.
func WithWarn(fn func(string)) GuardOption {
	return func(g *Guard) {
		g.warn = fn
	}
}

func NewGuard(limits Limits, pricing Pricing, opts ...GuardOption) *Guard {
	g := &Guard{
		limits:  limits,
		pricing: pricing,
		ledger: Ledger{
			StageMicros:  map[string]int64{},
			CallsByStage: map[string]int{},
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Authorize checks that one more call of kind would stay within the limits.
// It returns the estimated cost and never mutates the ledger.
func (g *Guard) Authorize(stage string, kind CallKind, inputChars int) (float64, error) {
	if kind == CallLocal {
		return 0, nil
	}
	estimate := g.pricing.Estimate(kind, inputChars)

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.limits.MaxCalls > 0 && g.ledger.CallsMade+1 > g.limits.MaxCalls {
		return estimate, budgetError(fmt.Errorf("%s: call limit %d reached (calls made: %d): %w",
			stage, g.limits.MaxCalls, g.ledger.CallsMade, ErrBudgetExceeded))
	}
	maxMicros := micros(g.limits.MaxCostUSD)
	projected := g.ledger.TotalMicros + micros(estimate)
	if maxMicros > 0 && projected > maxMicros {
		return estimate, budgetError(fmt.Errorf("%s: projected cost %.4f exceeds budget %.2f (current: %.4f, estimate: %.4f): %w",
			stage, dollars(projected), g.limits.MaxCostUSD, dollars(g.ledger.TotalMicros), estimate, ErrBudgetExceeded))
	}
	return estimate, nil
}

// Record adds the actual usage of a completed call and returns its cost.
// Failed calls are recorded too; they were billed.
func (g *Guard) Record(stage string, kind CallKind, u Usage) float64 {
	if kind == CallLocal {
		return 0
	}
	m := micros(g.pricing.Price(kind, u))

	g.mu.Lock()
	g.ledger.CallsMade++
	g.ledger.CallsByStage[stage]++
	g.ledger.StageMicros[stage] += m
	g.ledger.TotalMicros += m
	total := g.ledger.TotalMicros
	fire := !g.warned && g.limits.WarnCostUSD > 0 && total >= micros(g.limits.WarnCostUSD)
	if fire {
		g.warned = true
	}
	g.mu.Unlock()

	if fire && g.warn != nil {
		g.warn(fmt.Sprintf("run cost $%.4f reached the $%.2f advisory threshold", dollars(total), g.limits.WarnCostUSD))
	}
	return dollars(m)
}

func (g *Guard) TotalCostUSD() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return dollars(g.ledger.TotalMicros)
}

func (g *Guard) CallsMade() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ledger.CallsMade
}

// Consistent reports whether the total equals the per-stage sum.
func (g *Guard) Consistent() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	var sum int64
	for _, m := range g.ledger.StageMicros {
		sum += m
	}
	return sum == g.ledger.TotalMicros
}

func (g *Guard) Snapshot() runtime.CostSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := runtime.CostSnapshot{
		CallsMade:    g.ledger.CallsMade,
		MaxCalls:     g.limits.MaxCalls,
		TotalCostUSD: dollars(g.ledger.TotalMicros),
		MaxCostUSD:   g.limits.MaxCostUSD,
		CostByStage:  make(map[string]float64, len(g.ledger.StageMicros)),
		CallsByStage: make(map[string]int, len(g.ledger.CallsByStage)),
	}
	for k, v := range g.ledger.StageMicros {
		snap.CostByStage[k] = dollars(v)
	}
	for k, v := range g.ledger.CallsByStage {
		snap.CallsByStage[k] = v
	}
	if g.limits.MaxCalls > 0 {
		snap.CallsRemaining = g.limits.MaxCalls - g.ledger.CallsMade
	}
	if maxMicros := micros(g.limits.MaxCostUSD); maxMicros > 0 {
		snap.BudgetRemainingUSD = dollars(maxMicros - g.ledger.TotalMicros)
	}
	return snap
}

// Describe renders the ledger for terminal output.
func (g *Guard) Describe() string {
	snap := g.Snapshot()
	stages := make([]string, 0, len(snap.CostByStage))
	for s := range snap.CostByStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)
	var b strings.Builder
	fmt.Fprintf(&b, "calls: %d/%d  cost: $%.4f/$%.2f\n", snap.CallsMade, snap.MaxCalls, snap.TotalCostUSD, snap.MaxCostUSD)
	for _, s := range stages {
		fmt.Fprintf(&b, "  %-14s calls=%d cost=$%.4f\n", s, snap.CallsByStage[s], snap.CostByStage[s])
	}
	return b.String()
}

func budgetError(cause error) *runtime.StageError {
	return &runtime.StageError{
		Kind:    runtime.KindBudgetExceeded,
		Message: cause.Error(),
		Cause:   cause,
	}
}
