package cost

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

func TestAuthorize_RejectsCallLimitWithoutMutation(t *testing.T) {
	g := NewGuard(Limits{MaxCalls: 2, MaxCostUSD: 3}, DefaultPricing())
	for i := 0; i < 2; i++ {
		if _, err := g.Authorize("draft", CallText, 400); err != nil {
			t.Fatalf("Authorize %d: %v", i, err)
		}
		g.Record("draft", CallText, Usage{InputTokens: 100, OutputTokens: 100})
	}
	before := g.Snapshot()
	_, err := g.Authorize("draft", CallText, 400)
	se, ok := runtime.AsStageError(err)
	if !ok || se.Kind != runtime.KindBudgetExceeded {
		t.Fatalf("expected BudgetExceededError, got %v", err)
	}
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded cause")
	}
	after := g.Snapshot()
	if after.CallsMade != before.CallsMade || after.TotalCostUSD != before.TotalCostUSD {
		t.Fatalf("rejected call mutated the ledger: before=%+v after=%+v", before, after)
	}
}

func TestAuthorize_RejectsProjectedCost(t *testing.T) {
	p := DefaultPricing()
	p.ImagePerCallUSD = 1.00
	g := NewGuard(Limits{MaxCalls: 25, MaxCostUSD: 3}, p)
	for i := 0; i < 3; i++ {
		if _, err := g.Authorize("image", CallImage, 0); err != nil {
			t.Fatalf("Authorize %d: %v", i, err)
		}
		g.Record("image", CallImage, Usage{Images: 1})
	}
	if _, err := g.Authorize("image", CallImage, 0); err == nil {
		t.Fatalf("expected projected cost 4.00 > 3.00 to be rejected")
	}
	if got := g.CallsMade(); got != 3 {
		t.Fatalf("calls made: got %d want 3", got)
	}
}

func TestAuthorize_ExactlyAtLimitIsAllowed(t *testing.T) {
	p := DefaultPricing()
	p.ImagePerCallUSD = 1.50
	g := NewGuard(Limits{MaxCalls: 25, MaxCostUSD: 3}, p)
	g.Record("image", CallImage, Usage{Images: 1})
	if _, err := g.Authorize("image", CallImage, 0); err != nil {
		t.Fatalf("projected total equal to max must be allowed: %v", err)
	}
}

func TestLocalCallsAreNeitherCheckedNorCounted(t *testing.T) {
	g := NewGuard(Limits{MaxCalls: 1, MaxCostUSD: 3}, DefaultPricing())
	g.Record("draft", CallText, Usage{InputTokens: 10})
	if _, err := g.Authorize("select", CallLocal, 100); err != nil {
		t.Fatalf("local call rejected: %v", err)
	}
	g.Record("select", CallLocal, Usage{InputTokens: 1000})
	if got := g.CallsMade(); got != 1 {
		t.Fatalf("calls made: got %d want 1", got)
	}
}

func TestLedgerTotalEqualsStageSum(t *testing.T) {
	g := NewGuard(DefaultLimits(), DefaultPricing())
	usages := []struct {
		stage string
		kind  CallKind
		u     Usage
	}{
		{"research", CallText, Usage{InputTokens: 1234, OutputTokens: 987}},
		{"draft", CallText, Usage{InputTokens: 333, OutputTokens: 777}},
		{"draft", CallText, Usage{CostUSD: 0.0123457}},
		{"validate", CallText, Usage{InputTokens: 1, OutputTokens: 1}},
		{"image", CallImage, Usage{Images: 1}},
	}
	var sum float64
	for _, u := range usages {
		sum += g.Record(u.stage, u.kind, u.u)
	}
	if !g.Consistent() {
		t.Fatalf("ledger total does not equal per-stage sum")
	}
	snap := g.Snapshot()
	var stageSum float64
	for _, v := range snap.CostByStage {
		stageSum += v
	}
	if math.Abs(stageSum-snap.TotalCostUSD) > 1e-9 || math.Abs(sum-snap.TotalCostUSD) > 1e-9 {
		t.Fatalf("total=%v stage sum=%v recorded sum=%v", snap.TotalCostUSD, stageSum, sum)
	}
	if snap.CallsByStage["draft"] != 2 || snap.CallsMade != 5 {
		t.Fatalf("calls: %+v", snap)
	}
	if snap.CallsRemaining != 20 {
		t.Fatalf("calls remaining: got %d want 20", snap.CallsRemaining)
	}
}

func TestRecord_WarnsOnceAtThreshold(t *testing.T) {
	var warnings []string
	p := DefaultPricing()
	p.ImagePerCallUSD = 0.30
	g := NewGuard(DefaultLimits(), p, WithWarn(func(msg string) { warnings = append(warnings, msg) }))
	g.Record("image", CallImage, Usage{Images: 1})
	if len(warnings) != 0 {
		t.Fatalf("warned below threshold: %v", warnings)
	}
	g.Record("image", CallImage, Usage{Images: 1})
	g.Record("image", CallImage, Usage{Images: 1})
	if len(warnings) != 1 {
		t.Fatalf("warnings: got %d want 1 (%v)", len(warnings), warnings)
	}
	if !strings.Contains(warnings[0], "advisory threshold") {
		t.Fatalf("warning text: %q", warnings[0])
	}
}

func TestPricing_EstimateAndPrice(t *testing.T) {
	p := DefaultPricing()
	// 4000 chars -> 1000 input tokens; 1000 estimated output tokens.
	want := 1000*1.25/1e6 + 1000*10.0/1e6
	if got := p.Estimate(CallText, 4000); math.Abs(got-want) > 1e-12 {
		t.Fatalf("Estimate: got %v want %v", got, want)
	}
	if got := p.EstimateTokens(3); got != 1 {
		t.Fatalf("EstimateTokens(3): got %d want 1", got)
	}
	if got := p.Price(CallText, Usage{CostUSD: 0.5, InputTokens: 1e6}); got != 0.5 {
		t.Fatalf("reported cost must win: got %v", got)
	}
	if got := p.Price(CallImage, Usage{}); got != p.ImagePerCallUSD {
		t.Fatalf("image price: got %v", got)
	}
}

func TestEstimateRun_SkipsLocalCalls(t *testing.T) {
	est := EstimateRun(DefaultPricing(), []PlannedCall{
		{Stage: "select", Kind: CallLocal},
		{Stage: "research", Kind: CallText, InputChars: 4000},
		{Stage: "image", Kind: CallImage},
	})
	if est.TextCalls != 1 || est.ImageCalls != 1 {
		t.Fatalf("calls: %+v", est)
	}
	if _, ok := est.ByStage["select"]; ok {
		t.Fatalf("local stage priced: %+v", est.ByStage)
	}
	if est.TotalCostUSD <= 0.04 {
		t.Fatalf("total: got %v", est.TotalCostUSD)
	}
}
