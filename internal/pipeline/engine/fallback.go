package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

// FallbackRecorder is handed to stages so they can report degraded paths.
type FallbackRecorder interface {
	RecordFallback(stage, reason, strategy, detail string)
}

// FallbackTracker is the single per-run record of fallback usage.
type FallbackTracker struct {
	mu      sync.Mutex
	now     func() time.Time
	records []runtime.FallbackRecord
	onAdd   func(runtime.FallbackRecord)
}

func NewFallbackTracker(now func() time.Time) *FallbackTracker {
	if now == nil {
		now = time.Now
	}
	return &FallbackTracker{now: now}
}

func (t *FallbackTracker) RecordFallback(stage, reason, strategy, detail string) {
	rec := runtime.FallbackRecord{
		Timestamp: t.now().UTC(),
		Stage:     strings.TrimSpace(stage),
		Reason:    strings.TrimSpace(reason),
		Strategy:  strings.TrimSpace(strategy),
		Detail:    strings.TrimSpace(detail),
	}
	t.mu.Lock()
	t.records = append(t.records, rec)
	onAdd := t.onAdd
	t.mu.Unlock()
	if onAdd != nil {
		onAdd(rec)
	}
}

func (t *FallbackTracker) Records() []runtime.FallbackRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]runtime.FallbackRecord{}, t.records...)
}

func (t *FallbackTracker) Summary() runtime.FallbackSummary {
	recs := t.Records()
	s := runtime.FallbackSummary{
		TotalFallbacks: len(recs),
		ByStage:        map[string]int{},
		ByStrategy:     map[string]int{},
	}
	for _, r := range recs {
		s.ByStage[r.Stage]++
		s.ByStrategy[r.Strategy]++
	}
	return s
}

func (t *FallbackTracker) Snapshot() runtime.FallbackSnapshot {
	return runtime.FallbackSnapshot{Summary: t.Summary(), Records: t.Records()}
}

// Report renders fallback usage for a human reader.
func (t *FallbackTracker) Report() string {
	recs := t.Records()
	if len(recs) == 0 {
		return "No fallbacks were used in this run."
	}
	sum := t.Summary()
	stages := make([]string, 0, len(sum.ByStage))
	for s := range sum.ByStage {
		stages = append(stages, s)
	}
	sort.Strings(stages)

	var b strings.Builder
	fmt.Fprintf(&b, "%d fallback(s) used in this run.\n", len(recs))
	for _, s := range stages {
		fmt.Fprintf(&b, "  %s: %d\n", s, sum.ByStage[s])
	}
	b.WriteString("Details:\n")
	for i, r := range recs {
		fmt.Fprintf(&b, "  %d. [%s] %s via %s", i+1, r.Stage, r.Reason, r.Strategy)
		if r.Detail != "" {
			fmt.Fprintf(&b, " (%s)", r.Detail)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
