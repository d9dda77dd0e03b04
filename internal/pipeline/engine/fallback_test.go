package engine

import (
	"strings"
	"testing"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

func TestFallbackTracker_SummaryAndReport(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	tr := NewFallbackTracker(func() time.Time { return now })
	if tr.Report() != "No fallbacks were used in this run." {
		t.Fatalf("empty report: %q", tr.Report())
	}
	var seen []runtime.FallbackRecord
	tr.onAdd = func(r runtime.FallbackRecord) { seen = append(seen, r) }

	tr.RecordFallback(StageResearch, "no sources", "topic_pivot", "pivot 1 of 2")
	tr.RecordFallback(StageValidation, "too long", "hashtag_trim", "")
	tr.RecordFallback(StageResearch, "no sources", "topic_pivot", "pivot 2 of 2")

	s := tr.Summary()
	if s.TotalFallbacks != 3 || s.ByStage[StageResearch] != 2 || s.ByStrategy["hashtag_trim"] != 1 {
		t.Fatalf("summary: %+v", s)
	}
	if len(seen) != 3 || !seen[0].Timestamp.Equal(now) {
		t.Fatalf("onAdd: %+v", seen)
	}
	report := tr.Report()
	for _, want := range []string{"3 fallback(s)", "research: 2", "[validation] too long via hashtag_trim", "(pivot 2 of 2)"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	snap := tr.Snapshot()
	if len(snap.Records) != 3 || snap.Summary.TotalFallbacks != 3 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestFallbackTracker_EmptySnapshotHasNonNilCollections(t *testing.T) {
	snap := NewFallbackTracker(nil).Snapshot()
	if snap.Records == nil || snap.Summary.ByStage == nil || snap.Summary.ByStrategy == nil {
		t.Fatalf("snapshot collections must be non-nil: %+v", snap)
	}
}
