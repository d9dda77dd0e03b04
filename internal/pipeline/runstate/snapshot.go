package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

type State string

const (
	StateUnknown    State = "unknown"
	StateIncomplete State = "incomplete"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Snapshot is a compact view of one run directory.
type Snapshot struct {
	RunID   string `json:"run_id"`
	RunRoot string `json:"run_root"`
	State   State  `json:"state"`
	Topic   string `json:"topic,omitempty"`

	// Status is the run summary's status, empty until the summary is written.
	Status runtime.RunStatus `json:"status,omitempty"`

	LastEvent    string    `json:"last_event,omitempty"`
	LastEventAt  time.Time `json:"last_event_at,omitempty"`
	CurrentStage string    `json:"current_stage,omitempty"`

	FailedStage   string `json:"failed_stage,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
	Guard         string `json:"guard,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	TotalCostUSD float64 `json:"total_cost_usd"`
	Fallbacks    int     `json:"fallbacks"`
	Pivots       int     `json:"pivots"`
	Iterations   int     `json:"convergence_iterations"`
}

// LoadSnapshot reads the artifacts in runRoot and returns a compact run snapshot.
func LoadSnapshot(runRoot string) (*Snapshot, error) {
	root := strings.TrimSpace(runRoot)
	if root == "" {
		return nil, fmt.Errorf("run root is required")
	}
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	s := &Snapshot{
		RunID:   filepath.Base(root),
		RunRoot: root,
		State:   StateUnknown,
	}
	if err := applyRunSummary(s); err != nil {
		return nil, err
	}
	if err := applyFailureReport(s); err != nil {
		return nil, err
	}
	// The run summary is authoritative; progress only fills in activity.
	if err := applyLastProgress(s, s.State == StateUnknown); err != nil {
		return nil, err
	}
	return s, nil
}

func applyRunSummary(s *Snapshot) error {
	var doc runtime.RunSummary
	found, err := readJSON(filepath.Join(s.RunRoot, engine.ArtifactRunSummary), &doc)
	if err != nil || !found {
		return err
	}
	if rid := strings.TrimSpace(doc.RunID); rid != "" {
		s.RunID = rid
	}
	s.Status = doc.Status
	switch doc.Status {
	case runtime.RunSuccess:
		s.State = StateCompleted
	case runtime.RunFailed:
		s.State = StateFailed
	}
	s.Topic = doc.Topic
	s.TotalCostUSD = doc.Metrics.TotalCostUSD
	s.Fallbacks = doc.FallbackSummary.TotalFallbacks
	s.Pivots = doc.Metrics.PivotsUsed
	s.Iterations = doc.Metrics.ConvergenceIterations
	return nil
}

func applyFailureReport(s *Snapshot) error {
	var doc runtime.RunFailureReport
	found, err := readJSON(filepath.Join(s.RunRoot, engine.ArtifactRunFailed), &doc)
	if err != nil || !found {
		return err
	}
	s.State = StateFailed
	s.FailedStage = doc.FailedStage
	s.ErrorType = string(doc.ErrorType)
	s.Guard = doc.Guard
	s.FailureReason = doc.Message
	if s.TotalCostUSD == 0 {
		s.TotalCostUSD = doc.CostLedgerSnapshot.TotalCostUSD
	}
	return nil
}

func applyLastProgress(s *Snapshot, fillState bool) error {
	ev, found, err := readLastProgressEvent(filepath.Join(s.RunRoot, engine.ProgressFile))
	if err != nil || !found {
		return err
	}
	s.LastEvent = eventString(ev["event"])
	if ts := parseEventTime(ev["ts"]); !ts.IsZero() {
		s.LastEventAt = ts
	}
	if stage := eventString(ev["stage"]); stage != "" {
		s.CurrentStage = stage
	}
	if fillState {
		s.State = StateIncomplete
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", path, err)
	}
	return true, nil
}

func readLastProgressEvent(path string) (map[string]any, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	last := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, err
	}
	if last == "" {
		return nil, false, nil
	}

	var ev map[string]any
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return ev, true, nil
}

func eventString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseEventTime(v any) time.Time {
	raw := eventString(v)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	return time.Time{}
}
