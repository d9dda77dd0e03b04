// Package eventlog is the append-only NDJSON audit log shared by every run
// under a runs root.
package eventlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Event is one stage attempt.
type Event struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"run_id"`
	Stage      string    `json:"stage"`
	Attempt    int       `json:"attempt"`
	Status     string    `json:"status"`
	ErrorType  string    `json:"error_type,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CostUSD    *float64  `json:"cost_usd,omitempty"`
}

// appendLocks serializes appends per file across every Log in the process.
var appendLocks sync.Map

func lockFor(path string) *sync.Mutex {
	mu, _ := appendLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

type Log struct {
	path string
}

func Open(path string) (*Log, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("event log path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	return &Log{path: abs}, nil
}

func (l *Log) Path() string { return l.path }

// Append writes ev as one line. Each line is a single write on an O_APPEND
// descriptor under the per-path lock.
func (l *Log) Append(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b = append(b, '\n')

	mu := lockFor(l.path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Read returns every event in file order. Malformed lines are skipped.
func (l *Log) Read() ([]Event, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	var out []Event
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, sc.Err()
}

func (l *Log) RunEvents(runID string) ([]Event, error) {
	all, err := l.Read()
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, ev := range all {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Summary aggregates the events of one run.
type Summary struct {
	RunID           string         `json:"run_id"`
	Attempts        int            `json:"attempts"`
	Successes       int            `json:"successes"`
	Errors          int            `json:"errors"`
	ErrorsByType    map[string]int `json:"errors_by_type"`
	AttemptsByStage map[string]int `json:"attempts_by_stage"`
	Stages          []string       `json:"stages"`
	TotalDurationMS int64          `json:"total_duration_ms"`
	TotalCostUSD    float64        `json:"total_cost_usd"`
	FirstEvent      time.Time      `json:"first_event"`
	LastEvent       time.Time      `json:"last_event"`
}

func Summarize(runID string, events []Event) Summary {
	s := Summary{
		RunID:           runID,
		ErrorsByType:    map[string]int{},
		AttemptsByStage: map[string]int{},
	}
	for _, ev := range events {
		if ev.RunID != runID {
			continue
		}
		s.Attempts++
		if _, seen := s.AttemptsByStage[ev.Stage]; !seen {
			s.Stages = append(s.Stages, ev.Stage)
		}
		s.AttemptsByStage[ev.Stage]++
		if ev.Status == "ok" {
			s.Successes++
		} else {
			s.Errors++
			if ev.ErrorType != "" {
				s.ErrorsByType[ev.ErrorType]++
			}
		}
		s.TotalDurationMS += ev.DurationMS
		if ev.CostUSD != nil {
			s.TotalCostUSD += *ev.CostUSD
		}
		if s.FirstEvent.IsZero() || ev.Timestamp.Before(s.FirstEvent) {
			s.FirstEvent = ev.Timestamp
		}
		if ev.Timestamp.After(s.LastEvent) {
			s.LastEvent = ev.Timestamp
		}
	}
	return s
}
