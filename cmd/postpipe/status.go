package main

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/artifact"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/eventlog"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runstate"
)

type statusDoc struct {
	*runstate.Snapshot
	Artifacts []string          `json:"artifacts,omitempty"`
	Events    *eventlog.Summary `json:"events,omitempty"`
}

func newStatusCmd() *cobra.Command {
	var (
		runsRoot string
		latest   bool
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "status [run-dir]",
		Short: "Show the state of a run directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runRoot, err := resolveRunRoot(args, runsRoot, latest)
			if err != nil {
				return err
			}
			snap, err := runstate.LoadSnapshot(runRoot)
			if err != nil {
				return err
			}
			doc := statusDoc{Snapshot: snap}
			store, err := artifact.NewStore(runRoot)
			if err != nil {
				return err
			}
			if doc.Artifacts, err = store.List("*.{json,md,txt,png}"); err != nil {
				return err
			}
			log, err := eventlog.Open(filepath.Join(filepath.Dir(runRoot), engine.EventLogFile))
			if err != nil {
				return err
			}
			events, err := log.RunEvents(snap.RunID)
			if err != nil {
				return err
			}
			if len(events) > 0 {
				sum := eventlog.Summarize(snap.RunID, events)
				doc.Events = &sum
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(doc)
			}
			printStatus(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	cmd.Flags().StringVar(&runsRoot, "runs-root", "runs", "Directory holding run directories")
	cmd.Flags().BoolVar(&latest, "latest", false, "Use the newest run under --runs-root")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func resolveRunRoot(args []string, runsRoot string, latest bool) (string, error) {
	switch {
	case len(args) == 1 && latest:
		return "", fmt.Errorf("--latest and a run directory are mutually exclusive")
	case len(args) == 1:
		return args[0], nil
	case latest:
		dirs, err := runstate.RunDirs(runsRoot)
		if err != nil {
			return "", err
		}
		if len(dirs) == 0 {
			return "", fmt.Errorf("no runs under %s", runsRoot)
		}
		return filepath.Join(runsRoot, filepath.FromSlash(dirs[0])), nil
	default:
		return "", fmt.Errorf("a run directory or --latest is required")
	}
}

func printStatus(w io.Writer, doc statusDoc) {
	s := doc.Snapshot
	fmt.Fprintf(w, "run_id=%s\n", s.RunID)
	fmt.Fprintf(w, "run_root=%s\n", s.RunRoot)
	fmt.Fprintf(w, "state=%s\n", s.State)
	if s.Status != "" {
		fmt.Fprintf(w, "status=%s\n", s.Status)
	}
	if s.Topic != "" {
		fmt.Fprintf(w, "topic=%s\n", s.Topic)
	}
	if s.LastEvent != "" {
		fmt.Fprintf(w, "last_event=%s\n", s.LastEvent)
	}
	if !s.LastEventAt.IsZero() {
		fmt.Fprintf(w, "last_event_at=%s\n", s.LastEventAt.Format(time.RFC3339))
	}
	if s.FailedStage != "" {
		fmt.Fprintf(w, "failed_stage=%s\n", s.FailedStage)
		fmt.Fprintf(w, "error_type=%s\n", s.ErrorType)
		fmt.Fprintf(w, "guard=%s\n", s.Guard)
		fmt.Fprintf(w, "failure_reason=%s\n", s.FailureReason)
	}
	fmt.Fprintf(w, "total_cost_usd=%.4f\n", s.TotalCostUSD)
	fmt.Fprintf(w, "fallbacks=%d\n", s.Fallbacks)
	if len(doc.Artifacts) > 0 {
		fmt.Fprintf(w, "artifacts=%s\n", strings.Join(doc.Artifacts, ","))
	}
	if e := doc.Events; e != nil {
		fmt.Fprintf(w, "attempts=%d\n", e.Attempts)
		fmt.Fprintf(w, "attempt_errors=%d\n", e.Errors)
		if len(e.ErrorsByType) > 0 {
			parts := make([]string, 0, len(e.ErrorsByType))
			for k, v := range e.ErrorsByType {
				parts = append(parts, fmt.Sprintf("%s:%d", k, v))
			}
			sort.Strings(parts)
			fmt.Fprintf(w, "errors_by_type=%s\n", strings.Join(parts, ","))
		}
	}
}
