package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/stages/sim"
)

type configFlags struct {
	path     string
	runsRoot string
	field    string
}

func (f *configFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.path, "config", "", "Run config file (.yaml or .json); defaults apply when omitted")
	cmd.Flags().StringVar(&f.runsRoot, "runs-root", "", "Directory holding run directories (overrides runs_root)")
	cmd.Flags().StringVar(&f.field, "field", "", "Content field (overrides field)")
}

// load reads the config file, if any, and applies flag overrides.
func (f *configFlags) load() (*engine.RunConfigFile, error) {
	cfg := engine.DefaultRunConfig()
	if p := strings.TrimSpace(f.path); p != "" {
		loaded, err := engine.LoadRunConfigFile(p)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if v := strings.TrimSpace(f.runsRoot); v != "" {
		cfg.RunsRoot = v
	}
	if v := strings.TrimSpace(f.field); v != "" {
		cfg.Field = v
	}
	if err := engine.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newRunCmd() *cobra.Command {
	var (
		flags configFlags
		runID string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once with the simulated stage set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			stages, err := sim.NewStages(cfg, cfg.RunsRoot)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runErr := engine.Run(ctx, stages, engine.RunOptions{
				RunID:    runID,
				RunsRoot: cfg.RunsRoot,
				Config:   cfg,
			})
			if res == nil {
				return runErr
			}
			printResult(cmd, res)
			if res.Status != runtime.RunSuccess {
				return &exitError{code: 1}
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&runID, "run-id", "", "Run id (default: <date>-<ulid>)")
	return cmd
}

func printResult(cmd *cobra.Command, res *engine.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "run_id=%s\n", res.RunID)
	fmt.Fprintf(out, "run_root=%s\n", res.RunRoot)
	fmt.Fprintf(out, "status=%s\n", res.Status)
	if s := res.Summary; s != nil {
		if s.Topic != "" {
			fmt.Fprintf(out, "topic=%s\n", s.Topic)
		}
		fmt.Fprintf(out, "total_cost_usd=%.4f\n", s.Metrics.TotalCostUSD)
		fmt.Fprintf(out, "total_retries=%d\n", s.Metrics.TotalRetries)
		fmt.Fprintf(out, "fallbacks=%d\n", s.FallbackSummary.TotalFallbacks)
	}
	if res.Status == runtime.RunSuccess {
		fmt.Fprintf(out, "final_post=%s\n", filepath.Join(res.RunRoot, engine.ArtifactFinalPost))
	}
	if f := res.Failure; f != nil {
		fmt.Fprintf(out, "failed_stage=%s\n", f.FailedStage)
		fmt.Fprintf(out, "error_type=%s\n", f.ErrorType)
		fmt.Fprintf(out, "guard=%s\n", f.Guard)
		fmt.Fprintf(out, "failure_reason=%s\n", f.Message)
		fmt.Fprintf(out, "failure_report=%s\n", filepath.Join(res.RunRoot, engine.ArtifactRunFailed))
	}
	errOut := cmd.ErrOrStderr()
	for _, w := range res.Warnings {
		fmt.Fprintf(errOut, "WARNING: %s\n", w)
	}
	if res.CostReport != "" {
		fmt.Fprint(errOut, res.CostReport)
	}
}
