package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/cost"
	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/engine"
)

func newInitConfigCmd() *cobra.Command {
	var (
		field string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a run config with every default filled in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			cfg := engine.DefaultRunConfig()
			if v := strings.TrimSpace(field); v != "" {
				cfg.Field = v
			}
			if err := engine.SaveRunConfigFile(path, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config=%s\nfield=%s\n", path, cfg.Field)
			return nil
		},
	}
	cmd.Flags().StringVar(&field, "field", "", "Content field: "+strings.Join(engine.AllowedFields, " | "))
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

func newEstimateCmd() *cobra.Command {
	var (
		flags      configFlags
		inputChars int
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the cost of a typical run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			est := cost.EstimateRun(cfg.Pricing, engine.TypicalPlan(inputChars))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "text_calls=%d\n", est.TextCalls)
			fmt.Fprintf(out, "image_calls=%d\n", est.ImageCalls)
			for _, s := range engine.StageNames() {
				if v, ok := est.ByStage[s]; ok {
					fmt.Fprintf(out, "stage.%s=%.4f\n", s, v)
				}
			}
			fmt.Fprintf(out, "total_cost_usd=%.4f\n", est.TotalCostUSD)
			fmt.Fprintf(out, "max_cost_per_run_usd=%.2f\n", cfg.Budget.MaxCostPerRunUSD)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&inputChars, "input-chars", 4000, "Prompt characters per text call")
	return cmd
}
