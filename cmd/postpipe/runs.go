package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runstate"
)

func newRunsCmd() *cobra.Command {
	var (
		runsRoot string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			snaps, err := runstate.ListRuns(runsRoot, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(snaps)
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s\t%s\t$%.4f\t%s\n", s.RunID, s.State, s.TotalCostUSD, s.Topic)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runsRoot, "runs-root", "runs", "Directory holding run directories")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}
