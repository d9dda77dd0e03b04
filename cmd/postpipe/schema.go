package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lilfetz22/linkedIn-post-automation-multi-agent/internal/pipeline/runtime"
)

func newSchemaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Print JSON Schemas of pipeline documents",
	}
	cmd.AddCommand(
		schemaSubcommand("summary", "Run summary (95_run_summary.json)", runtime.SummarySchemaJSON),
		schemaSubcommand("failure", "Failure report (99_run_failed.json)", runtime.FailureReportSchemaJSON),
		schemaSubcommand("envelope", "Stage result envelope", func() ([]byte, error) { return runtime.EnvelopeSchemaJSON(), nil }),
	)
	return cmd
}

func schemaSubcommand(name, short string, gen func() ([]byte, error)) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := gen()
			if err != nil {
				return fmt.Errorf("generate schema: %w", err)
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, data, "", "  "); err != nil {
				return fmt.Errorf("format schema: %w", err)
			}
			buf.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
}
