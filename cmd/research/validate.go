package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/citation"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/research"
)

func newValidateCmd() *cobra.Command {
	var (
		sourcesPath string
		numSources  int
		strict      bool
	)
	cmd := &cobra.Command{
		Use:   "validate <report.md>",
		Short: "Check that inline citations reference existing sources",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read report: %w", err)
			}
			total := numSources
			if sourcesPath != "" {
				data, err := os.ReadFile(sourcesPath)
				if err != nil {
					return fmt.Errorf("read sources: %w", err)
				}
				var sources []research.EvidenceItem
				if err := json.Unmarshal(data, &sources); err != nil {
					return fmt.Errorf("parse sources: %w", err)
				}
				total = len(sources)
			}

			v := citation.Validate(string(report), total)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(v); err != nil {
				return err
			}
			if strict && !v.Valid {
				return errors.New("citation validation failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sourcesPath, "sources", "", "JSON array of sources the report cites")
	cmd.Flags().IntVar(&numSources, "num-sources", 0, "Number of sources, when no --sources file is given")
	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when validation fails")
	return cmd
}
