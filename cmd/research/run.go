package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/app"
)

type runFlags struct {
	output       string
	asJSON       bool
	maxSubagents int
	maxDuration  time.Duration
	noSave       bool
}

func newRunCmd(root *rootFlags, deps cliDeps) *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <query>",
		Short: "Research a question and print the cited report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResearch(cmd, root, flags, deps, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Write the report to this file instead of stdout")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "Print the full result as JSON")
	cmd.Flags().IntVar(&flags.maxSubagents, "max-subagents", 0, "Override research.max_subagents")
	cmd.Flags().DurationVar(&flags.maxDuration, "max-duration", 0, "Stop starting new rounds after this long")
	cmd.Flags().BoolVar(&flags.noSave, "no-save", false, "Do not persist the report")
	return cmd
}

func runResearch(cmd *cobra.Command, root *rootFlags, flags *runFlags, deps cliDeps, query string) error {
	cfg, logger, err := root.load()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if flags.maxSubagents > 0 {
		cfg.Research.MaxSubagents = flags.maxSubagents
	}
	if flags.maxDuration > 0 {
		cfg.Research.MaxDuration = flags.maxDuration
	}
	if flags.noSave {
		cfg.Research.SaveReports = false
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	a, err := app.Build(ctx, cfg, deps.opts, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result := a.Orchestrator.Run(ctx, query)

	out := cmd.OutOrStdout()
	if flags.output != "" {
		if err := os.WriteFile(flags.output, []byte(result.Report), 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Report written to %s\n", flags.output)
	}
	switch {
	case flags.asJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	case flags.output == "":
		fmt.Fprintln(out, result.Report)
	}

	if !result.Success {
		return errors.New("research failed: " + result.Error)
	}
	if len(result.Degradations) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "Completed with degradations: %v\n", result.Degradations)
	}
	return nil
}
