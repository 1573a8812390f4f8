package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/researcher/internal/app"
	"github.com/Kocoro-lab/Shannon/go/researcher/internal/config"
)

// cliDeps lets tests replace the completion and search backends.
type cliDeps struct {
	opts app.Options
}

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd(deps cliDeps) *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "research",
		Short:         "Multi-agent research orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "Path to research.yaml (default $RESEARCH_CONFIG or ./config/research.yaml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Override the configured log level")

	root.AddCommand(
		newRunCmd(flags, deps),
		newValidateCmd(),
		newTokenCmd(flags),
	)
	return root
}

// load reads configuration and builds a logger. CLI logs go to stderr so
// stdout carries only the report.
func (f *rootFlags) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.NewLoader(f.configPath, nil).Load()
	if err != nil {
		return nil, nil, err
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	} else if cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	cfg.Logging.Format = "console"
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
