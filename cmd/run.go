package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/icrawler/internal/launcher"
)

// runEngine starts the engine. Tests replace it to inspect the settings.
var runEngine = launcher.Run

type runOptions struct {
	schema   string
	workers  int
	logLevel string
}

func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Starts the ingestion engine",
		Long: `Loads the configured plugins of one schema, recovers checkpointed work
and runs the source providers, dispatcher and sink until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), root, opts)
		},
	}
	cmd.Flags().StringVar(&opts.schema, "schema", "", "plugin schema to run (overrides engine.schema)")
	cmd.Flags().IntVar(&opts.workers, "task", 0, "dispatcher and sink worker count (overrides engine settings)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error")
	return cmd
}

func runCommand(ctx context.Context, root *rootOptions, opts *runOptions) error {
	if opts.workers < 0 {
		return fmt.Errorf("--task must not be negative, got %d", opts.workers)
	}
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	err = runEngine(ctx, launcher.Settings{
		Config:  cfg,
		Schema:  opts.schema,
		Workers: opts.workers,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run engine: %w", err)
	}
	return nil
}
