// Package cmd defines the CLI commands for the icrawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/icrawler/internal/config"
)

// loadConfig is a variable so tests can feed configs without touching disk.
var loadConfig = config.Load

type rootOptions struct {
	configPath string
}

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "icrawler",
		Short: "Continuous plugin-driven ingestion engine.",
		Long: `icrawler pulls work messages from configured sources, runs them through
registered processor plugins with pagination and detail fan-out, and hands
every result to a storage pipeline. In-flight work is checkpointed so a
restarted engine resumes where it stopped.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newCheckpointsCmd(opts))
	return cmd
}

// Execute runs the root command until ctx is cancelled.
func Execute(ctx context.Context) {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
