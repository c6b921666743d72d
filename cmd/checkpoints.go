package cmd

import (
	"context"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/icrawler/internal/launcher"
)

type checkpointsOptions struct {
	dir    string
	values bool
}

func newCheckpointsCmd(root *rootOptions) *cobra.Command {
	opts := &checkpointsOptions{}
	cmd := &cobra.Command{
		Use:   "checkpoints [prefix]",
		Short: "Lists stored checkpoints",
		Long: `Prints the checkpoint keys under an optional prefix, one per line.
With --values each key is followed by its stored JSON.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := ""
			if len(args) == 1 {
				prefix = args[0]
			}
			return listCheckpoints(cmd.Context(), cmd.OutOrStdout(), root, opts, prefix)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "checkpoint directory (overrides checkpoint.dir)")
	cmd.Flags().BoolVar(&opts.values, "values", false, "print stored values")
	return cmd
}

func listCheckpoints(ctx context.Context, out io.Writer, root *rootOptions, opts *checkpointsOptions, prefix string) error {
	cfg, err := loadConfig(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if opts.dir != "" {
		cfg.Checkpoint.Dir = opts.dir
	}
	store, err := launcher.OpenStore(cfg.Checkpoint, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	keys, err := store.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("list checkpoints: %w", err)
	}
	for _, key := range keys {
		if !opts.values {
			fmt.Fprintln(out, key)
			continue
		}
		var value json.RawMessage
		found, err := store.Read(ctx, key, &value)
		if err != nil {
			return fmt.Errorf("read checkpoint %s: %w", key, err)
		}
		if !found {
			continue
		}
		fmt.Fprintf(out, "%s\t%s\n", key, value)
	}
	return nil
}
