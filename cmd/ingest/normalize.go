package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var normalizeFlags struct {
	supplier string
	reset    bool
}

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Normalize unprocessed raw records into canonical products",
	RunE:  runNormalize,
}

func init() {
	f := normalizeCmd.Flags()
	f.StringVar(&normalizeFlags.supplier, "supplier", "", "Supplier code (required)")
	f.BoolVar(&normalizeFlags.reset, "reset", false, "Queue every record of the supplier again first")

	_ = normalizeCmd.MarkFlagRequired("supplier")
}

func runNormalize(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if normalizeFlags.reset {
		n, err := a.Normalize.Reset(ctx, normalizeFlags.supplier)
		if err != nil {
			return fmt.Errorf("reset: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Reset %d records\n", n)
	}

	stats, err := a.Normalize.Run(ctx, normalizeFlags.supplier)
	if stats != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "processed=%d normalized=%d skipped=%d failed=%d\n",
			stats.Processed, stats.Normalized, stats.Skipped, stats.Failed)
	}
	return err
}
