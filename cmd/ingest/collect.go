package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

var collectFlags struct {
	supplier string
	account  string
	all      bool
}

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run a collection batch for one supplier or every enabled supplier",
	RunE:  runCollect,
}

func init() {
	f := collectCmd.Flags()
	f.StringVar(&collectFlags.supplier, "supplier", "", "Supplier code")
	f.StringVar(&collectFlags.account, "account", "", "Supplier account id")
	f.BoolVar(&collectFlags.all, "all", false, "Collect every enabled supplier in parallel")

	collectCmd.MarkFlagsMutuallyExclusive("supplier", "all")
	collectCmd.MarkFlagsOneRequired("supplier", "all")
}

func runCollect(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if collectFlags.all {
		var adapters []source.Adapter
		for _, code := range a.Adapters.Codes() {
			adapter, _ := a.Adapters.Get(code)
			adapters = append(adapters, adapter)
		}
		var errs []error
		for _, res := range a.Ingest.CollectAll(ctx, adapters, collectFlags.account, a.Filters) {
			if res.Batch != nil {
				printBatch(cmd, res.Batch)
			}
			if res.Err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", res.SupplierID, res.Err))
			}
		}
		return errors.Join(errs...)
	}

	adapter, err := a.Adapter(collectFlags.supplier)
	if err != nil {
		return err
	}
	b, err := a.Ingest.Collect(ctx, adapter, collectFlags.account, a.Filters[collectFlags.supplier])
	if b != nil {
		printBatch(cmd, b)
	}
	if err != nil {
		logger.CtxError(ctx, "Collection failed: supplier=%s, error=%v", collectFlags.supplier, err)
		return err
	}
	return nil
}

func printBatch(cmd *cobra.Command, b *domain.Batch) {
	fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s  %-9s inserted=%d updated=%d unchanged=%d failed=%d progress=%d%%\n",
		b.SupplierID, b.ID, b.Status, b.Inserted, b.Updated, b.Unchanged, b.Failed, b.Progress())
}
