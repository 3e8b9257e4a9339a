package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var repriceFlags struct {
	supplier    string
	marketplace string
}

var repriceCmd = &cobra.Command{
	Use:   "reprice",
	Short: "Compute listing prices for every product of a supplier",
	RunE:  runReprice,
}

var seedRulesFile string

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Append pricing rules from a YAML file",
	RunE:  runSeedRules,
}

func init() {
	f := repriceCmd.Flags()
	f.StringVar(&repriceFlags.supplier, "supplier", "", "Supplier code (required)")
	f.StringVar(&repriceFlags.marketplace, "marketplace", "", "Marketplace id (required)")
	_ = repriceCmd.MarkFlagRequired("supplier")
	_ = repriceCmd.MarkFlagRequired("marketplace")

	seedRulesCmd.Flags().StringVarP(&seedRulesFile, "file", "f", "", "Rule file (defaults to pricing.rules_path)")
}

func runReprice(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stats, err := a.Pricing.Reprice(ctx, repriceFlags.supplier, repriceFlags.marketplace)
	if stats != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "products=%d priced=%d default=%d failed=%d\n",
			stats.Products, stats.Priced, stats.Default, stats.Failed)
	}
	return err
}

func runSeedRules(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	path := seedRulesFile
	if path == "" {
		path = a.Config.Pricing.RulesPath
	}
	if path == "" {
		return fmt.Errorf("no rule file given and pricing.rules_path is empty")
	}
	n, err := a.Pricing.SeedRules(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d rules from %s\n", n, path)
	return nil
}
