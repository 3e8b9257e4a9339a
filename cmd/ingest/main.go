// ingest is the batch CLI: collect supplier catalogs, normalize raw records,
// reprice products and follow the change feed.
//
// Usage:
//
//	ingest collect --supplier=<code> [--account=<id>] | --all
//	ingest normalize --supplier=<code> [--reset]
//	ingest reprice --supplier=<code> --marketplace=<id>
//	ingest seed-rules --file=<path>
//	ingest follow
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/app"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "ingest",
	Short:         "Collect, normalize and price supplier catalogs",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_PATH"), "Path to config file")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(repriceCmd)
	rootCmd.AddCommand(seedRulesCmd)
	rootCmd.AddCommand(followCmd)
}

// bootstrap loads configuration and wires the application. The returned
// context is cancelled on SIGINT or SIGTERM.
func bootstrap(cmd *cobra.Command) (context.Context, *app.App, func(), error) {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := app.New(cfg, appLogger)
	if err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	ctx = appLogger.WithContext(ctx)
	ctx = logger.SetComponent(ctx, "ingest-"+cmd.Name())

	cleanup := func() {
		stop()
		if err := a.Close(); err != nil {
			appLogger.WithError(err).Warn("Failed to close resources")
		}
		_ = logger.Sync()
	}
	return ctx, a, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
