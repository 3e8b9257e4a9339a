package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/timmy/catalogsync/internal/events"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/service"
)

var followFlags struct {
	batchSize    int
	batchTimeout time.Duration
}

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Normalize records as their change events arrive",
	RunE:  runFollow,
}

func init() {
	f := followCmd.Flags()
	f.IntVar(&followFlags.batchSize, "batch-size", 500, "Changes per normalization call")
	f.DurationVar(&followFlags.batchTimeout, "batch-timeout", 2*time.Second, "Longest wait before a partial batch is handled")
}

func runFollow(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := bootstrap(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if !a.Config.Kafka.Enabled {
		return fmt.Errorf("kafka is disabled; enable it to follow the change feed")
	}
	listener := events.NewListener(a.Config.Kafka, events.ListenerConfig{
		BatchSize:    followFlags.batchSize,
		BatchTimeout: followFlags.batchTimeout,
	})
	defer listener.Close()

	logger.CtxInfo(ctx, "Following change feed: topic=%s, group=%s", a.Config.Kafka.Topic, a.Config.Kafka.GroupID)
	return listener.Run(ctx, func(ctx context.Context, changes []events.Change) error {
		for supplier, ids := range events.GroupBySupplier(changes) {
			stats, err := a.Normalize.NormalizeKeys(ctx, supplier, ids)
			if errors.Is(err, service.ErrNoMapping) {
				logger.CtxWarn(ctx, "Ignoring changes without mapping: supplier=%s, count=%d", supplier, len(ids))
				continue
			}
			if err != nil {
				return err
			}
			logger.CtxDebug(ctx, "Normalized from feed: supplier=%s, normalized=%d, skipped=%d",
				supplier, stats.Normalized, stats.Skipped)
		}
		return nil
	})
}
