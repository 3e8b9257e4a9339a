// Package app wires configuration into repositories and services for the
// command-line binaries.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/events"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/normalize"
	"github.com/timmy/catalogsync/internal/pricing"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/source/registry"
	"github.com/timmy/catalogsync/internal/storage"
	"gorm.io/gorm"
)

// App holds the long-lived components shared by the binaries.
type App struct {
	Config    *config.Config
	DB        *gorm.DB
	Metrics   *metrics.Metrics
	Adapters  *registry.Registry
	Filters   map[string]source.Filter
	Publisher events.Publisher
	Batches   *repository.BatchRepository
	Ingest    *service.IngestService
	Normalize *service.NormalizeService
	Pricing   *service.PricingService
}

// New opens the database and builds every service.
// Parameters:
//   - cfg: loaded configuration.
//   - log: base logger handed to services.
// Returns:
//   - *App: wired application; call Close when done.
//   - error: non-nil if any component cannot be created.
func New(cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	m := metrics.New()

	archive, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	if s3, ok := archive.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			return nil, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	adapters, err := registry.Build(cfg.Suppliers, archive, m)
	if err != nil {
		return nil, fmt.Errorf("build adapters: %w", err)
	}
	filters := make(map[string]source.Filter, len(cfg.Suppliers))
	for _, s := range cfg.Suppliers {
		f, err := registry.FilterFromConfig(s.Filter)
		if err != nil {
			return nil, fmt.Errorf("supplier %s: %w", s.Code, err)
		}
		filters[s.Code] = f
	}

	mappings, err := loadMappings(cfg.Normalize.MappingsPath)
	if err != nil {
		return nil, err
	}

	ingestCfg := &service.IngestConfig{
		WindowSize:       cfg.Ingest.WindowSize,
		ChunkSize:        cfg.Ingest.ChunkSize,
		ShrinkFactor:     cfg.Ingest.ShrinkFactor,
		MinChunk:         cfg.Ingest.MinChunk,
		SnapshotPageSize: cfg.Ingest.SnapshotPageSize,
		Parallelism:      cfg.Ingest.Parallelism,
	}

	rawRepo := repository.NewRawRecordRepository(db)
	batches := repository.NewBatchRepository(db)
	products := repository.NewProductRepository(db)
	rules := repository.NewPricingRuleRepository(db)
	publisher := events.NewPublisher(cfg.Kafka)

	return &App{
		Config:    cfg,
		DB:        db,
		Metrics:   m,
		Adapters:  adapters,
		Filters:   filters,
		Publisher: publisher,
		Batches:   batches,
		Ingest:    service.NewIngestService(rawRepo, service.NewTracker(batches, m, service.WithLease(cfg.Ingest.BatchLease)), publisher, m, log, ingestCfg),
		Normalize: service.NewNormalizeService(rawRepo, products, mappings, m, cfg.Normalize.PageSize, ingestCfg),
		Pricing: service.NewPricingService(rules, products, newEngine(cfg.Pricing), m, &service.PricingConfig{
			Workers:  cfg.Pricing.Workers,
			PageSize: cfg.Pricing.PageSize,
		}, ingestCfg),
	}, nil
}

func loadMappings(path string) (normalize.Mappings, error) {
	if path == "" {
		return normalize.Mappings{}, nil
	}
	return normalize.LoadMappings(path)
}

func newEngine(cfg config.PricingConfig) *pricing.Engine {
	e := pricing.NewEngine()
	if cfg.DefaultMarginPercent > 0 {
		e.DefaultMarginPercent = decimal.NewFromFloat(cfg.DefaultMarginPercent)
	}
	if cfg.DefaultRoundTo > 0 {
		e.DefaultRoundTo = decimal.NewFromFloat(cfg.DefaultRoundTo)
	}
	if cfg.DefaultFeeRate > 0 {
		e.DefaultFeeRate = decimal.NewFromFloat(cfg.DefaultFeeRate)
	}
	if len(cfg.Fees) > 0 {
		e.Fees = pricing.FeeTableFromFloats(cfg.Fees)
	}
	return e
}

// Adapter returns the adapter of an enabled supplier.
func (a *App) Adapter(code string) (source.Adapter, error) {
	adapter, ok := a.Adapters.Get(code)
	if !ok {
		return nil, fmt.Errorf("supplier %q is not configured or disabled", code)
	}
	return adapter, nil
}

// Close releases the publisher and the database.
func (a *App) Close() error {
	var errs []error
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, err)
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
