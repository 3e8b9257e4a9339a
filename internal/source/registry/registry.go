// Package registry builds provider adapters from supplier configuration.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/source/cursor"
	"github.com/timmy/catalogsync/internal/source/export"
	"github.com/timmy/catalogsync/internal/source/search"
	"github.com/timmy/catalogsync/internal/storage"
)

// Registry holds one adapter per enabled supplier, keyed by supplier code.
type Registry struct {
	adapters map[string]source.Adapter
	order    []string
}

// New creates the adapter for one supplier.
// Parameters:
//   - cfg: supplier configuration with defaults applied.
//   - archive: object storage for export documents; may be nil.
//   - m: metrics sink; may be nil.
// Returns:
//   - source.Adapter: adapter matching cfg.Transport.
//   - error: for an unknown transport.
func New(cfg config.SupplierConfig, archive storage.ObjectStorage, m *metrics.Metrics) (source.Adapter, error) {
	client := source.NewClient(source.ClientConfig{
		SupplierID:   cfg.Code,
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.ResolveAPIKey(),
		APIKeyHeader: cfg.APIKeyHeader,
		Timeout:      cfg.Timeout,
		MinInterval:  cfg.MinInterval,
		MaxAttempts:  cfg.Retry.MaxAttempts,
		BaseDelay:    cfg.Retry.BaseDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Metrics:      m,
	})
	items := source.ItemBuilder{SupplierID: cfg.Code, IDField: cfg.IDField, Metrics: m}

	switch cfg.Transport {
	case config.TransportCursor:
		return cursor.NewAdapter(cursor.Config{
			Path:            cfg.Path,
			PageSize:        cfg.PageSize,
			ItemsField:      cfg.Cursor.ItemsField,
			NextCursorField: cfg.Cursor.NextCursorField,
			HasNextField:    cfg.Cursor.HasNextField,
			CursorParam:     cfg.Cursor.CursorParam,
			PageSizeParam:   cfg.Cursor.PageSizeParam,
			Items:           items,
		}, client), nil
	case config.TransportExport:
		return export.NewAdapter(export.Config{
			Path:         cfg.Path,
			Format:       cfg.Export.Format,
			CountField:   cfg.Export.CountField,
			ItemsField:   cfg.Export.ItemsField,
			ItemElement:  cfg.Export.ItemElement,
			ReplayKey:    cfg.Export.ReplayKey,
			KeepArchives: cfg.Export.KeepArchives,
			Items:        items,
		}, client, archive), nil
	case config.TransportSearch:
		ranges := make([]search.IDRange, 0, len(cfg.Search.IDRanges))
		for _, r := range cfg.Search.IDRanges {
			ranges = append(ranges, search.IDRange{From: r.From, To: r.To})
		}
		return search.NewAdapter(search.Config{
			Path:          cfg.Path,
			PageSize:      cfg.PageSize,
			Terms:         cfg.Search.Terms,
			IDRanges:      ranges,
			TermParam:     cfg.Search.TermParam,
			IDParam:       cfg.Search.IDParam,
			OffsetParam:   cfg.Search.OffsetParam,
			PageSizeParam: cfg.Search.PageSizeParam,
			ItemsField:    cfg.Search.ItemsField,
			TotalField:    cfg.Search.TotalField,
			Items:         items,
		}, client), nil
	default:
		return nil, fmt.Errorf("supplier %q: unknown transport %q", cfg.Code, cfg.Transport)
	}
}

// Build creates adapters for every enabled supplier.
func Build(suppliers []config.SupplierConfig, archive storage.ObjectStorage, m *metrics.Metrics) (*Registry, error) {
	r := &Registry{adapters: make(map[string]source.Adapter)}
	var errs []error
	for _, s := range suppliers {
		if !s.Enabled {
			continue
		}
		a, err := New(s, archive, m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.Register(a)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a source.Adapter) {
	if r.adapters == nil {
		r.adapters = make(map[string]source.Adapter)
	}
	if _, ok := r.adapters[a.SupplierID()]; !ok {
		r.order = append(r.order, a.SupplierID())
	}
	r.adapters[a.SupplierID()] = a
}

// Get returns the adapter for a supplier code.
func (r *Registry) Get(code string) (source.Adapter, bool) {
	a, ok := r.adapters[code]
	return a, ok
}

// Codes returns the registered supplier codes in registration order.
func (r *Registry) Codes() []string {
	return append([]string(nil), r.order...)
}

// FilterFromConfig converts the configured default filter. Dates use the
// YYYY-MM-DD form; an unparseable date is an error.
func FilterFromConfig(f config.FilterConfig) (source.Filter, error) {
	out := source.Filter{Category: f.Category, Keyword: f.Keyword}
	var err error
	if f.From != "" {
		if out.From, err = time.Parse(time.DateOnly, f.From); err != nil {
			return source.Filter{}, fmt.Errorf("filter.from: %w", err)
		}
	}
	if f.To != "" {
		if out.To, err = time.Parse(time.DateOnly, f.To); err != nil {
			return source.Filter{}, fmt.Errorf("filter.to: %w", err)
		}
	}
	return out, nil
}
