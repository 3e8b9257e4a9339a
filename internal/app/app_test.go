package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	mappings := filepath.Join(dir, "mappings.yaml")
	if err := os.WriteFile(mappings, []byte("suppliers:\n  ownerclan:\n    title: name\n    price: price\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         filepath.Join(dir, "catalog.db"),
			MaxIdleConns: 1,
			MaxOpenConns: 1,
			AutoMigrate:  true,
			LogLevel:     "silent",
		},
		Normalize: config.NormalizeConfig{MappingsPath: mappings, PageSize: 10},
		Pricing: config.PricingConfig{
			DefaultMarginPercent: 25,
			Fees:                 map[string]map[string]float64{"coupang": {"etc": 0.108}},
		},
		Suppliers: []config.SupplierConfig{
			{
				Code:      "ownerclan",
				Enabled:   true,
				Transport: config.TransportCursor,
				BaseURL:   "http://localhost:1",
				Timeout:   time.Second,
				Filter:    config.FilterConfig{Category: "kitchen", From: "2024-01-02"},
			},
			{Code: "zentrade", Transport: config.TransportExport},
		},
	}
}

func TestNewWiresEnabledSuppliers(t *testing.T) {
	a, err := New(testConfig(t), logger.New(nil))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if _, err := a.Adapter("ownerclan"); err != nil {
		t.Errorf("ownerclan adapter: %v", err)
	}
	if _, err := a.Adapter("zentrade"); err == nil {
		t.Error("disabled supplier must not be registered")
	}

	f := a.Filters["ownerclan"]
	want := source.Filter{Category: "kitchen", From: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}
	if f.Category != want.Category || !f.From.Equal(want.From) {
		t.Errorf("filter = %+v, want %+v", f, want)
	}
}

func TestNewRejectsBadFilterDate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Suppliers[0].Filter.To = "02/01/2024"
	if _, err := New(cfg, logger.New(nil)); err == nil {
		t.Error("expected an error for an unparseable date")
	}
}

func TestNewEngineOverridesDefaults(t *testing.T) {
	e := newEngine(config.PricingConfig{DefaultMarginPercent: 25, Fees: map[string]map[string]float64{"coupang": {"etc": 0.108}}})
	if !e.DefaultMarginPercent.Equal(decimal.NewFromInt(25)) {
		t.Errorf("margin = %s, want 25", e.DefaultMarginPercent)
	}
	if !e.DefaultRoundTo.Equal(decimal.NewFromInt(10)) {
		t.Errorf("round_to = %s, want the stock 10", e.DefaultRoundTo)
	}
	if got := e.Fees.Rate("coupang", "kitchen", e.DefaultFeeRate); !got.Equal(decimal.RequireFromString("0.108")) {
		t.Errorf("fee rate = %s, want 0.108", got)
	}
}
