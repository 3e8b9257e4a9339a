package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/pricing"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/repository/repotest"
)

const seedRules = `
rules:
  - id: kitchen
    name: kitchen premium
    marketplace: coupang
    priority: 10
    conditions:
      categories: [kitchen]
    calc_type: percentage_margin
    value: 50
    round_to: 100
  - id: flat
    name: flat margin
    marketplace: coupang
    calc_type: fixed_margin
    value: "1000"
    round_to: 10
  - id: naver-fixed
    name: naver fixed
    supplier: ownerclan
    marketplace: naver
    calc_type: fixed_price
    value: 9990
    min_price: 5000
`

type pricingFixture struct {
	svc      *PricingService
	rules    *repository.PricingRuleRepository
	products *repository.ProductRepository
}

func newPricingFixture(t *testing.T) *pricingFixture {
	t.Helper()
	db := repotest.Open(t)
	rules := repository.NewPricingRuleRepository(db)
	products := repository.NewProductRepository(db)
	svc := NewPricingService(rules, products, pricing.NewEngine(), nil,
		&PricingConfig{Workers: 2, PageSize: 1}, &IngestConfig{ChunkSize: 10})

	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(seedRules), 0o644); err != nil {
		t.Fatal(err)
	}
	n, err := svc.SeedRules(context.Background(), path)
	if err != nil {
		t.Fatalf("SeedRules: %v", err)
	}
	if n != 3 {
		t.Fatalf("seeded %d rules, want 3", n)
	}
	return &pricingFixture{svc: svc, rules: rules, products: products}
}

func TestParseRuleSeeds(t *testing.T) {
	rules, err := ParseRuleSeeds([]byte(seedRules))
	if err != nil {
		t.Fatalf("ParseRuleSeeds: %v", err)
	}
	if len(rules) != 3 {
		t.Fatalf("got %d rules, want 3", len(rules))
	}
	if rules[0].CalcType != pricing.PercentageMargin || !rules[0].Value.Equal(decimal.NewFromInt(50)) {
		t.Errorf("rule 0 = %+v", rules[0])
	}
	if !rules[1].Value.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("quoted value parsed as %s", rules[1].Value)
	}
	if !rules[2].MinPrice.Valid || rules[2].MaxPrice.Valid {
		t.Errorf("rule 2 bounds = min %+v max %+v", rules[2].MinPrice, rules[2].MaxPrice)
	}
}

func TestParseRuleSeedsRejectsInvalidRules(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown calc type", "rules:\n  - marketplace: coupang\n    calc_type: markup\n"},
		{"missing marketplace", "rules:\n  - calc_type: fixed_price\n    value: 10\n"},
		{"bad decimal", "rules:\n  - marketplace: coupang\n    calc_type: fixed_price\n    value: ten\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRuleSeeds([]byte(tt.doc)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestPricingQuote(t *testing.T) {
	f := newPricingFixture(t)
	tests := []struct {
		name        string
		in          pricing.Input
		wantPrice   string
		wantRule    string
		wantDefault bool
	}{
		{
			name:      "higher priority rule wins",
			in:        pricing.Input{SupplierID: "ownerclan", MarketplaceID: "coupang", Category: "kitchen", Cost: decimal.NewFromInt(10000)},
			wantPrice: "15000",
			wantRule:  "kitchen",
		},
		{
			name:      "fallback rule rounds half up",
			in:        pricing.Input{SupplierID: "ownerclan", MarketplaceID: "coupang", Category: "toys", Cost: decimal.NewFromInt(1234)},
			wantPrice: "2230",
			wantRule:  "flat",
		},
		{
			name:      "supplier scoped fixed price",
			in:        pricing.Input{SupplierID: "ownerclan", MarketplaceID: "naver", Cost: decimal.NewFromInt(100)},
			wantPrice: "9990",
			wantRule:  "naver-fixed",
		},
		{
			name:        "other supplier gets the default margin",
			in:          pricing.Input{SupplierID: "zentrade", MarketplaceID: "naver", Cost: decimal.NewFromInt(10000)},
			wantPrice:   "13000",
			wantDefault: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := f.svc.Quote(context.Background(), tt.in)
			if err != nil {
				t.Fatalf("Quote: %v", err)
			}
			if !q.Price.Equal(decimal.RequireFromString(tt.wantPrice)) {
				t.Errorf("price = %s, want %s", q.Price, tt.wantPrice)
			}
			if q.RuleID != tt.wantRule || q.Default != tt.wantDefault {
				t.Errorf("rule=%q default=%v, want rule=%q default=%v", q.RuleID, q.Default, tt.wantRule, tt.wantDefault)
			}
		})
	}
}

func TestReprice(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()

	product := func(id, category string, cost int64) domain.CanonicalProduct {
		return domain.CanonicalProduct{
			ID:          domain.ProductID("ownerclan", id),
			RawRecordID: "raw-" + id,
			SupplierID:  "ownerclan",
			ExternalID:  id,
			Title:       id,
			Price:       decimal.NewFromInt(cost),
			CostPrice:   decimal.NewFromInt(cost),
			Category:    category,
			Status:      domain.ProductStatusActive,
		}
	}
	mug := product("mug", "kitchen", 10000)
	toy := product("toy", "toys", 1234)
	if err := f.products.UpsertChunk(ctx, []domain.CanonicalProduct{mug, toy}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		stats, err := f.svc.Reprice(ctx, "ownerclan", "coupang")
		if err != nil {
			t.Fatalf("Reprice: %v", err)
		}
		if *stats != (RepriceStats{Products: 2, Priced: 2}) {
			t.Errorf("pass %d stats = %+v", i, stats)
		}
	}

	lp, err := f.rules.GetListingPrice(ctx, mug.ID, "coupang")
	if err != nil {
		t.Fatalf("GetListingPrice: %v", err)
	}
	if !lp.Price.Equal(decimal.NewFromInt(15000)) || lp.RuleName != "kitchen premium" || lp.IsDefault {
		t.Errorf("mug listing = %+v", lp)
	}
	if !lp.Margin.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("margin = %s, want 5000", lp.Margin)
	}

	lp, err = f.rules.GetListingPrice(ctx, toy.ID, "coupang")
	if err != nil {
		t.Fatalf("GetListingPrice: %v", err)
	}
	if !lp.Price.Equal(decimal.NewFromInt(2230)) || lp.RuleID != "flat" {
		t.Errorf("toy listing = %+v", lp)
	}
}

func TestRepriceWithoutRulesUsesDefault(t *testing.T) {
	f := newPricingFixture(t)
	ctx := context.Background()
	p := domain.CanonicalProduct{
		ID:          domain.ProductID("zentrade", "z1"),
		RawRecordID: "raw-z1",
		SupplierID:  "zentrade",
		ExternalID:  "z1",
		Title:       "Tray",
		Price:       decimal.NewFromInt(10333),
		CostPrice:   decimal.NewFromInt(10333),
		Status:      domain.ProductStatusActive,
	}
	if err := f.products.UpsertChunk(ctx, []domain.CanonicalProduct{p}); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.Reprice(ctx, "zentrade", "gmarket")
	if err != nil {
		t.Fatalf("Reprice: %v", err)
	}
	if stats.Default != 1 || stats.Priced != 1 {
		t.Errorf("stats = %+v", stats)
	}
	lp, _ := f.rules.GetListingPrice(ctx, p.ID, "gmarket")
	if !lp.Price.Equal(decimal.NewFromInt(13430)) || !lp.IsDefault {
		t.Errorf("listing = %+v", lp)
	}
}
