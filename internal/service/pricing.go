package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/pricing"
	"github.com/timmy/catalogsync/internal/repository"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// PricingConfig holds configuration for the pricing service.
type PricingConfig struct {
	Workers  int
	PageSize int
}

// RepriceStats counts the outcome of one repricing pass.
type RepriceStats struct {
	Products int `json:"products"`
	Priced   int `json:"priced"`
	Default  int `json:"default"`
	Failed   int `json:"failed"`
}

// PricingService evaluates pricing rules and stores listing prices.
type PricingService struct {
	ruleRepo    *repository.PricingRuleRepository
	productRepo *repository.ProductRepository
	engine      *pricing.Engine
	writer      *BulkWriter[domain.ListingPrice]
	metrics     *metrics.Metrics
	cfg         PricingConfig
	now         func() time.Time
}

// NewPricingService creates a new PricingService.
func NewPricingService(
	ruleRepo *repository.PricingRuleRepository,
	productRepo *repository.ProductRepository,
	engine *pricing.Engine,
	m *metrics.Metrics,
	cfg *PricingConfig,
	ingestCfg *IngestConfig,
) *PricingService {
	c := *cfg
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PageSize <= 0 {
		c.PageSize = 1000
	}
	return &PricingService{
		ruleRepo:    ruleRepo,
		productRepo: productRepo,
		engine:      engine,
		writer: NewBulkWriter(ingestCfg.ChunkSize, ingestCfg.ShrinkFactor, ingestCfg.MinChunk,
			domain.ListingPrice.Key),
		metrics: m,
		cfg:     c,
		now:     time.Now,
	}
}

func (s *PricingService) rules(ctx context.Context, supplierID, marketplaceID string) ([]pricing.Rule, error) {
	models, err := s.ruleRepo.ListForScope(ctx, supplierID, marketplaceID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]pricing.Rule, 0, len(models))
	for _, m := range models {
		r, err := pricing.RuleFromModel(m)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Quote prices one input against the stored rules of its scope.
func (s *PricingService) Quote(ctx context.Context, in pricing.Input) (pricing.Quote, error) {
	rules, err := s.rules(ctx, in.SupplierID, in.MarketplaceID)
	if err != nil {
		return pricing.Quote{}, err
	}
	q := s.engine.Price(in, rules)
	if q.Default {
		s.metrics.PricingDefault(in.MarketplaceID)
	}
	return q, nil
}

// Reprice prices every canonical product of a supplier for a marketplace and
// stores the audit rows. Products are evaluated concurrently, page by page.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: supplier whose products are priced.
//   - marketplaceID: target marketplace.
// Returns:
//   - *RepriceStats: counts of the pass.
//   - error: non-nil if rules or products cannot be read.
func (s *PricingService) Reprice(ctx context.Context, supplierID, marketplaceID string) (*RepriceStats, error) {
	rules, err := s.rules(ctx, supplierID, marketplaceID)
	if err != nil {
		return nil, err
	}
	ctx = logger.SetSupplier(ctx, supplierID)
	start := time.Now()

	stats := &RepriceStats{}
	after := ""
	for {
		products, err := s.productRepo.Page(ctx, supplierID, after, s.cfg.PageSize)
		if err != nil {
			return stats, fmt.Errorf("list products: %w", err)
		}
		if len(products) == 0 {
			break
		}
		stats.Products += len(products)

		prices := make([]domain.ListingPrice, len(products))
		computedAt := s.now()
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Workers)
		for i := range products {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				prices[i] = s.listingPrice(&products[i], marketplaceID, rules, computedAt)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return stats, err
		}

		for _, lp := range prices {
			if lp.IsDefault {
				stats.Default++
				s.metrics.PricingDefault(marketplaceID)
			}
		}

		res, err := s.writer.Write(ctx, prices, s.ruleRepo.UpsertListingPrices, nil)
		stats.Priced += res.Written
		stats.Failed += len(res.Failures)
		if err != nil {
			return stats, err
		}

		after = products[len(products)-1].ID
		if len(products) < s.cfg.PageSize {
			break
		}
	}

	logger.With(logger.Fields{
		logger.FieldDurationMs:  time.Since(start).Milliseconds(),
		logger.FieldCount:       stats.Priced,
		logger.FieldMarketplace: marketplaceID,
	}).Info(ctx, "Repricing finished: products=%d, default=%d, failed=%d", stats.Products, stats.Default, stats.Failed)
	return stats, nil
}

func (s *PricingService) listingPrice(p *domain.CanonicalProduct, marketplaceID string, rules []pricing.Rule, at time.Time) domain.ListingPrice {
	attrs := make(map[string]string, len(p.Attributes))
	for k, v := range p.Attributes {
		if str, ok := v.(string); ok {
			attrs[k] = str
		} else {
			attrs[k] = fmt.Sprint(v)
		}
	}
	q := s.engine.Price(pricing.Input{
		SupplierID:    p.SupplierID,
		MarketplaceID: marketplaceID,
		Cost:          p.CostPrice,
		Category:      p.Category,
		Brand:         p.Brand,
		Attributes:    attrs,
	}, rules)

	return domain.ListingPrice{
		ID:            uuid.NewSHA1(uuid.NameSpaceOID, []byte(p.ID+"/"+marketplaceID)).String(),
		ProductID:     p.ID,
		MarketplaceID: marketplaceID,
		SupplierID:    p.SupplierID,
		ExternalID:    p.ExternalID,
		CostPrice:     q.Cost,
		Price:         q.Price,
		RuleID:        q.RuleID,
		RuleName:      q.RuleName,
		IsDefault:     q.Default,
		Margin:        q.Margin,
		MarginRate:    q.MarginRate,
		FeeRate:       q.FeeRate,
		FeeAmount:     q.FeeAmount,
		NetProfit:     q.NetProfit,
		ComputedAt:    at,
	}
}

// ruleSeed is one rule entry of a seed file.
type ruleSeed struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Supplier    string             `yaml:"supplier"`
	Marketplace string             `yaml:"marketplace"`
	Priority    int                `yaml:"priority"`
	Conditions  pricing.Conditions `yaml:"conditions"`
	CalcType    string             `yaml:"calc_type"`
	Value       decimal.Decimal    `yaml:"value"`
	RoundTo     decimal.Decimal    `yaml:"round_to"`
	MinPrice    *decimal.Decimal   `yaml:"min_price"`
	MaxPrice    *decimal.Decimal   `yaml:"max_price"`
}

// ParseRuleSeeds parses a YAML document with a top-level "rules" list. The
// list order becomes declaration order.
func ParseRuleSeeds(data []byte) ([]pricing.Rule, error) {
	var doc struct {
		Rules []ruleSeed `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]pricing.Rule, 0, len(doc.Rules))
	for i, seed := range doc.Rules {
		r := pricing.Rule{
			ID:            seed.ID,
			Name:          seed.Name,
			SupplierID:    seed.Supplier,
			MarketplaceID: seed.Marketplace,
			Priority:      seed.Priority,
			Conditions:    seed.Conditions,
			CalcType:      pricing.CalcType(seed.CalcType),
			Value:         seed.Value,
			RoundTo:       seed.RoundTo,
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.MarketplaceID == "" {
			return nil, fmt.Errorf("rule %d (%s): marketplace is required", i, seed.Name)
		}
		if !r.CalcType.Valid() {
			return nil, fmt.Errorf("rule %d (%s): unknown calc_type %q", i, seed.Name, seed.CalcType)
		}
		if seed.MinPrice != nil {
			r.MinPrice = decimal.NewNullDecimal(*seed.MinPrice)
		}
		if seed.MaxPrice != nil {
			r.MaxPrice = decimal.NewNullDecimal(*seed.MaxPrice)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// SeedRules loads a rule file and appends its rules after the stored ones.
func (s *PricingService) SeedRules(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read rules: %w", err)
	}
	rules, err := ParseRuleSeeds(data)
	if err != nil {
		return 0, err
	}

	models := make([]domain.PricingRule, 0, len(rules))
	for i, r := range rules {
		m, err := r.Model(i)
		if err != nil {
			return 0, err
		}
		models = append(models, m)
	}
	if err := s.ruleRepo.Append(ctx, models); err != nil {
		return 0, fmt.Errorf("store rules: %w", err)
	}
	logger.CtxInfo(ctx, "Seeded pricing rules: count=%d, file=%s", len(models), path)
	return len(models), nil
}
