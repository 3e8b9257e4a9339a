package repository

import (
	"context"
	"database/sql"

	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PricingRuleRepository stores pricing rules and listing price audits.
type PricingRuleRepository struct {
	db *gorm.DB
}

// NewPricingRuleRepository creates a new PricingRuleRepository.
func NewPricingRuleRepository(db *gorm.DB) *PricingRuleRepository {
	return &PricingRuleRepository{db: db}
}

// ListForScope returns the active rules that can apply to a supplier on a
// marketplace, in declaration order.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - supplierID: supplier being priced; rules with an empty supplier also apply.
//   - marketplaceID: marketplace being priced.
// Returns:
//   - []domain.PricingRule: rules ordered by position.
//   - error: non-nil if the query fails.
func (r *PricingRuleRepository) ListForScope(ctx context.Context, supplierID, marketplaceID string) ([]domain.PricingRule, error) {
	var rules []domain.PricingRule
	err := r.db.WithContext(ctx).
		Where("active = ? AND marketplace_id = ? AND (supplier_id = '' OR supplier_id = ?)", true, marketplaceID, supplierID).
		Order("position, created_at, id").
		Find(&rules).Error
	return rules, err
}

// Append stores rules after the existing ones of their marketplace, keeping
// the given order as declaration order.
func (r *PricingRuleRepository) Append(ctx context.Context, rules []domain.PricingRule) error {
	if len(rules) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		next := make(map[string]int)
		for i := range rules {
			mp := rules[i].MarketplaceID
			if _, ok := next[mp]; !ok {
				var maxPos sql.NullInt64
				if err := tx.Model(&domain.PricingRule{}).
					Where("marketplace_id = ?", mp).
					Select("MAX(position)").
					Row().Scan(&maxPos); err != nil {
					return err
				}
				if maxPos.Valid {
					next[mp] = int(maxPos.Int64) + 1
				}
			}
			rules[i].Position = next[mp]
			next[mp]++
		}
		return translate(tx.Create(&rules).Error)
	})
}

// UpsertListingPrices stores pricing audits keyed by (product_id, marketplace_id).
func (r *PricingRuleRepository) UpsertListingPrices(ctx context.Context, rows []domain.ListingPrice) error {
	if len(rows) == 0 {
		return nil
	}
	return translate(r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "product_id"}, {Name: "marketplace_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cost_price", "price", "rule_id", "rule_name", "is_default", "margin",
			"margin_rate", "fee_rate", "fee_amount", "net_profit", "computed_at",
		}),
	}).CreateInBatches(&rows, statementRows).Error)
}

// GetListingPrice retrieves the latest price audit for a product on a marketplace.
func (r *PricingRuleRepository) GetListingPrice(ctx context.Context, productID, marketplaceID string) (*domain.ListingPrice, error) {
	var lp domain.ListingPrice
	err := r.db.WithContext(ctx).
		First(&lp, "product_id = ? AND marketplace_id = ?", productID, marketplaceID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &lp, nil
}
