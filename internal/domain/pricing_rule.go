package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// PricingRule is the persisted form of a resale pricing rule scoped to a
// (supplier, marketplace) pair. An empty SupplierID applies to every supplier
// of the marketplace. Position records declaration order for tie breaking.
type PricingRule struct {
	ID            string              `gorm:"type:text;primaryKey" json:"id"`
	Name          string              `gorm:"type:text;not null" json:"name"`
	SupplierID    string              `gorm:"type:text;index:idx_pricing_rules_scope" json:"supplier_id"`
	MarketplaceID string              `gorm:"type:text;not null;index:idx_pricing_rules_scope" json:"marketplace_id"`
	Priority      int                 `gorm:"not null;default:0" json:"priority"`
	Position      int                 `gorm:"not null;default:0" json:"position"`
	Conditions    datatypes.JSON      `json:"conditions"`
	CalcType      string              `gorm:"type:text;not null" json:"calc_type"`
	CalcValue     decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"calc_value"`
	RoundTo       decimal.Decimal     `gorm:"type:decimal(18,4);not null" json:"round_to"`
	MinPrice      decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"min_price"`
	MaxPrice      decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"max_price"`
	Active        bool                `gorm:"not null" json:"active"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// TableName returns the database table name for PricingRule.
func (PricingRule) TableName() string {
	return "pricing_rules"
}

// ListingPrice is the audit record of one pricing evaluation for a product on
// a marketplace.
type ListingPrice struct {
	ID            string          `gorm:"type:text;primaryKey" json:"id"`
	ProductID     string          `gorm:"type:text;not null;index:idx_listing_prices_key,unique" json:"product_id"`
	MarketplaceID string          `gorm:"type:text;not null;index:idx_listing_prices_key,unique" json:"marketplace_id"`
	SupplierID    string          `gorm:"type:text;not null;index" json:"supplier_id"`
	ExternalID    string          `gorm:"type:text;not null" json:"external_id"`
	CostPrice     decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"cost_price"`
	Price         decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"price"`
	RuleID        string          `gorm:"type:text" json:"rule_id,omitempty"`
	RuleName      string          `gorm:"type:text" json:"rule_name,omitempty"`
	IsDefault     bool            `gorm:"not null" json:"is_default"`
	Margin        decimal.Decimal `gorm:"type:decimal(18,2)" json:"margin"`
	MarginRate    decimal.Decimal `gorm:"type:decimal(9,4)" json:"margin_rate"`
	FeeRate       decimal.Decimal `gorm:"type:decimal(9,4)" json:"fee_rate"`
	FeeAmount     decimal.Decimal `gorm:"type:decimal(18,2)" json:"fee_amount"`
	NetProfit     decimal.Decimal `gorm:"type:decimal(18,2)" json:"net_profit"`
	ComputedAt    time.Time       `gorm:"not null" json:"computed_at"`
}

// TableName returns the database table name for ListingPrice.
func (ListingPrice) TableName() string {
	return "listing_prices"
}

// Key returns the product id this price belongs to.
func (l ListingPrice) Key() string {
	return l.ProductID
}
