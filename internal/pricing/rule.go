// Package pricing computes marketplace resale prices from supplier cost.
package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/domain"
	"gorm.io/datatypes"
)

// CalcType selects how a rule turns cost into price.
type CalcType string

const (
	// PercentageMargin prices at cost × (1 + value/100).
	PercentageMargin CalcType = "percentage_margin"
	// FixedMargin prices at cost + value.
	FixedMargin CalcType = "fixed_margin"
	// FixedPrice prices at value regardless of cost.
	FixedPrice CalcType = "fixed_price"
)

// Valid reports whether t is a known calculation type.
func (t CalcType) Valid() bool {
	switch t {
	case PercentageMargin, FixedMargin, FixedPrice:
		return true
	}
	return false
}

// Conditions restrict which products a rule applies to. An empty clause
// matches anything.
type Conditions struct {
	Categories []string          `json:"categories,omitempty" yaml:"categories"`
	Brands     []string          `json:"brands,omitempty" yaml:"brands"`
	MinCost    *decimal.Decimal  `json:"min_cost,omitempty" yaml:"min_cost"`
	MaxCost    *decimal.Decimal  `json:"max_cost,omitempty" yaml:"max_cost"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes"`
}

// Match reports whether every declared clause holds for in.
func (c Conditions) Match(in Input) bool {
	if len(c.Categories) > 0 && !contains(c.Categories, in.Category) {
		return false
	}
	if len(c.Brands) > 0 && !contains(c.Brands, in.Brand) {
		return false
	}
	if c.MinCost != nil && in.Cost.LessThan(*c.MinCost) {
		return false
	}
	if c.MaxCost != nil && in.Cost.GreaterThan(*c.MaxCost) {
		return false
	}
	for k, want := range c.Attributes {
		if got, ok := in.Attributes[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// Rule is one pricing rule. Rules are evaluated in the order given.
type Rule struct {
	ID            string
	Name          string
	SupplierID    string // empty applies to every supplier
	MarketplaceID string
	Priority      int
	Conditions    Conditions
	CalcType      CalcType
	Value         decimal.Decimal
	RoundTo       decimal.Decimal
	MinPrice      decimal.NullDecimal
	MaxPrice      decimal.NullDecimal
}

// Applies reports whether the rule is in scope for in and its conditions hold.
func (r *Rule) Applies(in Input) bool {
	if r.MarketplaceID != in.MarketplaceID {
		return false
	}
	if r.SupplierID != "" && r.SupplierID != in.SupplierID {
		return false
	}
	return r.Conditions.Match(in)
}

// RuleFromModel converts a stored rule.
func RuleFromModel(m domain.PricingRule) (Rule, error) {
	r := Rule{
		ID:            m.ID,
		Name:          m.Name,
		SupplierID:    m.SupplierID,
		MarketplaceID: m.MarketplaceID,
		Priority:      m.Priority,
		CalcType:      CalcType(m.CalcType),
		Value:         m.CalcValue,
		RoundTo:       m.RoundTo,
		MinPrice:      m.MinPrice,
		MaxPrice:      m.MaxPrice,
	}
	if !r.CalcType.Valid() {
		return Rule{}, fmt.Errorf("rule %s: unknown calc_type %q", m.ID, m.CalcType)
	}
	if len(m.Conditions) > 0 && string(m.Conditions) != "null" {
		if err := json.Unmarshal(m.Conditions, &r.Conditions); err != nil {
			return Rule{}, fmt.Errorf("rule %s: conditions: %w", m.ID, err)
		}
	}
	return r, nil
}

// Model converts r into its stored form at the given declaration position.
func (r Rule) Model(position int) (domain.PricingRule, error) {
	conditions, err := json.Marshal(r.Conditions)
	if err != nil {
		return domain.PricingRule{}, err
	}
	return domain.PricingRule{
		ID:            r.ID,
		Name:          r.Name,
		SupplierID:    r.SupplierID,
		MarketplaceID: r.MarketplaceID,
		Priority:      r.Priority,
		Position:      position,
		Conditions:    datatypes.JSON(conditions),
		CalcType:      string(r.CalcType),
		CalcValue:     r.Value,
		RoundTo:       r.RoundTo,
		MinPrice:      r.MinPrice,
		MaxPrice:      r.MaxPrice,
		Active:        true,
	}, nil
}
