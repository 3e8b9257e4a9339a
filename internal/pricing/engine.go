package pricing

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Input is the pricing view of one product on one marketplace.
type Input struct {
	SupplierID    string
	MarketplaceID string
	Cost          decimal.Decimal
	Category      string
	Brand         string
	Attributes    map[string]string
}

// Quote is the audited result of one evaluation.
type Quote struct {
	SupplierID    string
	MarketplaceID string
	Cost          decimal.Decimal
	Price         decimal.Decimal
	RuleID        string
	RuleName      string
	Default       bool
	Margin        decimal.Decimal
	MarginRate    decimal.Decimal
	FeeRate       decimal.Decimal
	FeeAmount     decimal.Decimal
	NetProfit     decimal.Decimal
}

// FeeTable holds marketplace commission rates by category. The "etc"
// category is the marketplace-wide fallback.
type FeeTable map[string]map[string]decimal.Decimal

// FeeTableFromFloats converts a configuration map.
func FeeTableFromFloats(in map[string]map[string]float64) FeeTable {
	out := make(FeeTable, len(in))
	for marketplace, rates := range in {
		out[marketplace] = make(map[string]decimal.Decimal, len(rates))
		for category, rate := range rates {
			out[marketplace][category] = decimal.NewFromFloat(rate)
		}
	}
	return out
}

// Rate returns the category rate, then the marketplace's "etc" rate, then def.
func (t FeeTable) Rate(marketplace, category string, def decimal.Decimal) decimal.Decimal {
	rates, ok := t[marketplace]
	if !ok {
		return def
	}
	if r, ok := rates[category]; ok {
		return r
	}
	if r, ok := rates["etc"]; ok {
		return r
	}
	return def
}

// Engine evaluates rules. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	DefaultMarginPercent decimal.Decimal
	DefaultRoundTo       decimal.Decimal
	DefaultFeeRate       decimal.Decimal
	Fees                 FeeTable
}

// NewEngine creates an Engine with the stock defaults: 30% margin rounded to
// 10 and a 10% fee.
func NewEngine() *Engine {
	return &Engine{
		DefaultMarginPercent: decimal.NewFromInt(30),
		DefaultRoundTo:       decimal.NewFromInt(10),
		DefaultFeeRate:       decimal.RequireFromString("0.10"),
		Fees:                 FeeTable{},
	}
}

// Select returns the winning rule: the first rule with the highest priority
// among those that apply, or nil.
func Select(in Input, rules []Rule) *Rule {
	var best *Rule
	for i := range rules {
		r := &rules[i]
		if !r.Applies(in) {
			continue
		}
		if best == nil || r.Priority > best.Priority {
			best = r
		}
	}
	return best
}

// Price evaluates rules for in. rules must be in declaration order. When no
// rule applies the default margin is used and the quote is marked Default.
// Parameters:
//   - in: product cost and attributes with the target marketplace.
//   - rules: candidate rules; out-of-scope ones are ignored.
// Returns:
//   - Quote: the price with its audit fields.
func (e *Engine) Price(in Input, rules []Rule) Quote {
	q := Quote{
		SupplierID:    in.SupplierID,
		MarketplaceID: in.MarketplaceID,
		Cost:          in.Cost,
	}

	if r := Select(in, rules); r != nil {
		q.RuleID = r.ID
		q.RuleName = r.Name
		q.Price = r.price(in.Cost)
	} else {
		q.Default = true
		raw := in.Cost.Mul(decimal.NewFromInt(1).Add(e.DefaultMarginPercent.Div(hundred)))
		q.Price = RoundTo(raw, e.DefaultRoundTo)
	}

	q.Margin = q.Price.Sub(in.Cost)
	if q.Price.IsPositive() {
		q.MarginRate = q.Margin.DivRound(q.Price, 4)
	}
	q.FeeRate = e.Fees.Rate(in.MarketplaceID, in.Category, e.DefaultFeeRate)
	q.FeeAmount = q.Price.Mul(q.FeeRate).Round(2)
	q.NetProfit = q.Margin.Sub(q.FeeAmount)
	return q
}

func (r *Rule) price(cost decimal.Decimal) decimal.Decimal {
	var raw decimal.Decimal
	switch r.CalcType {
	case FixedMargin:
		raw = cost.Add(r.Value)
	case FixedPrice:
		raw = r.Value
	default:
		raw = cost.Mul(decimal.NewFromInt(1).Add(r.Value.Div(hundred)))
	}

	if r.MinPrice.Valid && raw.LessThan(r.MinPrice.Decimal) {
		raw = r.MinPrice.Decimal
	}
	if r.MaxPrice.Valid && raw.GreaterThan(r.MaxPrice.Decimal) {
		raw = r.MaxPrice.Decimal
	}

	inc := increment(r.RoundTo)
	price := RoundTo(raw, inc)
	if r.MinPrice.Valid && price.LessThan(r.MinPrice.Decimal) {
		price = r.MinPrice.Decimal.Div(inc).Ceil().Mul(inc)
	}
	if r.MaxPrice.Valid && price.GreaterThan(r.MaxPrice.Decimal) {
		price = r.MaxPrice.Decimal.Div(inc).Floor().Mul(inc)
	}
	return price
}

func increment(inc decimal.Decimal) decimal.Decimal {
	if !inc.IsPositive() {
		return decimal.NewFromInt(1)
	}
	return inc
}

// RoundTo rounds v half-up to the nearest multiple of inc. A non-positive
// increment rounds to whole units.
func RoundTo(v, inc decimal.Decimal) decimal.Decimal {
	inc = increment(inc)
	return v.Div(inc).Round(0).Mul(inc)
}
