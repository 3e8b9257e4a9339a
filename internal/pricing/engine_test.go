package pricing

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

func nd(s string) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d(s), Valid: true}
}

func coupang(cost string) Input {
	return Input{SupplierID: "ownerclan", MarketplaceID: "coupang", Cost: d(cost), Category: "kitchen"}
}

func TestDefaultMargin(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		cost string
		want string
	}{
		{"10000", "13000"},
		{"10333", "13430"}, // 13432.9
		{"0", "0"},
		{"7", "10"}, // 9.1
	}
	for _, tt := range tests {
		q := e.Price(coupang(tt.cost), nil)
		if !q.Default {
			t.Errorf("cost %s: quote not marked default", tt.cost)
		}
		if !q.Price.Equal(d(tt.want)) {
			t.Errorf("cost %s: price = %s, want %s", tt.cost, q.Price, tt.want)
		}
	}
}

func TestCalcTypes(t *testing.T) {
	e := NewEngine()
	tests := []struct {
		name string
		rule Rule
		want string
	}{
		{"percentage", Rule{CalcType: PercentageMargin, Value: d("25"), RoundTo: d("100")}, "12500"},
		{"fixed margin", Rule{CalcType: FixedMargin, Value: d("2550"), RoundTo: d("100")}, "12600"},
		{"fixed price", Rule{CalcType: FixedPrice, Value: d("9990"), RoundTo: d("0")}, "9990"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.rule.ID = "r"
			tt.rule.MarketplaceID = "coupang"
			q := e.Price(coupang("10000"), []Rule{tt.rule})
			if q.Default || q.RuleID != "r" {
				t.Fatalf("rule not selected: %+v", q)
			}
			if !q.Price.Equal(d(tt.want)) {
				t.Errorf("price = %s, want %s", q.Price, tt.want)
			}
		})
	}
}

func TestSelection(t *testing.T) {
	rules := []Rule{
		{ID: "other-market", MarketplaceID: "gmarket", Priority: 99, CalcType: FixedPrice, Value: d("1")},
		{ID: "other-supplier", SupplierID: "zentrade", MarketplaceID: "coupang", Priority: 99, CalcType: FixedPrice, Value: d("1")},
		{ID: "wildcard-low", MarketplaceID: "coupang", Priority: 1, CalcType: PercentageMargin, Value: d("10")},
		{ID: "kitchen-a", MarketplaceID: "coupang", Priority: 5, CalcType: PercentageMargin, Value: d("20"),
			Conditions: Conditions{Categories: []string{"kitchen", "living"}}},
		{ID: "kitchen-b", MarketplaceID: "coupang", Priority: 5, CalcType: PercentageMargin, Value: d("40"),
			Conditions: Conditions{Categories: []string{"kitchen"}}},
		{ID: "beauty", MarketplaceID: "coupang", Priority: 50, CalcType: PercentageMargin, Value: d("50"),
			Conditions: Conditions{Categories: []string{"beauty"}}},
	}

	got := Select(coupang("10000"), rules)
	if got == nil || got.ID != "kitchen-a" {
		t.Fatalf("Select = %v, want kitchen-a (first of the tied priority 5 rules)", got)
	}

	q := NewEngine().Price(coupang("10000"), rules)
	if q.RuleID != "kitchen-a" || !q.Price.Equal(d("12000")) {
		t.Errorf("quote = %s via %s, want 12000 via kitchen-a", q.Price, q.RuleID)
	}
}

func TestConditions(t *testing.T) {
	in := Input{
		MarketplaceID: "coupang",
		Cost:          d("5000"),
		Category:      "kitchen",
		Brand:         "Acme",
		Attributes:    map[string]string{"origin": "KR"},
	}
	tests := []struct {
		name string
		c    Conditions
		want bool
	}{
		{"empty", Conditions{}, true},
		{"brand any-of", Conditions{Brands: []string{"Other", "Acme"}}, true},
		{"brand miss", Conditions{Brands: []string{"Other"}}, false},
		{"cost inclusive low", Conditions{MinCost: dp("5000")}, true},
		{"cost inclusive high", Conditions{MaxCost: dp("5000")}, true},
		{"cost below", Conditions{MinCost: dp("5000.01")}, false},
		{"attribute equal", Conditions{Attributes: map[string]string{"origin": "KR"}}, true},
		{"attribute differs", Conditions{Attributes: map[string]string{"origin": "CN"}}, false},
		{"attribute absent", Conditions{Attributes: map[string]string{"color": "red"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.c.Match(in); got != tt.want {
				t.Errorf("Match = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeterministicUnderReorderingOfDistinctPriorities(t *testing.T) {
	rules := []Rule{
		{ID: "a", MarketplaceID: "coupang", Priority: 1, CalcType: PercentageMargin, Value: d("10"), RoundTo: d("10")},
		{ID: "b", MarketplaceID: "coupang", Priority: 7, CalcType: PercentageMargin, Value: d("35"), RoundTo: d("10")},
		{ID: "c", MarketplaceID: "coupang", Priority: 3, CalcType: FixedMargin, Value: d("500"), RoundTo: d("10")},
	}
	e := NewEngine()
	want := e.Price(coupang("8888"), rules)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 20; i++ {
		shuffled := append([]Rule(nil), rules...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		if diff := cmp.Diff(want, e.Price(coupang("8888"), shuffled)); diff != "" {
			t.Fatalf("quote changed with rule order (-want +got):\n%s", diff)
		}
	}
}

func TestClampKeepsRoundingLaw(t *testing.T) {
	rule := Rule{
		ID:            "clamped",
		MarketplaceID: "coupang",
		CalcType:      PercentageMargin,
		Value:         d("30"),
		RoundTo:       d("100"),
		MinPrice:      nd("1050"),
		MaxPrice:      nd("20950"),
	}
	e := NewEngine()
	tests := []struct {
		cost string
		want string
	}{
		{"100", "1100"},    // 130 clamps to 1050, rounds to 1100
		{"810", "1100"},    // 1053 rounds to 1100
		{"10000", "13000"}, // untouched
		{"50000", "20900"}, // 65000 clamps to 20950, rounds up to 21000, lowered to 20900
	}
	for _, tt := range tests {
		q := e.Price(coupang(tt.cost), []Rule{rule})
		if !q.Price.Equal(d(tt.want)) {
			t.Errorf("cost %s: price = %s, want %s", tt.cost, q.Price, tt.want)
		}
		if !q.Price.Mod(d("100")).IsZero() {
			t.Errorf("cost %s: price %s is not a multiple of 100", tt.cost, q.Price)
		}
		if q.Price.LessThan(d("1050")) || q.Price.GreaterThan(d("20950")) {
			t.Errorf("cost %s: price %s escapes [1050, 20950]", tt.cost, q.Price)
		}
	}
}

func TestRoundTo(t *testing.T) {
	tests := []struct {
		v, inc, want string
	}{
		{"13432.9", "10", "13430"},
		{"13435", "10", "13440"},
		{"149", "100", "100"},
		{"150", "100", "200"},
		{"12.5", "0", "13"},
		{"12.5", "-5", "13"},
		{"1.26", "0.05", "1.25"},
	}
	for _, tt := range tests {
		if got := RoundTo(d(tt.v), d(tt.inc)); !got.Equal(d(tt.want)) {
			t.Errorf("RoundTo(%s, %s) = %s, want %s", tt.v, tt.inc, got, tt.want)
		}
	}
}

func TestFeesAndNetProfit(t *testing.T) {
	e := NewEngine()
	e.Fees = FeeTableFromFloats(map[string]map[string]float64{
		"coupang": {"beauty": 0.125, "etc": 0.105},
	})

	tests := []struct {
		name     string
		in       Input
		wantRate string
	}{
		{"category", Input{MarketplaceID: "coupang", Cost: d("10000"), Category: "beauty"}, "0.125"},
		{"etc", Input{MarketplaceID: "coupang", Cost: d("10000"), Category: "kitchen"}, "0.105"},
		{"global", Input{MarketplaceID: "11st", Cost: d("10000"), Category: "beauty"}, "0.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := e.Price(tt.in, nil)
			if !q.FeeRate.Equal(d(tt.wantRate)) {
				t.Fatalf("FeeRate = %s, want %s", q.FeeRate, tt.wantRate)
			}
			// price 13000, margin 3000
			wantFee := d("13000").Mul(d(tt.wantRate)).Round(2)
			if !q.FeeAmount.Equal(wantFee) {
				t.Errorf("FeeAmount = %s, want %s", q.FeeAmount, wantFee)
			}
			if !q.NetProfit.Equal(d("3000").Sub(wantFee)) {
				t.Errorf("NetProfit = %s, want %s", q.NetProfit, d("3000").Sub(wantFee))
			}
			if !q.MarginRate.Equal(d("0.2308")) {
				t.Errorf("MarginRate = %s, want 0.2308", q.MarginRate)
			}
		})
	}
}

func TestRuleModelRoundTrip(t *testing.T) {
	r := Rule{
		ID:            "r1",
		Name:          "beauty",
		MarketplaceID: "coupang",
		Priority:      3,
		Conditions:    Conditions{Categories: []string{"beauty"}, MinCost: dp("1000")},
		CalcType:      FixedMargin,
		Value:         d("500"),
		RoundTo:       d("10"),
		MaxPrice:      nd("99000"),
	}
	m, err := r.Model(4)
	if err != nil {
		t.Fatalf("Model: %v", err)
	}
	if m.Position != 4 || !m.Active {
		t.Errorf("unexpected model: %+v", m)
	}
	back, err := RuleFromModel(m)
	if err != nil {
		t.Fatalf("RuleFromModel: %v", err)
	}
	if diff := cmp.Diff(r, back); diff != "" {
		t.Errorf("rule mismatch (-want +got):\n%s", diff)
	}

	m.CalcType = "cost_plus"
	if _, err := RuleFromModel(m); err == nil {
		t.Error("expected an error for an unknown calc_type")
	}
}
