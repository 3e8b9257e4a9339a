package normalize

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/payload"
	"gorm.io/datatypes"
)

// Input is the slice of a RawRecord the normalizer reads.
type Input struct {
	RawRecordID string
	SupplierID  string
	ExternalID  string
	Payload     json.RawMessage
	CollectedAt time.Time
}

// InputFromRecord builds an Input from a stored raw record.
func InputFromRecord(r *domain.RawRecord) Input {
	return Input{
		RawRecordID: r.ID,
		SupplierID:  r.SupplierID,
		ExternalID:  r.ExternalID,
		Payload:     json.RawMessage(r.Payload),
		CollectedAt: r.CollectedAt,
	}
}

// SkipError reports a record that cannot become a product.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return "skipped: " + e.Reason
}

func skip(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// Normalize maps one raw payload onto the canonical product schema. It has no
// side effects; the same input and mapping always yield the same product.
// Parameters:
//   - in: raw record identity and payload.
//   - m: the supplier's field mapping.
// Returns:
//   - domain.CanonicalProduct: the product, CreatedAt left zero.
//   - error: *SkipError when a required field is missing or unusable.
func Normalize(in Input, m Mapping) (domain.CanonicalProduct, error) {
	doc, err := payload.Decode(in.Payload)
	if err != nil {
		return domain.CanonicalProduct{}, skip("payload is not valid JSON")
	}

	title := ""
	if v, ok := payload.Lookup(doc, m.Title); ok {
		title, _ = payload.String(v)
		title = strings.TrimSpace(title)
	}
	if title == "" {
		return domain.CanonicalProduct{}, skip("missing title at %q", m.Title)
	}

	price, ok, err := lookupMoney(doc, m.Price, m.PriceDecimals)
	if err != nil {
		return domain.CanonicalProduct{}, skip("price at %q: %v", m.Price, err)
	}
	if !ok {
		return domain.CanonicalProduct{}, skip("missing price at %q", m.Price)
	}

	cost := decimal.Zero
	switch {
	case m.CostFromPrice:
		cost = price
	case m.CostPrice != "":
		if c, ok, err := lookupMoney(doc, m.CostPrice, m.PriceDecimals); err == nil && ok {
			cost = c
		}
	}

	p := domain.CanonicalProduct{
		ID:          domain.ProductID(in.SupplierID, in.ExternalID),
		RawRecordID: in.RawRecordID,
		SupplierID:  in.SupplierID,
		ExternalID:  in.ExternalID,
		Title:       title,
		Price:       price,
		CostPrice:   cost,
		Stock:       lookupStock(doc, m.Stock),
		Category:    lookupString(doc, m.Category),
		Brand:       lookupString(doc, m.Brand),
		Attributes:  datatypes.JSONMap{},
		UpdatedAt:   in.CollectedAt,
	}
	for name, path := range m.Attributes {
		if s := lookupString(doc, path); s != "" {
			p.Attributes[name] = s
		}
	}
	p.Status = status(doc, m, p.Stock)
	return p, nil
}

func status(doc interface{}, m Mapping, stock *int) domain.ProductStatus {
	if m.Availability != nil && m.Availability.Path != "" {
		value := lookupString(doc, m.Availability.Path)
		for _, active := range m.Availability.ActiveValues {
			if value == active {
				return domain.ProductStatusActive
			}
		}
		return domain.ProductStatusInactive
	}
	if stock != nil && *stock == 0 {
		return domain.ProductStatusOutOfStock
	}
	return domain.ProductStatusActive
}

func lookupString(doc interface{}, path string) string {
	if path == "" {
		return ""
	}
	v, ok := payload.Lookup(doc, path)
	if !ok {
		return ""
	}
	s, _ := payload.String(v)
	return strings.TrimSpace(s)
}

func lookupStock(doc interface{}, path string) *int {
	if path == "" {
		return nil
	}
	v, ok := payload.Lookup(doc, path)
	if !ok {
		return nil
	}
	s, ok := payload.String(v)
	if !ok {
		return nil
	}
	d, err := ParsePrice(s)
	if err != nil || d.IsNegative() {
		return nil
	}
	n := int(d.IntPart())
	return &n
}

// lookupMoney returns ok=false when the path is absent or empty.
func lookupMoney(doc interface{}, path string, decimals int32) (decimal.Decimal, bool, error) {
	v, ok := payload.Lookup(doc, path)
	if !ok {
		return decimal.Zero, false, nil
	}
	s, ok := payload.String(v)
	if !ok || strings.TrimSpace(s) == "" {
		return decimal.Zero, false, nil
	}
	d, err := ParsePrice(s)
	if err != nil {
		return decimal.Zero, false, err
	}
	if d.IsNegative() {
		return decimal.Zero, false, fmt.Errorf("negative amount %s", d)
	}
	return d.Round(decimals), true, nil
}

// ParsePrice parses "12,900", "₩12900", "12900 KRW" or "12.5". Everything but
// digits, the decimal point and a leading minus sign is ignored.
func ParsePrice(s string) (decimal.Decimal, error) {
	if d, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
		return d, nil
	}
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case r == ',' || unicode.IsSpace(r) || unicode.IsLetter(r) || unicode.IsSymbol(r):
		default:
			return decimal.Zero, fmt.Errorf("unexpected character %q in %q", r, s)
		}
	}
	if b.Len() == 0 || b.String() == "-" {
		return decimal.Zero, fmt.Errorf("no digits in %q", s)
	}
	return decimal.NewFromString(b.String())
}
