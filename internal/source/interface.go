package source

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
)

// Transport identifies how a provider pages through its catalog.
type Transport string

const (
	TransportCursor Transport = "cursor"
	TransportExport Transport = "export"
	TransportSearch Transport = "search"
)

// RawItem is one provider record as received, before any normalization.
type RawItem struct {
	SupplierID string
	ExternalID string
	Payload    json.RawMessage
	FetchedAt  time.Time
}

// Page is one provider response worth of items. Declared is the item count
// the provider claims for the request, or 0 when it does not say. Rejected
// lists objects of the response that could not become items.
type Page struct {
	Items    []RawItem
	Rejected []domain.FailedItem
	Declared int
}

// Filter narrows a collection run. Zero values mean "no restriction".
type Filter struct {
	Category string
	Keyword  string
	From     time.Time
	To       time.Time
}

// Params renders the filter as query parameters.
func (f Filter) Params() map[string]string {
	params := make(map[string]string)
	if f.Category != "" {
		params["category"] = f.Category
	}
	if f.Keyword != "" {
		params["keyword"] = f.Keyword
	}
	if !f.From.IsZero() {
		params["from"] = f.From.Format(time.DateOnly)
	}
	if !f.To.IsZero() {
		params["to"] = f.To.Format(time.DateOnly)
	}
	return params
}

// Adapter turns one provider's transport into a lazy sequence of pages.
type Adapter interface {
	// SupplierID returns the supplier code the adapter collects for.
	SupplierID() string

	// Transport returns the pagination shape of the provider.
	Transport() Transport

	// Pages returns a fresh sequence on every call. Pages are fetched
	// sequentially and only when the consumer asks for the next one. A
	// non-nil error is always the last element of the sequence.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - filter: optional category, keyword and date restrictions.
	// Returns:
	//   - iter.Seq2[Page, error]: pages in arrival order.
	Pages(ctx context.Context, filter Filter) iter.Seq2[Page, error]
}
