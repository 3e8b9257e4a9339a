// Package search implements providers that only expose a keyword or id
// lookup with offset paging.
package search

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/payload"
	"github.com/timmy/catalogsync/internal/source"
)

// IDRange is an inclusive range of provider ids.
type IDRange struct {
	From int
	To   int
}

// Config describes the query terms and the request/response field names.
type Config struct {
	Path          string
	PageSize      int
	Terms         []string
	IDRanges      []IDRange
	TermParam     string
	IDParam       string
	OffsetParam   string
	PageSizeParam string
	ItemsField    string
	TotalField    string
	Items         source.ItemBuilder
}

// Query is one expanded search term.
type Query struct {
	Param string
	Value string
}

// Adapter runs every configured term and pages each one by offset.
type Adapter struct {
	cfg    Config
	client *source.Client
	now    func() time.Time
}

// NewAdapter creates a new search adapter.
func NewAdapter(cfg Config, client *source.Client) *Adapter {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 100
	}
	return &Adapter{cfg: cfg, client: client, now: time.Now}
}

// SupplierID returns the supplier code.
func (a *Adapter) SupplierID() string {
	return a.cfg.Items.SupplierID
}

// Transport returns source.TransportSearch.
func (a *Adapter) Transport() source.Transport {
	return source.TransportSearch
}

// Queries expands keyword terms and id ranges into the request list, keywords
// first. A filter keyword is searched when no terms are configured.
func (a *Adapter) Queries(filter source.Filter) []Query {
	var out []Query
	for _, term := range a.cfg.Terms {
		out = append(out, Query{Param: a.cfg.TermParam, Value: term})
	}
	if len(out) == 0 && filter.Keyword != "" {
		out = append(out, Query{Param: a.cfg.TermParam, Value: filter.Keyword})
	}
	for _, r := range a.cfg.IDRanges {
		for id := r.From; id <= r.To; id++ {
			out = append(out, Query{Param: a.cfg.IDParam, Value: strconv.Itoa(id)})
		}
	}
	return out
}

// Pages requests each term from offset 0 and moves to the next term once a
// page holds fewer raw items than the page size. The first page of a term
// carries the provider's total_count as Declared.
func (a *Adapter) Pages(ctx context.Context, filter source.Filter) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		for _, q := range a.Queries(filter) {
			for offset := 0; ; offset += a.cfg.PageSize {
				params := filter.Params()
				delete(params, "keyword")
				params[q.Param] = q.Value
				params[a.cfg.OffsetParam] = strconv.Itoa(offset)
				params[a.cfg.PageSizeParam] = strconv.Itoa(a.cfg.PageSize)

				body, err := a.client.Get(ctx, a.cfg.Path, params)
				if err != nil {
					yield(source.Page{}, err)
					return
				}
				raws, err := source.RawItems(a.cfg.Path, body, a.cfg.ItemsField)
				if err != nil {
					yield(source.Page{}, err)
					return
				}

				page := a.cfg.Items.Build(ctx, raws, a.now())
				if offset == 0 {
					total, err := a.total(body)
					if err != nil {
						yield(source.Page{}, err)
						return
					}
					page.Declared = total
				}
				if !yield(page, nil) {
					return
				}

				if len(raws) < a.cfg.PageSize {
					logger.CtxDebug(ctx, "Search term exhausted: supplier=%s, %s=%s, offset=%d",
						a.SupplierID(), q.Param, q.Value, offset)
					break
				}
			}
		}
	}
}

func (a *Adapter) total(body []byte) (int, error) {
	raw, ok := payload.RawLookup(body, a.cfg.TotalField)
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(strings.Trim(string(raw), `"`))
	if err != nil || n < 0 {
		return 0, &source.MalformedResponseError{
			Op:  a.cfg.Path,
			Err: fmt.Errorf("%s is not a count: %s", a.cfg.TotalField, raw),
		}
	}
	return n, nil
}
