// Package cursor implements providers that page with an opaque cursor and a
// has-next flag.
package cursor

import (
	"context"
	"iter"
	"strconv"
	"time"

	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/payload"
	"github.com/timmy/catalogsync/internal/source"
)

// Config describes the request and response field names of a cursor API.
type Config struct {
	Path            string
	PageSize        int
	ItemsField      string
	NextCursorField string
	HasNextField    string
	CursorParam     string
	PageSizeParam   string
	Items           source.ItemBuilder
}

// Adapter pages through a cursor API, forwarding next_cursor until has_next
// turns false.
type Adapter struct {
	cfg    Config
	client *source.Client
	now    func() time.Time
}

// NewAdapter creates a new cursor adapter.
func NewAdapter(cfg Config, client *source.Client) *Adapter {
	return &Adapter{cfg: cfg, client: client, now: time.Now}
}

// SupplierID returns the supplier code.
func (a *Adapter) SupplierID() string {
	return a.cfg.Items.SupplierID
}

// Transport returns source.TransportCursor.
func (a *Adapter) Transport() source.Transport {
	return source.TransportCursor
}

// Pages requests one page per step. It stops when the provider reports no
// further page, and also when a page comes back empty or repeats a cursor,
// either of which would otherwise loop forever.
func (a *Adapter) Pages(ctx context.Context, filter source.Filter) iter.Seq2[source.Page, error] {
	return func(yield func(source.Page, error) bool) {
		cursor := ""
		seen := make(map[string]bool)
		for {
			params := filter.Params()
			params[a.cfg.PageSizeParam] = strconv.Itoa(a.cfg.PageSize)
			if cursor != "" {
				params[a.cfg.CursorParam] = cursor
			}

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
			hasNext, next, err := a.envelope(body)
			if err != nil {
				yield(source.Page{}, err)
				return
			}

			page := a.cfg.Items.Build(ctx, raws, a.now())
			if !yield(page, nil) {
				return
			}

			if !hasNext {
				return
			}
			if len(raws) == 0 || next == "" || seen[next] {
				logger.CtxWarn(ctx, "Cursor pagination stalled: supplier=%s, cursor=%q, items=%d",
					a.SupplierID(), next, len(raws))
				return
			}
			seen[next] = true
			cursor = next
		}
	}
}

func (a *Adapter) envelope(body []byte) (bool, string, error) {
	doc, err := payload.Decode(body)
	if err != nil {
		return false, "", &source.MalformedResponseError{Op: a.cfg.Path, Err: err}
	}

	hasNext := false
	if v, ok := payload.Lookup(doc, a.cfg.HasNextField); ok {
		hasNext, err = payload.Bool(v)
		if err != nil {
			return false, "", &source.MalformedResponseError{Op: a.cfg.Path, Err: err}
		}
	}

	next := ""
	if v, ok := payload.Lookup(doc, a.cfg.NextCursorField); ok {
		next, _ = payload.String(v)
	}
	return hasNext, next, nil
}
