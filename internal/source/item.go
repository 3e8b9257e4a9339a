package source

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/metrics"
	"github.com/timmy/catalogsync/internal/payload"
)

// ItemBuilder turns raw provider objects into RawItems, reading the external
// id from a dotted path.
type ItemBuilder struct {
	SupplierID string
	IDField    string
	Metrics    *metrics.Metrics
}

// Build converts raw objects into a page. Objects without a usable external
// id can never be keyed in the raw store; they are returned in Rejected
// under a content-derived placeholder id so the batch can count them.
func (b ItemBuilder) Build(ctx context.Context, raws []json.RawMessage, fetchedAt time.Time) Page {
	page := Page{Items: make([]RawItem, 0, len(raws))}
	for _, raw := range raws {
		id, ok := b.externalID(raw)
		if !ok {
			page.Rejected = append(page.Rejected, domain.FailedItem{
				ExternalID: placeholderID(raw),
				Reason:     "missing external id at " + b.IDField,
			})
			continue
		}
		page.Items = append(page.Items, RawItem{
			SupplierID: b.SupplierID,
			ExternalID: id,
			Payload:    raw,
			FetchedAt:  fetchedAt,
		})
	}
	if n := len(page.Rejected); n > 0 {
		b.Metrics.DroppedItems(b.SupplierID, n)
		logger.CtxWarn(ctx, "Rejected items without external id: supplier=%s, id_field=%s, count=%d, first=%s",
			b.SupplierID, b.IDField, n, page.Rejected[0].ExternalID)
	}
	return page
}

// placeholderID names an unkeyed object by a prefix of its content hash.
func placeholderID(raw json.RawMessage) string {
	sum := sha256.Sum256(raw)
	return "sha256:" + hex.EncodeToString(sum[:6])
}

func (b ItemBuilder) externalID(raw json.RawMessage) (string, bool) {
	doc, err := payload.Decode(raw)
	if err != nil {
		return "", false
	}
	v, ok := payload.Lookup(doc, b.IDField)
	if !ok {
		return "", false
	}
	id, ok := payload.String(v)
	return id, ok && id != ""
}

var errInvalidJSON = errors.New("body is not valid JSON")

// RawItems reads an array of objects out of a response body.
func RawItems(op string, body []byte, field string) ([]json.RawMessage, error) {
	raw, ok := payload.RawLookup(body, field)
	if !ok {
		// An absent or null item list is an empty page.
		if !json.Valid(body) {
			return nil, &MalformedResponseError{Op: op, Err: errInvalidJSON}
		}
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &MalformedResponseError{Op: op, Err: err}
	}
	return items, nil
}
