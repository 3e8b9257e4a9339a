package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/source"
	"gorm.io/datatypes"
)

// MalformedPayloadError reports a record whose payload cannot be hashed.
type MalformedPayloadError struct {
	ExternalID string
	Err        error
}

func (e *MalformedPayloadError) Error() string {
	return fmt.Sprintf("malformed payload for %s: %v", e.ExternalID, e.Err)
}

func (e *MalformedPayloadError) Unwrap() error { return e.Err }

// ContentHash returns the SHA-256 hex digest of the canonical form of a JSON
// payload. Object keys are sorted at every level and numbers keep their
// textual form, so key order and whitespace do not change the hash.
func ContentHash(payload []byte) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if dec.More() {
		return "", fmt.Errorf("trailing data after JSON value")
	}
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Collapse removes duplicate external ids from one batch. The last
// occurrence's payload wins and takes the position of the first occurrence.
func Collapse(items []source.RawItem) []source.RawItem {
	index := make(map[string]int, len(items))
	out := make([]source.RawItem, 0, len(items))
	for _, it := range items {
		if i, ok := index[it.ExternalID]; ok {
			out[i] = it
			continue
		}
		index[it.ExternalID] = len(out)
		out = append(out, it)
	}
	return out
}

// HashSource pages through the stored hashes of a supplier.
type HashSource interface {
	HashPage(ctx context.Context, supplierID, after string, limit int) ([]domain.RecordHash, error)
}

// Snapshot maps external id to content hash for one supplier. It is owned by
// a single collection run and is not safe for concurrent use.
type Snapshot struct {
	SupplierID string
	hashes     map[string]string
}

// NewSnapshot creates an empty snapshot.
func NewSnapshot(supplierID string) *Snapshot {
	return &Snapshot{SupplierID: supplierID, hashes: make(map[string]string)}
}

// LoadSnapshot reads every stored hash of a supplier with keyset pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - src: store to page through.
//   - supplierID: supplier whose records are loaded.
//   - pageSize: rows per query.
// Returns:
//   - *Snapshot: the loaded snapshot.
//   - error: non-nil if a page query fails.
func LoadSnapshot(ctx context.Context, src HashSource, supplierID string, pageSize int) (*Snapshot, error) {
	if pageSize <= 0 {
		pageSize = 5000
	}
	snap := NewSnapshot(supplierID)
	after := ""
	for {
		page, err := src.HashPage(ctx, supplierID, after, pageSize)
		if err != nil {
			return nil, fmt.Errorf("load snapshot for %s: %w", supplierID, err)
		}
		for _, h := range page {
			snap.hashes[h.ExternalID] = h.ContentHash
		}
		if len(page) < pageSize {
			return snap, nil
		}
		after = page[len(page)-1].ExternalID
	}
}

// Hash returns the stored hash of an external id.
func (s *Snapshot) Hash(externalID string) (string, bool) {
	h, ok := s.hashes[externalID]
	return h, ok
}

// Len returns the number of known records.
func (s *Snapshot) Len() int {
	return len(s.hashes)
}

// Apply records committed rows so later windows of the same run see them.
func (s *Snapshot) Apply(rows []domain.RawRecord) {
	for _, r := range rows {
		s.hashes[r.ExternalID] = r.ContentHash
	}
}

// Classification is the split of one collapsed batch against a snapshot.
type Classification struct {
	New       []domain.RawRecord
	Changed   []domain.RawRecord
	Unchanged int
	Rejected  []domain.FailedItem
}

// Classify hashes each item and sorts it into new, changed or unchanged.
// Items are expected to be collapsed already. Unchanged items are only
// counted; items whose payload cannot be hashed are rejected with a reason.
func Classify(items []source.RawItem, snap *Snapshot) Classification {
	var c Classification
	for _, it := range items {
		hash, err := ContentHash(it.Payload)
		if err != nil {
			perr := &MalformedPayloadError{ExternalID: it.ExternalID, Err: err}
			c.Rejected = append(c.Rejected, domain.FailedItem{ExternalID: it.ExternalID, Reason: perr.Error()})
			continue
		}

		existing, known := snap.Hash(it.ExternalID)
		switch {
		case known && existing == hash:
			c.Unchanged++
		case known:
			c.Changed = append(c.Changed, newRawRecord(it, hash))
		default:
			c.New = append(c.New, newRawRecord(it, hash))
		}
	}
	return c
}

func newRawRecord(it source.RawItem, hash string) domain.RawRecord {
	return domain.RawRecord{
		ID:          uuid.New().String(),
		SupplierID:  it.SupplierID,
		ExternalID:  it.ExternalID,
		Payload:     datatypes.JSON(it.Payload),
		ContentHash: hash,
		CollectedAt: it.FetchedAt,
	}
}
