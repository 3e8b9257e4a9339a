package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/source"
)

var fetchedAt = time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)

func item(id, payload string) source.RawItem {
	return source.RawItem{SupplierID: "ownerclan", ExternalID: id, Payload: json.RawMessage(payload), FetchedAt: fetchedAt}
}

func mustHash(t *testing.T, payload string) string {
	t.Helper()
	h, err := ContentHash([]byte(payload))
	if err != nil {
		t.Fatalf("ContentHash(%s): %v", payload, err)
	}
	return h
}

func TestContentHashIgnoresKeyOrderAndWhitespace(t *testing.T) {
	a := mustHash(t, `{"b": 1, "a": {"y": [1, 2], "x": "s"}}`)
	b := mustHash(t, `{"a":{"x":"s","y":[1,2]},"b":1}`)
	if a != b {
		t.Errorf("hash depends on key order: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64", len(a))
	}
}

func TestContentHashPreservesNumberText(t *testing.T) {
	if mustHash(t, `{"price": 1}`) == mustHash(t, `{"price": 1.0}`) {
		t.Error("1 and 1.0 must hash differently")
	}
	if mustHash(t, `{"id": 12345678901234567890}`) == mustHash(t, `{"id": 12345678901234567891}`) {
		t.Error("large integers lost precision")
	}
}

func TestContentHashRejectsInvalidJSON(t *testing.T) {
	for _, bad := range []string{``, `{"a":`, `{"a":1} {"b":2}`} {
		if _, err := ContentHash([]byte(bad)); err == nil {
			t.Errorf("ContentHash(%q) succeeded, want error", bad)
		}
	}
}

func TestCollapseKeepsFirstPositionAndLastPayload(t *testing.T) {
	got := Collapse([]source.RawItem{
		item("A", `{"v":1}`),
		item("B", `{"v":1}`),
		item("A", `{"v":2}`),
		item("C", `{"v":1}`),
		item("A", `{"v":3}`),
	})

	var ids, payloads []string
	for _, it := range got {
		ids = append(ids, it.ExternalID)
		payloads = append(payloads, string(it.Payload))
	}
	if diff := cmp.Diff([]string{"A", "B", "C"}, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if payloads[0] != `{"v":3}` {
		t.Errorf("A payload = %s, want the last occurrence", payloads[0])
	}
}

func TestClassify(t *testing.T) {
	snap := NewSnapshot("ownerclan")
	snap.Apply([]domain.RawRecord{
		{ExternalID: "same", ContentHash: mustHash(t, `{"v":1}`)},
		{ExternalID: "moved", ContentHash: mustHash(t, `{"v":1}`)},
	})

	c := Classify([]source.RawItem{
		item("same", `{ "v" : 1 }`),
		item("moved", `{"v":2}`),
		item("fresh", `{"v":1}`),
		item("broken", `{"v":`),
	}, snap)

	if c.Unchanged != 1 {
		t.Errorf("Unchanged = %d, want 1", c.Unchanged)
	}
	if len(c.Changed) != 1 || c.Changed[0].ExternalID != "moved" {
		t.Errorf("Changed = %+v, want [moved]", c.Changed)
	}
	if len(c.New) != 1 || c.New[0].ExternalID != "fresh" {
		t.Errorf("New = %+v, want [fresh]", c.New)
	}
	if len(c.Rejected) != 1 || c.Rejected[0].ExternalID != "broken" || c.Rejected[0].Reason == "" {
		t.Errorf("Rejected = %+v, want [broken] with a reason", c.Rejected)
	}
	if c.New[0].ID == "" || c.New[0].ContentHash == "" || !c.New[0].CollectedAt.Equal(fetchedAt) {
		t.Errorf("new record not filled in: %+v", c.New[0])
	}
}

type pagedHashes struct {
	rows  []domain.RecordHash
	calls []string
	fail  bool
}

func (p *pagedHashes) HashPage(_ context.Context, _ string, after string, limit int) ([]domain.RecordHash, error) {
	p.calls = append(p.calls, after)
	if p.fail {
		return nil, errors.New("connection reset")
	}
	var out []domain.RecordHash
	for _, r := range p.rows {
		if r.ExternalID > after && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestLoadSnapshotUsesKeysetPages(t *testing.T) {
	src := &pagedHashes{}
	for _, id := range []string{"e", "a", "d", "b", "c"} {
		src.rows = append(src.rows, domain.RecordHash{ExternalID: id, ContentHash: "h-" + id})
	}
	sort.Slice(src.rows, func(i, j int) bool { return src.rows[i].ExternalID < src.rows[j].ExternalID })

	snap, err := LoadSnapshot(context.Background(), src, "ownerclan", 2)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if snap.Len() != 5 {
		t.Errorf("Len = %d, want 5", snap.Len())
	}
	if h, _ := snap.Hash("d"); h != "h-d" {
		t.Errorf("Hash(d) = %q, want h-d", h)
	}
	if diff := cmp.Diff([]string{"", "b", "d"}, src.calls); diff != "" {
		t.Errorf("keyset positions mismatch (-want +got):\n%s", diff)
	}

	if _, err := LoadSnapshot(context.Background(), &pagedHashes{fail: true}, "ownerclan", 2); err == nil {
		t.Error("expected the page error to be returned")
	}
}
