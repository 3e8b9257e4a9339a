package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/timmy/catalogsync/internal/source"
)

type request struct {
	Term   string
	ID     string
	Offset string
}

// catalog serves `sizes[term]` items per term, page by page.
func catalog(t *testing.T, sizes map[string]int) (*httptest.Server, func() []request) {
	t.Helper()
	var (
		mu   sync.Mutex
		seen []request
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		mu.Lock()
		seen = append(seen, request{Term: q.Get("q"), ID: q.Get("id"), Offset: q.Get("offset")})
		mu.Unlock()

		key := q.Get("q")
		if key == "" {
			key = "id:" + q.Get("id")
		}
		total := sizes[key]
		offset, _ := strconv.Atoi(q.Get("offset"))
		size, _ := strconv.Atoi(q.Get("page_size"))

		items := []map[string]string{}
		for i := offset; i < total && i < offset+size; i++ {
			items = append(items, map[string]string{"goodsNo": fmt.Sprintf("%s-%d", key, i)})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "total_count": total})
	}))
	t.Cleanup(srv.Close)
	return srv, func() []request {
		mu.Lock()
		defer mu.Unlock()
		return append([]request(nil), seen...)
	}
}

func newAdapter(url string, cfg Config) *Adapter {
	client := source.NewClient(source.ClientConfig{
		SupplierID:  "domeme",
		BaseURL:     url,
		Timeout:     time.Second,
		MaxAttempts: 1,
	})
	cfg.Path = "/search"
	cfg.PageSize = 2
	cfg.TermParam = "q"
	cfg.IDParam = "id"
	cfg.OffsetParam = "offset"
	cfg.PageSizeParam = "page_size"
	cfg.ItemsField = "items"
	cfg.TotalField = "total_count"
	cfg.Items = source.ItemBuilder{SupplierID: "domeme", IDField: "goodsNo"}
	return NewAdapter(cfg, client)
}

func TestPagesStopsOnShortPage(t *testing.T) {
	srv, requests := catalog(t, map[string]int{"mug": 3, "lid": 2})
	a := newAdapter(srv.URL, Config{Terms: []string{"mug", "lid"}})

	var ids []string
	var declared []int
	for page, err := range a.Pages(context.Background(), source.Filter{}) {
		if err != nil {
			t.Fatalf("Pages: %v", err)
		}
		declared = append(declared, page.Declared)
		for _, it := range page.Items {
			ids = append(ids, it.ExternalID)
		}
	}

	wantIDs := []string{"mug-0", "mug-1", "mug-2", "lid-0", "lid-1"}
	if diff := cmp.Diff(wantIDs, ids); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	// "lid" fills its first page exactly, so an empty second page ends it.
	wantRequests := []request{
		{Term: "mug", Offset: "0"},
		{Term: "mug", Offset: "2"},
		{Term: "lid", Offset: "0"},
		{Term: "lid", Offset: "2"},
	}
	if diff := cmp.Diff(wantRequests, requests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{3, 0, 2, 0}, declared); diff != "" {
		t.Errorf("declared mismatch (-want +got):\n%s", diff)
	}
}

func TestQueriesExpandIDRanges(t *testing.T) {
	a := newAdapter("http://unused", Config{
		Terms:    []string{"cup"},
		IDRanges: []IDRange{{From: 7, To: 9}},
	})
	want := []Query{
		{Param: "q", Value: "cup"},
		{Param: "id", Value: "7"},
		{Param: "id", Value: "8"},
		{Param: "id", Value: "9"},
	}
	if diff := cmp.Diff(want, a.Queries(source.Filter{})); diff != "" {
		t.Errorf("queries mismatch (-want +got):\n%s", diff)
	}
}

func TestQueriesFallBackToFilterKeyword(t *testing.T) {
	a := newAdapter("http://unused", Config{})
	got := a.Queries(source.Filter{Keyword: "tumbler"})
	if len(got) != 1 || got[0].Value != "tumbler" {
		t.Errorf("Queries = %+v, want the filter keyword", got)
	}
}

func TestPagesIDRangeRequests(t *testing.T) {
	srv, requests := catalog(t, map[string]int{"id:1": 1})
	a := newAdapter(srv.URL, Config{IDRanges: []IDRange{{From: 1, To: 2}}})

	n := 0
	for page, err := range a.Pages(context.Background(), source.Filter{}) {
		if err != nil {
			t.Fatalf("Pages: %v", err)
		}
		n += len(page.Items)
	}
	if n != 1 {
		t.Errorf("collected %d items, want 1", n)
	}
	want := []request{{ID: "1", Offset: "0"}, {ID: "2", Offset: "0"}}
	if diff := cmp.Diff(want, requests()); diff != "" {
		t.Errorf("requests mismatch (-want +got):\n%s", diff)
	}
}
