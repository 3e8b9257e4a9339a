package export

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/storage"
)

func testClient(url string) *source.Client {
	return source.NewClient(source.ClientConfig{
		SupplierID:  "zentrade",
		BaseURL:     url,
		Timeout:     time.Second,
		MaxAttempts: 1,
		BaseDelay:   time.Millisecond,
	})
}

func serve(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func onlyPage(t *testing.T, a *Adapter) source.Page {
	t.Helper()
	var pages []source.Page
	for page, err := range a.Pages(context.Background(), source.Filter{}) {
		if err != nil {
			t.Fatalf("Pages: %v", err)
		}
		pages = append(pages, page)
	}
	if len(pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(pages))
	}
	return pages[0]
}

func ids(page source.Page) []string {
	var out []string
	for _, it := range page.Items {
		out = append(out, it.ExternalID)
	}
	return out
}

func TestJSONExportCountMismatchIsAWarning(t *testing.T) {
	var buf bytes.Buffer
	ctx := logger.New(&logger.Config{Level: "warn", Format: "json", Output: &buf}).WithContext(context.Background())

	srv := serve(t, `{"declared_item_count": 3, "items": [{"id": "A"}, {"id": "B"}]}`)
	a := NewAdapter(Config{
		Path:       "/export",
		CountField: "declared_item_count",
		ItemsField: "items",
		Items:      source.ItemBuilder{SupplierID: "zentrade", IDField: "id"},
	}, testClient(srv.URL), nil)

	var page source.Page
	for p, err := range a.Pages(ctx, source.Filter{}) {
		if err != nil {
			t.Fatalf("count mismatch must not fail the run: %v", err)
		}
		page = p
	}

	if diff := cmp.Diff([]string{"A", "B"}, ids(page)); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if page.Declared != 3 {
		t.Errorf("Declared = %d, want 3", page.Declared)
	}
	if !strings.Contains(buf.String(), "Export count mismatch") {
		t.Errorf("expected a count mismatch warning, got %q", buf.String())
	}
}

func TestXMLExport(t *testing.T) {
	srv := serve(t, `<?xml version="1.0" encoding="UTF-8"?>
<products count="2">
  <product code="Z-1">
    <prdtname>Steel Mug</prdtname>
    <price buyprice="4200">5900</price>
    <option>Red</option>
    <option>Blue</option>
  </product>
  <product code="Z-2"><prdtname>Lid</prdtname></product>
</products>`)

	a := NewAdapter(Config{
		Path:        "/export.xml",
		Format:      FormatXML,
		CountField:  "count",
		ItemElement: "product",
		Items:       source.ItemBuilder{SupplierID: "zentrade", IDField: "@code"},
	}, testClient(srv.URL), nil)

	page := onlyPage(t, a)
	if diff := cmp.Diff([]string{"Z-1", "Z-2"}, ids(page)); diff != "" {
		t.Fatalf("items mismatch (-want +got):\n%s", diff)
	}
	if page.Declared != 2 {
		t.Errorf("Declared = %d, want 2", page.Declared)
	}

	var first map[string]interface{}
	if err := json.Unmarshal(page.Items[0].Payload, &first); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	want := map[string]interface{}{
		"@code":    "Z-1",
		"prdtname": "Steel Mug",
		"price":    map[string]interface{}{"@buyprice": "4200", "#text": "5900"},
		"option":   []interface{}{"Red", "Blue"},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestExportArchivesAndReplays(t *testing.T) {
	archive := storage.NewMemoryStorage()
	srv := serve(t, `{"items": [{"id": "A"}]}`)
	cfg := Config{
		Path:       "/export",
		ItemsField: "items",
		Items:      source.ItemBuilder{SupplierID: "zentrade", IDField: "id"},
	}

	a := NewAdapter(cfg, testClient(srv.URL), archive)
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return fixed }
	onlyPage(t, a)

	key := a.ArchiveKey(fixed)
	if diff := cmp.Diff([]string{key}, archive.Keys()); diff != "" {
		t.Fatalf("archive keys mismatch (-want +got):\n%s", diff)
	}
	if !strings.HasPrefix(key, "exports/zentrade/2024/05/01/") {
		t.Errorf("unexpected archive key %q", key)
	}

	cfg.ReplayKey = key
	replay := NewAdapter(cfg, testClient("http://127.0.0.1:1"), archive)
	if diff := cmp.Diff([]string{"A"}, ids(onlyPage(t, replay))); diff != "" {
		t.Errorf("replayed items mismatch (-want +got):\n%s", diff)
	}
}

func TestExportReplayOfMissingKey(t *testing.T) {
	a := NewAdapter(Config{
		Path:       "/export",
		ItemsField: "items",
		ReplayKey:  "exports/zentrade/2024/05/01/1714554000.json",
		Items:      source.ItemBuilder{SupplierID: "zentrade", IDField: "id"},
	}, testClient("http://127.0.0.1:1"), storage.NewMemoryStorage())

	var got error
	for _, err := range a.Pages(context.Background(), source.Filter{}) {
		got = err
	}
	if !errors.Is(got, storage.ErrNotFound) {
		t.Errorf("err = %v, want storage.ErrNotFound", got)
	}
}

func TestExportPrunesOldArchives(t *testing.T) {
	archive := storage.NewMemoryStorage()
	// Archives of another supplier are never touched.
	other := "exports/zentrade-b2b/2024/04/01/1711929600.json"
	if err := archive.Upload(context.Background(), other, strings.NewReader("{}"), 2, "application/json"); err != nil {
		t.Fatal(err)
	}

	srv := serve(t, `{"items": [{"id": "A"}]}`)
	a := NewAdapter(Config{
		Path:         "/export",
		ItemsField:   "items",
		KeepArchives: 2,
		Items:        source.ItemBuilder{SupplierID: "zentrade", IDField: "id"},
	}, testClient(srv.URL), archive)

	var fetched []time.Time
	for day := 1; day <= 4; day++ {
		at := time.Date(2024, 5, day, 9, 0, 0, 0, time.UTC)
		fetched = append(fetched, at)
		a.now = func() time.Time { return at }
		onlyPage(t, a)
	}

	keys, err := archive.List(context.Background(), "exports/")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{other, a.ArchiveKey(fetched[2]), a.ArchiveKey(fetched[3])}
	if diff := cmp.Diff(want, keys); diff != "" {
		t.Errorf("archive keys mismatch (-want +got):\n%s", diff)
	}
}

func TestExportMissingItemListIsMalformed(t *testing.T) {
	srv := serve(t, `{"declared_item_count": 1}`)
	a := NewAdapter(Config{
		Path:       "/export",
		CountField: "declared_item_count",
		ItemsField: "items",
		Items:      source.ItemBuilder{SupplierID: "zentrade", IDField: "id"},
	}, testClient(srv.URL), nil)

	for _, err := range a.Pages(context.Background(), source.Filter{}) {
		var malformed *source.MalformedResponseError
		if !errors.As(err, &malformed) {
			t.Fatalf("expected MalformedResponseError, got %v", err)
		}
	}
}
