package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/timmy/catalogsync/internal/domain"
	"github.com/timmy/catalogsync/internal/normalize"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/repository/repotest"
)

var decimalEqual = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

type normalizeFixture struct {
	svc      *NormalizeService
	raw      *repository.RawRecordRepository
	products *repository.ProductRepository
}

func newNormalizeFixture(t *testing.T, pageSize int) *normalizeFixture {
	t.Helper()
	db := repotest.Open(t)
	raw := repository.NewRawRecordRepository(db)
	products := repository.NewProductRepository(db)
	mappings := normalize.Mappings{
		"ownerclan": {Title: "name", Price: "price", CostFromPrice: true, Stock: "stock", Category: "category"},
	}
	return &normalizeFixture{
		svc:      NewNormalizeService(raw, products, mappings, nil, pageSize, &IngestConfig{ChunkSize: 10}),
		raw:      raw,
		products: products,
	}
}

func (f *normalizeFixture) store(t *testing.T, merge bool, items ...string) {
	t.Helper()
	var rows []domain.RawRecord
	for i := 0; i+1 < len(items); i += 2 {
		rows = append(rows, newRawRecord(item(items[i], items[i+1]), mustHash(t, items[i+1])))
	}
	write := f.raw.InsertChunk
	if merge {
		write = f.raw.MergeChunk
	}
	if err := write(context.Background(), rows); err != nil {
		t.Fatalf("store raw records: %v", err)
	}
}

func TestNormalizeRunProcessesEachRecordOnce(t *testing.T) {
	f := newNormalizeFixture(t, 2)
	ctx := context.Background()
	f.store(t, false,
		"a", `{"name":"Mug","price":"12,900","stock":3,"category":"kitchen"}`,
		"b", `{"price":100}`,
		"c", `{"name":"Lid","price":500,"stock":0}`,
	)

	stats, err := f.svc.Run(ctx, "ownerclan")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(&NormalizeStats{Processed: 3, Normalized: 2, Skipped: 1}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	mug, err := f.products.GetByKey(ctx, "ownerclan", "a")
	if err != nil {
		t.Fatalf("GetByKey: %v", err)
	}
	if !mug.Price.Equal(decimal.NewFromInt(12900)) || mug.Status != domain.ProductStatusActive || mug.Category != "kitchen" {
		t.Errorf("product = %+v", mug)
	}
	lid, _ := f.products.GetByKey(ctx, "ownerclan", "c")
	if lid.Status != domain.ProductStatusOutOfStock {
		t.Errorf("lid status = %s, want out_of_stock", lid.Status)
	}

	skipped, _ := f.raw.GetByKey(ctx, "ownerclan", "b")
	if !skipped.Processed || skipped.NormalizeError == "" {
		t.Errorf("skipped record = processed:%v reason:%q", skipped.Processed, skipped.NormalizeError)
	}
	if _, err := f.products.GetByKey(ctx, "ownerclan", "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("skipped record produced a product: err=%v", err)
	}

	again, err := f.svc.Run(ctx, "ownerclan")
	if err != nil {
		t.Fatal(err)
	}
	if again.Processed != 0 {
		t.Errorf("second Run processed %d records, want 0", again.Processed)
	}
}

func TestNormalizeRunPicksUpChangedRecords(t *testing.T) {
	f := newNormalizeFixture(t, 10)
	ctx := context.Background()
	f.store(t, false, "a", `{"name":"Mug","price":100}`)
	if _, err := f.svc.Run(ctx, "ownerclan"); err != nil {
		t.Fatal(err)
	}

	f.store(t, true, "a", `{"name":"Mug","price":150}`)
	stats, err := f.svc.Run(ctx, "ownerclan")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Normalized != 1 {
		t.Errorf("normalized = %d, want 1", stats.Normalized)
	}
	p, _ := f.products.GetByKey(ctx, "ownerclan", "a")
	if !p.Price.Equal(decimal.NewFromInt(150)) {
		t.Errorf("price = %s, want 150", p.Price)
	}
}

func TestNormalizeResetReproducesIdenticalRows(t *testing.T) {
	f := newNormalizeFixture(t, 10)
	ctx := context.Background()
	f.store(t, false,
		"a", `{"name":"Mug","price":100,"stock":1}`,
		"b", `{"name":"Cup","price":200}`,
	)
	if _, err := f.svc.Run(ctx, "ownerclan"); err != nil {
		t.Fatal(err)
	}
	before, _ := f.products.Page(ctx, "ownerclan", "", 10)

	n, err := f.svc.Reset(ctx, "ownerclan")
	if err != nil || n != 2 {
		t.Fatalf("Reset = %d, %v; want 2", n, err)
	}
	stats, err := f.svc.Run(ctx, "ownerclan")
	if err != nil || stats.Normalized != 2 {
		t.Fatalf("Run after reset = %+v, %v", stats, err)
	}
	after, _ := f.products.Page(ctx, "ownerclan", "", 10)

	if diff := cmp.Diff(before, after, decimalEqual); diff != "" {
		t.Errorf("re-normalizing changed products (-before +after):\n%s", diff)
	}
}

func TestNormalizeKeysIgnoresProcessedFlag(t *testing.T) {
	f := newNormalizeFixture(t, 1)
	ctx := context.Background()
	f.store(t, false,
		"a", `{"name":"Mug","price":100}`,
		"b", `{"name":"Cup","price":200}`,
	)
	if _, err := f.svc.Run(ctx, "ownerclan"); err != nil {
		t.Fatal(err)
	}

	stats, err := f.svc.NormalizeKeys(ctx, "ownerclan", []string{"a", "b", "missing"})
	if err != nil {
		t.Fatalf("NormalizeKeys: %v", err)
	}
	if diff := cmp.Diff(&NormalizeStats{Processed: 2, Normalized: 2}, stats); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}
}

func TestNormalizeUnknownSupplier(t *testing.T) {
	f := newNormalizeFixture(t, 10)
	if _, err := f.svc.Run(context.Background(), "nobody"); !errors.Is(err, ErrNoMapping) {
		t.Errorf("Run err = %v, want ErrNoMapping", err)
	}
	if _, err := f.svc.NormalizeKeys(context.Background(), "nobody", []string{"a"}); !errors.Is(err, ErrNoMapping) {
		t.Errorf("NormalizeKeys err = %v, want ErrNoMapping", err)
	}
}
