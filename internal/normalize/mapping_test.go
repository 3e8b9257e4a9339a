package normalize

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMappings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	doc := `
suppliers:
  zentrade:
    title: prdtname
    price: price.#text
    cost_price: price.@buyprice
    stock: stock
    availability:
      path: "@status"
      active_values: ["Y"]
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	mappings, err := LoadMappings(path)
	if err != nil {
		t.Fatalf("LoadMappings: %v", err)
	}
	m, ok := mappings["zentrade"]
	if !ok {
		t.Fatal("zentrade mapping missing")
	}
	if m.CostPrice != "price.@buyprice" || m.Availability == nil || m.Availability.ActiveValues[0] != "Y" {
		t.Errorf("unexpected mapping: %+v", m)
	}
}

func TestParseMappingsRequiresTitleAndPrice(t *testing.T) {
	if _, err := ParseMappings([]byte("suppliers:\n  x:\n    title: name\n")); err == nil {
		t.Error("expected an error for a mapping without a price path")
	}
}
