package payload

import (
	"encoding/json"
	"testing"
)

func TestLookup(t *testing.T) {
	doc, err := Decode([]byte(`{"key":"W1","options":[{"price":12000,"quantity":3}],"meta":{"brand":"Acme"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	tests := []struct {
		path string
		want string
		ok   bool
	}{
		{"key", "W1", true},
		{"options.0.price", "12000", true},
		{"options.1.price", "", false},
		{"meta.brand", "Acme", true},
		{"meta.missing", "", false},
		{"key.nested", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			v, ok := Lookup(doc, tt.path)
			if ok != tt.ok {
				t.Fatalf("Lookup(%q) ok = %v, want %v", tt.path, ok, tt.ok)
			}
			if !ok {
				return
			}
			got, _ := String(v)
			if got != tt.want {
				t.Errorf("Lookup(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestRawLookupKeepsBytes(t *testing.T) {
	raw := json.RawMessage(`{"data":{"items":[{"b":1, "a":2}]}}`)
	items, ok := RawLookup(raw, "data.items")
	if !ok {
		t.Fatal("data.items not found")
	}
	first, ok := RawLookup(items, "0")
	if !ok {
		t.Fatal("data.items.0 not found")
	}
	if string(first) != `{"b":1, "a":2}` {
		t.Errorf("RawLookup rewrote the item: %s", first)
	}
	if _, ok := RawLookup(json.RawMessage(`{"x":null}`), "x"); ok {
		t.Error("null should not be found")
	}
}

func TestBool(t *testing.T) {
	for in, want := range map[interface{}]bool{true: true, "false": false, "1": true, json.Number("0"): false} {
		got, err := Bool(in)
		if err != nil {
			t.Fatalf("Bool(%v): %v", in, err)
		}
		if got != want {
			t.Errorf("Bool(%v) = %v, want %v", in, got, want)
		}
	}
	if _, err := Bool([]interface{}{}); err == nil {
		t.Error("expected error for array")
	}
}
