package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStorage()
	for _, key := range []string{"exports/b/2.json", "exports/a/1.json", "exports/b/1.json"} {
		if err := m.Upload(ctx, key, strings.NewReader(key), int64(len(key)), "application/json"); err != nil {
			t.Fatalf("Upload %s: %v", key, err)
		}
	}

	keys, err := m.List(ctx, "exports/b/")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"exports/b/1.json", "exports/b/2.json"}, keys); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	if err := m.Delete(ctx, "exports/b/1.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := m.Delete(ctx, "exports/b/1.json"); err != nil {
		t.Errorf("deleting a missing key: %v", err)
	}
	if ok, _ := m.Exists(ctx, "exports/b/1.json"); ok {
		t.Error("deleted key still exists")
	}
	if _, err := m.Download(ctx, "exports/b/1.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Download of deleted key: err = %v, want ErrNotFound", err)
	}
}
