package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
suppliers:
  - code: ownerclan
    enabled: true
    transport: cursor
    base_url: http://localhost:9999
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Ingest.ChunkSize != 2000 || cfg.Ingest.ShrinkFactor != 10 || cfg.Ingest.MinChunk != 1 {
		t.Errorf("unexpected ingest defaults: %+v", cfg.Ingest)
	}
	if cfg.Ingest.BatchLease != 2*time.Minute {
		t.Errorf("batch lease = %v, want 2m", cfg.Ingest.BatchLease)
	}
	if cfg.Pricing.DefaultMarginPercent != 30 || cfg.Pricing.DefaultRoundTo != 10 {
		t.Errorf("unexpected pricing defaults: %+v", cfg.Pricing)
	}

	s, ok := cfg.Supplier("ownerclan")
	if !ok {
		t.Fatal("supplier ownerclan not found")
	}
	if s.PageSize != 100 || s.MinInterval != 500*time.Millisecond {
		t.Errorf("supplier defaults not applied: page_size=%d min_interval=%s", s.PageSize, s.MinInterval)
	}
	if s.Cursor.HasNextField != "has_next" || s.Retry.MaxAttempts != 3 {
		t.Errorf("cursor/retry defaults not applied: %+v %+v", s.Cursor, s.Retry)
	}
}

func TestLoadRejectsInvalidSuppliers(t *testing.T) {
	path := writeConfig(t, `
suppliers:
  - code: a
    transport: cursor
  - code: a
    transport: ftp
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"declared twice", "unknown transport"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestResolveAPIKeyPrefersEnv(t *testing.T) {
	t.Setenv("ZENTRADE_KEY", "from-env")
	s := SupplierConfig{APIKey: "inline", APIKeyEnv: "ZENTRADE_KEY"}
	if got := s.ResolveAPIKey(); got != "from-env" {
		t.Errorf("ResolveAPIKey() = %q, want from-env", got)
	}
	s.APIKeyEnv = "UNSET_SUPPLIER_KEY"
	if got := s.ResolveAPIKey(); got != "inline" {
		t.Errorf("ResolveAPIKey() = %q, want inline", got)
	}
}
