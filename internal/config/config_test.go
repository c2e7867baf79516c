package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	c, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file must not error: %v", err)
	}
	if c.HTTPAddr != ":8081" || c.MinZoom != 13 {
		t.Fatalf("unexpected defaults: %+v", c)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
http_addr: ":9090"
min_zoom: 11
cache_ttl: 2m
sources:
  planreg:
    base_url: "https://planning.example.org"
    timeout: 5s
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.HTTPAddr != ":9090" {
		t.Fatalf("http_addr not applied: %q", c.HTTPAddr)
	}
	if c.MinZoom != 11 {
		t.Fatalf("min_zoom not applied: %v", c.MinZoom)
	}
	if c.CacheTTL.Std() != 2*time.Minute {
		t.Fatalf("cache_ttl not applied: %v", c.CacheTTL)
	}
	if c.Sources.PlanReg.BaseURL != "https://planning.example.org" || c.Sources.PlanReg.Timeout.Std() != 5*time.Second {
		t.Fatalf("source config not applied: %+v", c.Sources.PlanReg)
	}
	// Untouched fields keep their defaults.
	if c.LogLevel != "info" {
		t.Fatalf("log_level default lost: %q", c.LogLevel)
	}
}

func TestLoad_RejectsNegativeZoom(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("min_zoom: -1\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for negative min_zoom")
	}
}
