package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ASK4RENT_CONFIG", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Session.TTL().Minutes() != 5 {
		t.Fatalf("unexpected ttl: %v", cfg.Session.TTL())
	}
	if cfg.Session.RenewDebounce().Seconds() != 1 || cfg.Session.SweepInterval().Seconds() != 60 {
		t.Fatalf("unexpected timings: %+v", cfg.Session)
	}
	if cfg.Places.Limit != 8 {
		t.Fatalf("unexpected places limit: %d", cfg.Places.Limit)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ask4rent.yaml")
	body := "backend:\n  base_url: http://file:9000\nmap:\n  default_zoom: 9\nstore:\n  backend: redis\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("ASK4RENT_CONFIG", path)
	t.Setenv("ASK4RENT_API_BASE", "http://env:8000")
	t.Setenv("SESSION_TTL_S", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Backend.BaseURL != "http://env:8000" {
		t.Fatalf("env should override file: %s", cfg.Backend.BaseURL)
	}
	if cfg.Map.DefaultZoom != 9 || cfg.Store.Backend != "redis" {
		t.Fatalf("file values not applied: %+v %+v", cfg.Map, cfg.Store)
	}
	if cfg.Session.TTLSec != 300 {
		t.Fatalf("bad env value should be ignored: %d", cfg.Session.TTLSec)
	}
	if cfg.Places.CountryCodes != "nz" {
		t.Fatalf("untouched fields should keep defaults: %q", cfg.Places.CountryCodes)
	}
}

func TestValidateRejectsZoom(t *testing.T) {
	cfg := Defaults()
	cfg.Map.DefaultZoom = 40
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}
