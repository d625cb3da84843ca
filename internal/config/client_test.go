package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadClientConfig_Defaults(t *testing.T) {
	cfg, err := LoadClientConfig("")
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.Compression.MaxDimension != 1920 || cfg.Compression.MaxBytes != 2_000_000 {
		t.Errorf("unexpected compression defaults: %+v", cfg.Compression)
	}
	if cfg.Removal.Primary != "api4ai" || cfg.Removal.Secondary != "remove-bg" {
		t.Errorf("unexpected providers: %+v", cfg.Removal)
	}
	if cfg.Removal.Attempts != 3 || cfg.Removal.Backoff() != 300*time.Millisecond {
		t.Errorf("unexpected retry defaults: %+v", cfg.Removal)
	}
	if cfg.Azure.Enabled() {
		t.Error("azure sink must be off by default")
	}
}

func TestLoadClientConfig_TOMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.toml")
	content := `
proxy_url = "https://proxy.example/v1/remove-background"
output_dir = "/tmp/out"

[compression]
max_dimension = 1280

[removal]
attempts = 2
backoff_ms = 50
local_fallback = false

[azure]
account_name = "garments"
container = "processed"
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("LoadClientConfig: %v", err)
	}
	if cfg.ProxyURL != "https://proxy.example/v1/remove-background" || cfg.OutputDir != "/tmp/out" {
		t.Errorf("unexpected overlay: %+v", cfg)
	}
	if cfg.Compression.MaxDimension != 1280 || cfg.Compression.MaxBytes != 2_000_000 {
		t.Errorf("expected partial overlay to keep defaults: %+v", cfg.Compression)
	}
	if cfg.Removal.Attempts != 2 || cfg.Removal.Backoff() != 50*time.Millisecond || cfg.Removal.LocalFallback {
		t.Errorf("unexpected removal overlay: %+v", cfg.Removal)
	}
	if cfg.Removal.Primary != "api4ai" {
		t.Errorf("expected primary default kept, got %q", cfg.Removal.Primary)
	}
	if !cfg.Azure.Enabled() {
		t.Error("expected azure sink enabled")
	}
}

func TestLoadClientConfig_Errors(t *testing.T) {
	if _, err := LoadClientConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[removal]\nattempts = 0\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadClientConfig(path); err == nil {
		t.Error("expected validation error for zero attempts")
	}

	if err := os.WriteFile(path, []byte("proxy_url = ["), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadClientConfig(path); err == nil {
		t.Error("expected parse error")
	}
}
