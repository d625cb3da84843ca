package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// chdir moves into dir for the test so no stray .env is picked up.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, key := range []string{"ALLOWED_ORIGINS", "PROVIDERS", "ALLOWED_ORIGIN_SUFFIXES", "PROVIDER_ENDPOINT",
		"REQUEST_BUDGET", "BUDGET_SAFETY_FLOOR", "MAX_IMAGE_BYTES", "RATE_LIMIT_MAX", "RATE_LIMIT_WINDOW"} {
		unsetenv(t, key)
	}

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.RequestBudget != 25*time.Second || cfg.BudgetSafetyFloor != 2*time.Second {
		t.Errorf("unexpected budget defaults: %s/%s", cfg.RequestBudget, cfg.BudgetSafetyFloor)
	}
	if cfg.MaxImageBytes != 5_000_000 {
		t.Errorf("expected 5000000 image bytes, got %d", cfg.MaxImageBytes)
	}
	if cfg.RateLimitMax != 30 || cfg.RateLimitWindow != time.Minute {
		t.Errorf("unexpected rate limit defaults: %d/%s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
	if strings.Join(cfg.Providers, ",") != "api4ai,remove-bg" {
		t.Errorf("unexpected providers: %v", cfg.Providers)
	}
	if cfg.ProviderEndpoint != DefaultProviderEndpoint {
		t.Errorf("unexpected endpoint: %s", cfg.ProviderEndpoint)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	unsetenv(t, "HOST")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", " https://dressme.app , https://admin.dressme.app ")
	t.Setenv("ALLOWED_ORIGIN_SUFFIXES", ".lovable.app")
	t.Setenv("PROVIDERS", "remove-bg")
	t.Setenv("REQUEST_BUDGET", "12s")
	t.Setenv("PROVIDER_CALL_FRACTION", "0.5")
	t.Setenv("RATE_LIMIT_MAX", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "10s")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ServerAddress() != "0.0.0.0:9090" {
		t.Errorf("unexpected address %s", cfg.ServerAddress())
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://admin.dressme.app" {
		t.Errorf("unexpected origins: %v", cfg.AllowedOrigins)
	}
	if len(cfg.AllowedOriginSuffixes) != 1 || len(cfg.Providers) != 1 {
		t.Errorf("unexpected lists: %v %v", cfg.AllowedOriginSuffixes, cfg.Providers)
	}
	if cfg.RequestBudget != 12*time.Second || cfg.ProviderCallFraction != 0.5 {
		t.Errorf("unexpected budget: %s %g", cfg.RequestBudget, cfg.ProviderCallFraction)
	}
	if cfg.RateLimitMax != 5 || cfg.RateLimitWindow != 10*time.Second {
		t.Errorf("unexpected rate limit: %d %s", cfg.RateLimitMax, cfg.RateLimitWindow)
	}
}

func TestLoadFromEnv_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("EDENAI_API_KEY=from-dotenv\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	unsetenv(t, "EDENAI_API_KEY")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}
	if cfg.ProviderAPIKey != "from-dotenv" {
		t.Errorf("expected key from .env, got %q", cfg.ProviderAPIKey)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:                   "8080",
			RequestTimeout:         30 * time.Second,
			MaxRequestBodySize:     1024,
			MaxImageBytes:          1024,
			RequestBudget:          25 * time.Second,
			BudgetSafetyFloor:      2 * time.Second,
			ProviderCallFraction:   0.6,
			ProviderMinCallTimeout: time.Second,
			ProviderMaxCallTimeout: 15 * time.Second,
			Providers:              []string{"api4ai"},
			RateLimitMax:           30,
			RateLimitWindow:        time.Minute,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = "http" }},
		{"budget above request timeout", func(c *Config) { c.RequestBudget = 40 * time.Second }},
		{"floor above budget", func(c *Config) { c.BudgetSafetyFloor = 30 * time.Second }},
		{"fraction out of range", func(c *Config) { c.ProviderCallFraction = 1.5 }},
		{"min above max", func(c *Config) { c.ProviderMinCallTimeout = 20 * time.Second }},
		{"no providers", func(c *Config) { c.Providers = nil }},
		{"zero rate limit", func(c *Config) { c.RateLimitMax = 0 }},
		{"zero image bytes", func(c *Config) { c.MaxImageBytes = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
