package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ClientConfig drives the ingest CLI: where the proxy lives, how images are
// compressed before upload and where finalized images are written.
type ClientConfig struct {
	ProxyURL  string `toml:"proxy_url"`
	Origin    string `toml:"origin"`
	OutputDir string `toml:"output_dir"`

	Compression CompressionConfig `toml:"compression"`
	Removal     RemovalConfig     `toml:"removal"`
	Azure       AzureConfig       `toml:"azure"`
}

type CompressionConfig struct {
	MaxDimension int   `toml:"max_dimension"`
	MaxBytes     int64 `toml:"max_bytes"`
}

type RemovalConfig struct {
	Primary       string `toml:"primary"`
	Secondary     string `toml:"secondary"`
	Attempts      int    `toml:"attempts"`
	BackoffMillis int    `toml:"backoff_ms"`
	TimeoutMillis int    `toml:"timeout_ms"`
	LocalFallback bool   `toml:"local_fallback"`
}

// AzureConfig selects the Azure Blob sink when Container is set.
// ServiceURL overrides the account-derived endpoint (emulators, tests).
type AzureConfig struct {
	AccountName string `toml:"account_name"`
	AccountKey  string `toml:"account_key"`
	Container   string `toml:"container"`
	ServiceURL  string `toml:"service_url"`
}

// Backoff returns the base retry backoff.
func (r RemovalConfig) Backoff() time.Duration {
	return time.Duration(r.BackoffMillis) * time.Millisecond
}

// Timeout returns the per-request HTTP timeout towards the proxy.
func (r RemovalConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutMillis) * time.Millisecond
}

// Enabled reports whether the Azure sink is configured.
func (a AzureConfig) Enabled() bool {
	return strings.TrimSpace(a.Container) != ""
}

// DefaultClientConfig mirrors the browser client defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ProxyURL:  "http://localhost:8080/v1/remove-background",
		Origin:    "http://localhost:5173",
		OutputDir: "processed",
		Compression: CompressionConfig{
			MaxDimension: 1920,
			MaxBytes:     2_000_000,
		},
		Removal: RemovalConfig{
			Primary:       "api4ai",
			Secondary:     "remove-bg",
			Attempts:      3,
			BackoffMillis: 300,
			TimeoutMillis: 30_000,
			LocalFallback: true,
		},
	}
}

// LoadClientConfig returns defaults overlaid with the TOML file at path.
// An empty path returns the defaults unchanged.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read client config: %w", err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse client config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the pipeline cannot run with.
func (c ClientConfig) Validate() error {
	if strings.TrimSpace(c.ProxyURL) == "" {
		return fmt.Errorf("proxy_url is required")
	}
	if c.Compression.MaxDimension <= 0 || c.Compression.MaxBytes <= 0 {
		return fmt.Errorf("compression limits must be > 0 (got dimension=%d, bytes=%d)",
			c.Compression.MaxDimension, c.Compression.MaxBytes)
	}
	if c.Removal.Attempts <= 0 {
		return fmt.Errorf("removal.attempts must be > 0 (got %d)", c.Removal.Attempts)
	}
	if c.Removal.BackoffMillis < 0 || c.Removal.TimeoutMillis <= 0 {
		return fmt.Errorf("removal backoff/timeout invalid (backoff=%dms, timeout=%dms)",
			c.Removal.BackoffMillis, c.Removal.TimeoutMillis)
	}
	if strings.TrimSpace(c.Removal.Primary) == "" {
		return fmt.Errorf("removal.primary is required")
	}
	return nil
}
