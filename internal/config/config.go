package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default provider endpoint; EdenAI multiplexes several background-removal
// vendors behind one URL, selected by the "providers" form field.
const DefaultProviderEndpoint = "https://api.edenai.run/v2/image/background_removal"

type Config struct {
	Host               string
	Port               string
	RequestTimeout     time.Duration
	MaxRequestBodySize int64
	MaxImageBytes      int64
	LogLevel           string

	AllowedOrigins        []string
	AllowedOriginSuffixes []string
	TrustedProxies        []string

	ProviderAPIKey   string
	ProviderEndpoint string
	Providers        []string

	RequestBudget          time.Duration
	BudgetSafetyFloor      time.Duration
	ProviderCallFraction   float64
	ProviderMinCallTimeout time.Duration
	ProviderMaxCallTimeout time.Duration
	ProviderRetryThreshold time.Duration

	RateLimitMax       int
	RateLimitWindow    time.Duration
	RateLimitRedisAddr string
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// LoadFromEnv reads the proxy configuration. A .env file in the working
// directory is loaded first when present; real environment variables win.
func LoadFromEnv() (*Config, error) {
	_ = godotenv.Load()

	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 16*1024*1024), // 16MB of JSON
		MaxImageBytes:      parseIntOrDefault("MAX_IMAGE_BYTES", 5_000_000),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),

		AllowedOrigins: parseListOrDefault("ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:8080",
		}),
		AllowedOriginSuffixes: parseListOrDefault("ALLOWED_ORIGIN_SUFFIXES", nil),
		TrustedProxies:        parseListOrDefault("TRUSTED_PROXIES", nil),

		ProviderAPIKey:   os.Getenv("EDENAI_API_KEY"),
		ProviderEndpoint: getEnvOrDefault("PROVIDER_ENDPOINT", DefaultProviderEndpoint),
		Providers:        parseListOrDefault("PROVIDERS", []string{"api4ai", "remove-bg"}),

		RequestBudget:          parseDurationOrDefault("REQUEST_BUDGET", 25*time.Second),
		BudgetSafetyFloor:      parseDurationOrDefault("BUDGET_SAFETY_FLOOR", 2*time.Second),
		ProviderCallFraction:   parseFloatOrDefault("PROVIDER_CALL_FRACTION", 0.6),
		ProviderMinCallTimeout: parseDurationOrDefault("PROVIDER_MIN_CALL_TIMEOUT", time.Second),
		ProviderMaxCallTimeout: parseDurationOrDefault("PROVIDER_MAX_CALL_TIMEOUT", 15*time.Second),
		ProviderRetryThreshold: parseDurationOrDefault("PROVIDER_RETRY_THRESHOLD", 8*time.Second),

		RateLimitMax:       int(parseIntOrDefault("RATE_LIMIT_MAX", 30)),
		RateLimitWindow:    parseDurationOrDefault("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitRedisAddr: strings.TrimSpace(os.Getenv("RATE_LIMIT_REDIS_ADDR")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that would make the proxy misbehave at runtime.
func (c *Config) Validate() error {
	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if c.MaxRequestBodySize <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_SIZE must be > 0 (got %d)", c.MaxRequestBodySize)
	}
	if c.MaxImageBytes <= 0 {
		return fmt.Errorf("MAX_IMAGE_BYTES must be > 0 (got %d)", c.MaxImageBytes)
	}
	if c.RequestTimeout <= 0 || c.RequestBudget <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got request=%s, budget=%s)", c.RequestTimeout, c.RequestBudget)
	}
	if c.RequestBudget >= c.RequestTimeout {
		return fmt.Errorf("REQUEST_BUDGET (%s) must be shorter than REQUEST_TIMEOUT (%s)", c.RequestBudget, c.RequestTimeout)
	}
	if c.BudgetSafetyFloor < 0 || c.BudgetSafetyFloor >= c.RequestBudget {
		return fmt.Errorf("BUDGET_SAFETY_FLOOR must be in [0, REQUEST_BUDGET) (got %s)", c.BudgetSafetyFloor)
	}
	if c.ProviderCallFraction <= 0 || c.ProviderCallFraction > 1 {
		return fmt.Errorf("PROVIDER_CALL_FRACTION must be in (0, 1] (got %g)", c.ProviderCallFraction)
	}
	if c.ProviderMinCallTimeout <= 0 || c.ProviderMaxCallTimeout < c.ProviderMinCallTimeout {
		return fmt.Errorf("invalid provider call timeouts (min=%s, max=%s)", c.ProviderMinCallTimeout, c.ProviderMaxCallTimeout)
	}
	if len(c.Providers) == 0 {
		return fmt.Errorf("PROVIDERS must name at least one provider")
	}
	if c.RateLimitMax <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit must be positive (got max=%d, window=%s)", c.RateLimitMax, c.RateLimitWindow)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration > 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func parseListOrDefault(key string, defaultValue []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
