package container

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"go-garment-ingest/internal/config"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/provider"
	"go-garment-ingest/internal/ratelimit"
	"go-garment-ingest/internal/transport"
	"go-garment-ingest/pkg/validation"
)

// Container holds all proxy dependencies
type Container struct {
	config       *config.Config
	orchestrator *provider.Orchestrator
	limiter      *ratelimit.Limiter
	origins      *validation.OriginValidator
	payloads     *validation.PayloadValidator
	handler      http.Handler
}

// NewContainer builds the proxy dependency graph from cfg
func NewContainer(ctx context.Context, cfg *config.Config) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("container requires config")
	}
	logger.SetLevel(cfg.LogLevel)

	providers := make([]provider.Provider, 0, len(cfg.Providers))
	for _, name := range cfg.Providers {
		providers = append(providers, provider.NewHTTPProvider(name, cfg.ProviderEndpoint, cfg.ProviderAPIKey, nil))
	}
	if cfg.ProviderAPIKey == "" {
		logger.Warn("EDENAI_API_KEY is not set; upstream calls will be rejected")
	}
	orchestrator := provider.NewOrchestrator(BudgetFromConfig(cfg), providers...)

	store, err := newRateLimitStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateLimitMax, cfg.RateLimitWindow)

	origins := validation.NewOriginValidator(cfg.AllowedOrigins, cfg.AllowedOriginSuffixes)
	payloads := validation.NewPayloadValidatorWithLimits(validation.PayloadLimits{
		MaxBytes: cfg.MaxImageBytes,
	})

	handler := transport.NewHandler(transport.Options{
		Config:   cfg,
		Remover:  orchestrator,
		Origins:  origins,
		Limiter:  limiter,
		Payloads: payloads,
	})

	return &Container{
		config:       cfg,
		orchestrator: orchestrator,
		limiter:      limiter,
		origins:      origins,
		payloads:     payloads,
		handler:      handler,
	}, nil
}

// BudgetFromConfig maps the environment settings onto the orchestrator budget
func BudgetFromConfig(cfg *config.Config) provider.BudgetConfig {
	budget := provider.DefaultBudgetConfig()
	budget.Budget = cfg.RequestBudget
	budget.SafetyFloor = cfg.BudgetSafetyFloor
	budget.CallFraction = cfg.ProviderCallFraction
	budget.MinCallTimeout = cfg.ProviderMinCallTimeout
	budget.MaxCallTimeout = cfg.ProviderMaxCallTimeout
	budget.RetryThreshold = cfg.ProviderRetryThreshold
	return budget
}

func newRateLimitStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	if cfg.RateLimitRedisAddr == "" {
		return ratelimit.NewMemoryStore(), nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	store, err := ratelimit.NewRedisStore(pingCtx, ratelimit.RedisConfig{Addr: cfg.RateLimitRedisAddr})
	if err != nil {
		return nil, fmt.Errorf("failed to connect rate limit store: %w", err)
	}
	logger.WithFields(logrus.Fields{"addr": cfg.RateLimitRedisAddr}).Info("Using redis rate limit store")
	return store, nil
}

// Handler returns the HTTP handler
func (c *Container) Handler() http.Handler {
	return c.handler
}

// Config returns the configuration
func (c *Container) Config() *config.Config {
	return c.config
}

// Orchestrator returns the provider orchestrator
func (c *Container) Orchestrator() *provider.Orchestrator {
	return c.orchestrator
}

// Close releases the rate limit store
func (c *Container) Close() error {
	return c.limiter.Close()
}
