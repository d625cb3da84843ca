package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/pkg/models"
)

// Attempt outcomes reported in metrics.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
	OutcomeSkipped = "skipped"
)

// BudgetConfig divides one request's wall-clock budget across providers.
type BudgetConfig struct {
	// Budget is the total allowance for all provider calls of one request
	Budget time.Duration
	// SafetyFloor stops new calls once less than this remains
	SafetyFloor time.Duration
	// CallFraction of the remaining budget becomes the per-call timeout
	CallFraction   float64
	MinCallTimeout time.Duration
	MaxCallTimeout time.Duration
	// RetryThreshold is the smallest per-call timeout that permits a second attempt
	RetryThreshold time.Duration
	RetryBackoff   time.Duration
}

// DefaultBudgetConfig returns the default budget split
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		Budget:         25 * time.Second,
		SafetyFloor:    2 * time.Second,
		CallFraction:   0.6,
		MinCallTimeout: 1 * time.Second,
		MaxCallTimeout: 15 * time.Second,
		RetryThreshold: 8 * time.Second,
		RetryBackoff:   250 * time.Millisecond,
	}
}

// CallTimeout derives the per-call timeout from the remaining budget.
func (c BudgetConfig) CallTimeout(remaining time.Duration) time.Duration {
	timeout := time.Duration(float64(remaining) * c.CallFraction)
	if timeout < c.MinCallTimeout {
		timeout = c.MinCallTimeout
	}
	if timeout > c.MaxCallTimeout {
		timeout = c.MaxCallTimeout
	}
	if timeout > remaining {
		timeout = remaining
	}
	return timeout
}

// AllowedAttempts returns 2 when the call timeout leaves room for a retry.
func (c BudgetConfig) AllowedAttempts(callTimeout time.Duration) int {
	if callTimeout >= c.RetryThreshold {
		return 2
	}
	return 1
}

// Attempt records one provider's share of a request.
type Attempt struct {
	Provider string
	Attempts int
	Duration time.Duration
	Outcome  string
	Err      error
}

// Result is a successful orchestration.
type Result struct {
	Image    string
	Provider string
	Attempts int
	Duration time.Duration
	Metrics  []Attempt
}

// Orchestrator tries providers in priority order under a shared budget.
type Orchestrator struct {
	providers []Provider
	byName    map[string]Provider
	cfg       BudgetConfig
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator; providers are tried in the given order.
func NewOrchestrator(cfg BudgetConfig, providers ...Provider) *Orchestrator {
	o := &Orchestrator{
		providers: providers,
		byName:    make(map[string]Provider, len(providers)),
		cfg:       cfg,
		now:       time.Now,
	}
	for _, p := range providers {
		o.byName[NormalizeName(p.Name())] = p
	}
	return o
}

// Names lists provider identifiers in priority order.
func (o *Orchestrator) Names() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Has reports whether a provider with that name is configured.
func (o *Orchestrator) Has(name string) bool {
	_, ok := o.byName[NormalizeName(name)]
	return ok
}

// Run removes the background of img. When only is non-empty the candidates
// are restricted to that provider.
func (o *Orchestrator) Run(ctx context.Context, img Image, only string) (*Result, error) {
	candidates := o.providers
	if only != "" {
		p, ok := o.byName[NormalizeName(only)]
		if !ok {
			return nil, apperrors.NewValidationError(fmt.Sprintf("unknown provider %q", only), nil).
				WithContext("providers", o.Names())
		}
		candidates = []Provider{p}
	}
	if len(candidates) == 0 {
		return nil, apperrors.NewInternalError("no providers configured", nil)
	}

	log := logger.FromContext(ctx)
	start := o.now()
	deadline := start.Add(o.cfg.Budget)
	total := 0
	budgetExhausted := false
	var metrics []Attempt
	var lastErr error

	for _, p := range candidates {
		remaining := deadline.Sub(o.now())
		if remaining < o.cfg.SafetyFloor || ctx.Err() != nil {
			budgetExhausted = true
			metrics = append(metrics, Attempt{Provider: p.Name(), Outcome: OutcomeSkipped})
			log.WithFields(logrus.Fields{
				"provider":     p.Name(),
				"remaining_ms": remaining.Milliseconds(),
			}).Warn("Skipping provider, budget below safety floor")
			continue
		}

		callTimeout := o.cfg.CallTimeout(remaining)
		allowed := o.cfg.AllowedAttempts(callTimeout)
		attempt := Attempt{Provider: p.Name()}
		providerStart := o.now()

		for n := 1; n <= allowed; n++ {
			if n > 1 {
				if !sleepCtx(ctx, o.cfg.RetryBackoff) {
					break
				}
				remaining = deadline.Sub(o.now())
				if remaining < o.cfg.SafetyFloor {
					budgetExhausted = true
					break
				}
				callTimeout = o.cfg.CallTimeout(remaining)
			}

			attempt.Attempts++
			total++
			image, err := o.call(ctx, p, img, callTimeout)
			fields := logrus.Fields{
				"provider":      p.Name(),
				"attempt":       n,
				"call_timeout":  callTimeout.String(),
				"elapsed_ms":    o.now().Sub(providerStart).Milliseconds(),
				"budget_ms":     o.cfg.Budget.Milliseconds(),
				"remaining_ms":  deadline.Sub(o.now()).Milliseconds(),
				"total_attempt": total,
			}
			if err == nil {
				attempt.Outcome = OutcomeSuccess
				attempt.Duration = o.now().Sub(providerStart)
				metrics = append(metrics, attempt)
				log.WithFields(fields).Info("Provider succeeded")
				return &Result{
					Image:    image,
					Provider: p.Name(),
					Attempts: total,
					Duration: o.now().Sub(start),
					Metrics:  metrics,
				}, nil
			}

			lastErr = err
			attempt.Err = err
			attempt.Outcome = OutcomeError
			if IsTimeout(err) {
				attempt.Outcome = OutcomeTimeout
			}
			log.WithFields(fields).WithError(err).Warn("Provider attempt failed")

			if appErr, ok := apperrors.As(err); ok && !appErr.Retryable() {
				break
			}
		}

		attempt.Duration = o.now().Sub(providerStart)
		metrics = append(metrics, attempt)
	}

	if !budgetExhausted && IsTimeout(lastErr) && deadline.Sub(o.now()) < o.cfg.SafetyFloor {
		budgetExhausted = true
	}

	var failure *apperrors.AppError
	if budgetExhausted {
		failure = apperrors.NewTimeoutError("provider time budget exhausted", lastErr)
	} else {
		failure = apperrors.NewUpstreamError("no provider succeeded", lastErr)
	}
	return nil, failure.
		WithContext("attempts", total).
		WithContext("metrics", MetricsDTO(metrics))
}

func (o *Orchestrator) call(ctx context.Context, p Provider, img Image, timeout time.Duration) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	image, err := p.RemoveBackground(callCtx, img)
	if err != nil && callCtx.Err() == context.DeadlineExceeded && !IsTimeout(err) {
		err = apperrors.NewTimeoutError(fmt.Sprintf("%s call exceeded %s", p.Name(), timeout), err)
	}
	return image, err
}

// MetricsDTO converts attempts to their wire form.
func MetricsDTO(attempts []Attempt) []models.ProviderMetrics {
	out := make([]models.ProviderMetrics, 0, len(attempts))
	for _, a := range attempts {
		m := models.ProviderMetrics{
			Provider:   a.Provider,
			Attempts:   a.Attempts,
			DurationMs: a.Duration.Milliseconds(),
			Outcome:    a.Outcome,
		}
		if a.Err != nil {
			if appErr, ok := apperrors.As(a.Err); ok {
				m.Error = appErr.Message
			} else {
				m.Error = a.Err.Error()
			}
		}
		out = append(out, m)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
