// Package ratelimit implements the proxy's fixed-window request limiter.
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"go-garment-ingest/internal/logger"
)

// Entry is the state of one client's current window.
type Entry struct {
	Count   int
	ResetAt time.Time
}

// Store holds window counters. Increment starts a fresh window with a count
// of 1 when none is active for key, otherwise it increments the active one.
type Store interface {
	Increment(ctx context.Context, key string, window time.Duration, now time.Time) (Entry, error)
	Close() error
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Count      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Limiter caps requests per key within a fixed window.
type Limiter struct {
	store  Store
	max    int
	window time.Duration
	now    func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a limiter allowing max requests per window.
func NewLimiter(store Store, max int, window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		max:    max,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key builds the client identity used for limiting.
func Key(clientIP, origin string) string {
	return strings.TrimSpace(clientIP) + "|" + strings.TrimSpace(origin)
}

// Allow counts one request for key. Store failures fail open.
func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	now := l.now()
	entry, err := l.store.Increment(ctx, key, l.window, now)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Rate limit store unavailable, allowing request")
		return Decision{Allowed: true, Remaining: l.max}
	}

	d := Decision{
		Count:   entry.Count,
		ResetAt: entry.ResetAt,
	}
	if entry.Count > l.max {
		d.RetryAfter = entry.ResetAt.Sub(now)
		if d.RetryAfter <= 0 {
			d.RetryAfter = time.Second
		}
		return d
	}
	d.Allowed = true
	d.Remaining = l.max - entry.Count
	return d
}

// Max returns the per-window request cap.
func (l *Limiter) Max() int { return l.max }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
