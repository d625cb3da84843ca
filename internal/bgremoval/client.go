// Package bgremoval removes photo backgrounds through the boundary proxy,
// retrying and falling back across providers and finally to a local
// computation so that every call ends with an image or a classified error.
package bgremoval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/storage"
	"go-garment-ingest/pkg/dataurl"
	"go-garment-ingest/pkg/models"
	"go-garment-ingest/pkg/validation"
)

// LocalProvider names results produced without the proxy.
const LocalProvider = "local"

// maxResponseBytes bounds a proxy response body.
const maxResponseBytes = 32 << 20

// Image is the compressed input.
type Image struct {
	MediaType string
	Data      []byte
}

// Result is a background-free image.
type Result struct {
	Data      []byte
	MediaType string
	Duration  time.Duration
	Provider  string
	// Fallback is set when the local computation produced the image
	Fallback bool
	// Attempts counts proxy calls across both providers
	Attempts int
	// ProxyErr is the last proxy failure when Fallback is set
	ProxyErr error
}

// Config configures a Client.
type Config struct {
	ProxyURL  string
	Origin    string
	Primary   string
	Secondary string
	// Attempts per provider
	Attempts int
	// Backoff is multiplied by the attempt number between attempts
	Backoff time.Duration
	// Timeout bounds each proxy call
	Timeout       time.Duration
	LocalFallback bool
}

// Client calls the boundary proxy.
type Client struct {
	cfg        Config
	httpClient *http.Client
	fetcher    storage.ResultFetcher
	urls       *validation.ResultURLValidator
	local      *LocalRemover
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for proxy calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithFetcher replaces the downloader for URL results.
func WithFetcher(f storage.ResultFetcher) Option {
	return func(c *Client) {
		c.fetcher = f
	}
}

// WithResultURLValidator replaces the policy applied to URL results.
func WithResultURLValidator(v *validation.ResultURLValidator) Option {
	return func(c *Client) {
		c.urls = v
	}
}

// WithLocalRemover replaces the local fallback.
func WithLocalRemover(l *LocalRemover) Option {
	return func(c *Client) {
		c.local = l
	}
}

func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ProxyURL) == "" {
		return nil, fmt.Errorf("proxy URL is required")
	}
	if strings.TrimSpace(cfg.Primary) == "" {
		return nil, fmt.Errorf("primary provider is required")
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		urls:       validation.NewResultURLValidator(),
		local:      NewLocalRemover(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.fetcher == nil {
		c.fetcher = storage.NewHTTPResultFetcher()
	}
	return c, nil
}

// RemoveBackground tries the primary provider, then the secondary, then the
// local fallback. Cancellation is checked before every attempt and during
// backoff; an attempt already sent runs to completion.
func (c *Client) RemoveBackground(ctx context.Context, img Image) (*Result, error) {
	started := time.Now()
	log := logger.FromContext(ctx)

	attempts := 0
	res, n, err := c.withRetry(ctx, c.cfg.Primary, img)
	attempts += n
	if err == nil {
		res.Attempts = attempts
		return res, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if c.cfg.Secondary != "" && c.cfg.Secondary != c.cfg.Primary {
		log.WithError(err).WithFields(logrus.Fields{
			"provider": c.cfg.Primary,
			"fallback": c.cfg.Secondary,
		}).Warn("Primary provider failed, trying secondary")

		res, n, err = c.withRetry(ctx, c.cfg.Secondary, img)
		attempts += n
		if err == nil {
			res.Attempts = attempts
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	if !c.cfg.LocalFallback || c.local == nil {
		return nil, err
	}

	log.WithError(err).WithField("attempts", attempts).Warn("Proxy exhausted, removing background locally")
	data, localErr := c.local.Remove(img.Data)
	if localErr != nil {
		return nil, fmt.Errorf("local fallback after %v: %w", err, localErr)
	}
	return &Result{
		Data:      data,
		MediaType: "image/png",
		Duration:  time.Since(started),
		Provider:  LocalProvider,
		Fallback:  true,
		Attempts:  attempts,
		ProxyErr:  err,
	}, nil
}

// withRetry calls one provider up to Attempts times with linear backoff.
// Invalid-input and authentication failures are not retried.
func (c *Client) withRetry(ctx context.Context, provider string, img Image) (*Result, int, error) {
	log := logger.FromContext(ctx)
	var lastErr error
	calls := 0

	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, calls, err
		}

		calls++
		res, err := c.call(ctx, provider, img)
		if err == nil {
			log.WithFields(logrus.Fields{
				"provider":    provider,
				"attempt":     attempt,
				"duration_ms": res.Duration.Milliseconds(),
			}).Info("Background removed")
			return res, calls, nil
		}
		lastErr = err

		log.WithError(err).WithFields(logrus.Fields{
			"provider": provider,
			"attempt":  attempt,
			"of":       c.cfg.Attempts,
		}).Warn("Background removal attempt failed")

		if appErr, ok := apperrors.As(err); ok && !appErr.Retryable() {
			break
		}
		if attempt == c.cfg.Attempts {
			break
		}

		wait := c.cfg.Backoff * time.Duration(attempt)
		if appErr, ok := apperrors.As(err); ok && appErr.RetryAfter > wait {
			wait = appErr.RetryAfter
		}
		select {
		case <-ctx.Done():
			return nil, calls, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, calls, lastErr
}

// call performs one proxy request on a context detached from caller
// cancellation and bounded by the per-call timeout.
func (c *Client) call(ctx context.Context, provider string, img Image) (*Result, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(models.RemoveBackgroundRequest{
		Image:    dataurl.Encode(img.MediaType, img.Data),
		Provider: provider,
	})
	if err != nil {
		return nil, apperrors.NewInternalError("encode request", err)
	}

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.ProxyURL, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.NewInternalError("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, apperrors.NewTimeoutError("proxy call timed out", err)
		}
		return nil, apperrors.NewUpstreamError("proxy unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.NewUpstreamError("read proxy response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(resp, raw)
	}

	var payload models.RemoveBackgroundResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperrors.NewUpstreamError("invalid proxy response", err)
	}
	if payload.Image == "" {
		return nil, apperrors.NewUpstreamError("proxy response carried no image", nil)
	}

	data, mediaType, err := c.decodeImage(callCtx, payload.Image)
	if err != nil {
		return nil, err
	}

	duration := time.Duration(payload.DurationMs) * time.Millisecond
	if payload.DurationMs <= 0 {
		duration = time.Since(started)
	}
	if payload.Provider != "" {
		provider = payload.Provider
	}
	return &Result{Data: data, MediaType: mediaType, Duration: duration, Provider: provider}, nil
}

func (c *Client) decodeImage(ctx context.Context, image string) ([]byte, string, error) {
	if validation.IsRemote(image) {
		if err := c.urls.ValidateResultURL(image); err != nil {
			return nil, "", apperrors.NewUpstreamError("result URL rejected", err)
		}
		fetched, err := c.fetcher.Fetch(ctx, image)
		if err != nil {
			return nil, "", apperrors.NewUpstreamError("download result image", err)
		}
		mediaType := fetched.ContentType
		if mediaType == "" {
			mediaType = http.DetectContentType(fetched.Data)
		}
		return fetched.Data, mediaType, nil
	}

	parsed, err := dataurl.Parse(image)
	if err != nil {
		return nil, "", apperrors.NewUpstreamError("undecodable result image", err)
	}
	if len(parsed.Data) == 0 {
		return nil, "", apperrors.NewUpstreamError("empty result image", nil)
	}
	return parsed.Data, parsed.MediaType, nil
}

// classify maps a proxy failure response onto the error taxonomy.
func classify(resp *http.Response, raw []byte) error {
	var body models.ErrorResponse
	_ = json.Unmarshal(raw, &body)
	msg := body.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	var err *apperrors.AppError
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = apperrors.NewUnauthorizedError(msg, nil)
	case http.StatusTooManyRequests:
		err = apperrors.NewRateLimitedError(retryAfter(resp, body))
	case http.StatusBadRequest:
		err = apperrors.NewValidationError(msg, nil)
	case http.StatusRequestEntityTooLarge:
		size := body.Bytes
		if size == 0 {
			size = -1
		}
		err = apperrors.NewPayloadTooLargeError(body.MaxBytes, size)
	case http.StatusUnsupportedMediaType:
		err = apperrors.NewUnsupportedMediaError(msg, body.MediaType)
	case http.StatusGatewayTimeout:
		err = apperrors.NewTimeoutError(msg, nil)
	default:
		err = apperrors.NewUpstreamError(msg, nil)
	}
	err.WithContext("proxyStatus", resp.StatusCode)
	if body.RequestID != "" {
		err.WithContext("requestId", body.RequestID)
	}
	return err
}

func retryAfter(resp *http.Response, body models.ErrorResponse) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(resp.Header.Get("Retry-After"))); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter) * time.Second
	}
	return time.Second
}

// UserMessage renders a classified failure for people rather than logs.
func UserMessage(err error) string {
	appErr, ok := apperrors.As(err)
	if !ok {
		return "background removal failed: " + err.Error()
	}
	switch appErr.Type {
	case apperrors.ErrorTypeUnauthorized:
		return "authentication required by the background-removal service"
	case apperrors.ErrorTypeRateLimited:
		return fmt.Sprintf("too many requests, retry in %ds", apperrors.RetryAfterSeconds(appErr.RetryAfter))
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeUnsupportedMedia, apperrors.ErrorTypePayloadTooLarge:
		return "image rejected: " + appErr.Message
	case apperrors.ErrorTypeTimeout:
		return "background removal timed out"
	}
	return "background removal service unavailable"
}
