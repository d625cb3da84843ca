package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"go-garment-ingest/internal/config"
	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/provider"
	"go-garment-ingest/internal/ratelimit"
	"go-garment-ingest/pkg/models"
	"go-garment-ingest/pkg/validation"
)

const removeBackgroundPath = "/v1/remove-background"

// BackgroundRemover runs the provider chain for one validated image.
type BackgroundRemover interface {
	Run(ctx context.Context, img provider.Image, only string) (*provider.Result, error)
	Names() []string
}

// Options wires the proxy's collaborators.
type Options struct {
	Config   *config.Config
	Remover  BackgroundRemover
	Origins  *validation.OriginValidator
	Limiter  *ratelimit.Limiter
	Payloads *validation.PayloadValidator
}

// NewHandler builds the proxy engine. Checks run in a fixed order: method,
// origin, rate limit, content type, decode, media type, size.
func NewHandler(opts Options) http.Handler {
	cfg := opts.Config

	r := gin.New()
	r.HandleMethodNotAllowed = true
	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.WithError(err).Warn("Ignoring invalid TRUSTED_PROXIES")
		_ = r.SetTrustedProxies(nil)
	}

	r.Use(
		requestContext(),
		accessLog(),
		recovery(),
	)
	r.NoMethod(methodNotAllowed)
	r.NoRoute(notFound)

	r.GET("/health", healthCheck(opts.Remover))

	api := r.Group("/v1", originGuard(opts.Origins), corsFor(opts.Origins))
	api.OPTIONS("/remove-background", preflight)
	api.POST("/remove-background",
		rateLimit(opts.Limiter),
		requireJSON(),
		requestSizeLimiter(cfg.MaxRequestBodySize),
		removeBackground(opts.Remover, opts.Payloads, cfg),
	)

	return r
}

func removeBackground(remover BackgroundRemover, payloads *validation.PayloadValidator, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		log := logger.FromContext(c.Request.Context())

		var req models.RemoveBackgroundRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			switch {
			case isBodyTooLarge(err):
				respondError(c, apperrors.NewPayloadTooLargeError(payloads.Limits().MaxBytes, -1))
			case errors.Is(err, io.EOF):
				respondError(c, apperrors.NewValidationError("request body is empty", err))
			default:
				respondError(c, apperrors.NewValidationError("invalid request format", err))
			}
			return
		}

		payload, err := payloads.Validate(req.Image)
		if err != nil {
			respondError(c, err)
			return
		}

		log.WithFields(logrus.Fields{
			"media_type": payload.MediaType,
			"bytes":      len(payload.Data),
			"provider":   req.Provider,
		}).Debug("Payload accepted")

		ctx, cancel := context.WithTimeout(c.Request.Context(), cfg.RequestTimeout)
		defer cancel()

		result, err := remover.Run(ctx, provider.Image{MediaType: payload.MediaType, Data: payload.Data}, req.Provider)
		if err != nil {
			respondError(c, err)
			return
		}

		duration := time.Since(startTime)
		log.WithFields(logrus.Fields{
			"provider":           result.Provider,
			"attempts":           result.Attempts,
			"processing_time_ms": duration.Milliseconds(),
		}).Info("Background removal completed")

		c.JSON(http.StatusOK, models.RemoveBackgroundResponse{
			Image:      result.Image,
			DurationMs: duration.Milliseconds(),
			Provider:   result.Provider,
			Attempts:   result.Attempts,
			Metrics:    provider.MetricsDTO(result.Metrics),
		})
	}
}

// preflight handles OPTIONS requests the CORS middleware did not answer
// (no Origin header).
func preflight(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func healthCheck(remover BackgroundRemover) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    "available",
			Providers: remover.Names(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}
