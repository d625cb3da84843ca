package transport

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/ratelimit"
	"go-garment-ingest/pkg/validation"
)

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)

// requestContext assigns a request ID and stores a request-scoped log entry
// in the request context.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(requestIDHeader, id)

		entry := logger.WithFields(logrus.Fields{
			"request_id": id,
			"ip":         c.ClientIP(),
			"origin":     c.GetHeader("Origin"),
		})
		c.Request = c.Request.WithContext(logger.NewContext(c.Request.Context(), entry))
		c.Next()
	}
}

// accessLog writes one line per request once the handler chain finished.
func accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		entry := logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  c.Request.UserAgent(),
		})
		switch {
		case status >= http.StatusInternalServerError:
			entry.Error("Request completed")
		case status >= http.StatusBadRequest:
			entry.Warn("Request completed")
		default:
			entry.Info("Request completed")
		}
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		respondError(c, apperrors.NewInternalError("panic while handling request", fmt.Errorf("%v", recovered)))
	})
}

// originGuard rejects browser requests from origins outside the allowlist.
func originGuard(origins *validation.OriginValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := origins.ValidateOrigin(c.GetHeader("Origin")); err != nil {
			respondError(c, err)
			return
		}
		c.Next()
	}
}

// corsFor answers preflights and sets CORS headers for allowlisted origins.
func corsFor(origins *validation.OriginValidator) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc: origins.Allowed,
		AllowMethods:    []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"X-Client-Info",
			"Apikey",
			requestIDHeader,
		},
		ExposeHeaders: []string{"Content-Length", "Retry-After", requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}

// rateLimit counts the request against its client key.
func rateLimit(limiter *ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := ratelimit.Key(c.ClientIP(), c.GetHeader("Origin"))
		decision := limiter.Allow(c.Request.Context(), key)
		if !decision.Allowed {
			respondError(c, apperrors.NewRateLimitedError(decision.RetryAfter))
			return
		}
		c.Header("X-RateLimit-Limit", fmt.Sprint(limiter.Max()))
		c.Header("X-RateLimit-Remaining", fmt.Sprint(decision.Remaining))
		c.Next()
	}
}

// requireJSON rejects bodies that are not declared as JSON.
func requireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		contentType := c.GetHeader("Content-Type")
		mediaType, _, err := mime.ParseMediaType(contentType)
		if err != nil || mediaType != "application/json" {
			respondError(c, apperrors.NewUnsupportedMediaError("content type must be application/json", contentType))
			return
		}
		c.Next()
	}
}

func requestSizeLimiter(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func methodNotAllowed(c *gin.Context) {
	respondError(c, apperrors.NewMethodNotAllowedError(c.Request.Method))
}

func notFound(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
		"error": "route not found",
		"type":  "not_found",
	})
}

// respondError writes {error, type, ...context}. Internal errors keep their
// detail in the log only.
func respondError(c *gin.Context, err error) {
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewInternalError("internal server error", err)
	}

	message := appErr.Message
	if appErr.Type == apperrors.ErrorTypeInternal {
		message = "internal server error"
	}

	body := gin.H{}
	for key, value := range appErr.Context {
		body[key] = value
	}
	body["error"] = message
	body["type"] = string(appErr.Type)
	if id, ok := c.Get(requestIDKey); ok {
		body["requestId"] = id
	}

	if appErr.Type == apperrors.ErrorTypeRateLimited {
		c.Header("Retry-After", fmt.Sprint(apperrors.RetryAfterSeconds(appErr.RetryAfter)))
	}

	entry := logger.FromContext(c.Request.Context()).WithFields(logrus.Fields{
		"status_code": appErr.StatusCode,
		"error_type":  appErr.Type,
		"path":        c.Request.URL.Path,
		"method":      c.Request.Method,
	})
	if appErr.Cause != nil {
		entry = entry.WithError(appErr.Cause)
	}
	if appErr.StatusCode >= http.StatusInternalServerError {
		entry.Error(appErr.Message)
	} else {
		entry.Warn(appErr.Message)
	}

	c.AbortWithStatusJSON(appErr.StatusCode, body)
}

// isBodyTooLarge reports whether err came from the body size limiter.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
