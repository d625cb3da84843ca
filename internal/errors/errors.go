package errors

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeMethodNotAllowed ErrorType = "method_not_allowed"
	ErrorTypeOriginRejected   ErrorType = "origin_rejected"
	ErrorTypeRateLimited      ErrorType = "rate_limited"
	ErrorTypeUnsupportedMedia ErrorType = "unsupported_media_type"
	ErrorTypePayloadTooLarge  ErrorType = "payload_too_large"
	ErrorTypeUnauthorized     ErrorType = "unauthorized"
	ErrorTypeUpstream         ErrorType = "upstream"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeProcessing       ErrorType = "processing"
	ErrorTypeInternal         ErrorType = "internal"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	StatusCode int       `json:"status_code"`
	Cause      error     `json:"-"`

	// Context is merged into the JSON error body (e.g. maxBytes, bytes).
	Context map[string]interface{} `json:"-"`
	// RetryAfter is only set for rate-limited errors.
	RetryAfter time.Duration `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key to the error body context and returns the error.
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Retryable reports whether the same request may succeed if repeated unchanged.
func (e *AppError) Retryable() bool {
	switch e.Type {
	case ErrorTypeValidation, ErrorTypeUnsupportedMedia, ErrorTypePayloadTooLarge,
		ErrorTypeOriginRejected, ErrorTypeMethodNotAllowed, ErrorTypeUnauthorized:
		return false
	}
	return true
}

func newError(t ErrorType, status int, message string, cause error) *AppError {
	return &AppError{
		Type:       t,
		Message:    message,
		StatusCode: status,
		Cause:      cause,
	}
}

// NewValidationError creates a new validation error
func NewValidationError(message string, cause error) *AppError {
	return newError(ErrorTypeValidation, http.StatusBadRequest, message, cause)
}

// NewMethodNotAllowedError creates an error for unsupported HTTP methods
func NewMethodNotAllowedError(method string) *AppError {
	return newError(ErrorTypeMethodNotAllowed, http.StatusMethodNotAllowed,
		fmt.Sprintf("method %s not allowed", method), nil)
}

// NewOriginRejectedError creates an error for origins outside the allowlist
func NewOriginRejectedError(origin string) *AppError {
	return newError(ErrorTypeOriginRejected, http.StatusForbidden, "origin not allowed", nil).
		WithContext("origin", origin)
}

// NewRateLimitedError creates a rate limit error carrying the time until reset
func NewRateLimitedError(retryAfter time.Duration) *AppError {
	err := newError(ErrorTypeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil)
	err.RetryAfter = retryAfter
	return err.WithContext("retryAfter", RetryAfterSeconds(retryAfter))
}

// NewUnsupportedMediaError creates an error for disallowed content or media types
func NewUnsupportedMediaError(message string, mediaType string) *AppError {
	return newError(ErrorTypeUnsupportedMedia, http.StatusUnsupportedMediaType, message, nil).
		WithContext("mediaType", mediaType)
}

// NewPayloadTooLargeError creates an error for payloads above the byte ceiling.
// A negative size means the size is unknown (body cut off before decoding).
func NewPayloadTooLargeError(maxBytes, size int64) *AppError {
	err := newError(ErrorTypePayloadTooLarge, http.StatusRequestEntityTooLarge, "payload too large", nil).
		WithContext("maxBytes", maxBytes)
	if size >= 0 {
		err.WithContext("bytes", size)
	}
	return err
}

// NewUnauthorizedError creates an authentication error
func NewUnauthorizedError(message string, cause error) *AppError {
	return newError(ErrorTypeUnauthorized, http.StatusUnauthorized, message, cause)
}

// NewUpstreamError creates a new upstream provider error
func NewUpstreamError(message string, cause error) *AppError {
	return newError(ErrorTypeUpstream, http.StatusBadGateway, message, cause)
}

// NewProcessingError creates a new processing error
func NewProcessingError(message string, cause error) *AppError {
	return newError(ErrorTypeProcessing, http.StatusUnprocessableEntity, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *AppError {
	return newError(ErrorTypeTimeout, http.StatusGatewayTimeout, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *AppError {
	return newError(ErrorTypeInternal, http.StatusInternalServerError, message, cause)
}

// As returns the first AppError in the chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := As(err); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode extracts the HTTP status code from an error
func GetStatusCode(err error) int {
	if appErr, ok := As(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// RetryAfterSeconds rounds a wait up to whole seconds, never below one.
func RetryAfterSeconds(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
