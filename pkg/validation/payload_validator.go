package validation

import (
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/pkg/dataurl"
)

// PayloadLimits defines what the proxy accepts as an image payload
type PayloadLimits struct {
	// MaxBytes is the ceiling on decoded image bytes
	MaxBytes int64
	// AllowedMediaTypes lists the raster formats forwarded upstream
	AllowedMediaTypes []string
}

// DefaultPayloadLimits returns the default payload limits
func DefaultPayloadLimits() PayloadLimits {
	return PayloadLimits{
		MaxBytes:          5_000_000,
		AllowedMediaTypes: []string{"image/jpeg", "image/png", "image/webp"},
	}
}

// Payload is a validated, decoded image
type Payload struct {
	MediaType string
	Data      []byte
}

// PayloadValidator decodes and checks the image field of a proxy request
type PayloadValidator struct {
	limits PayloadLimits
}

// NewPayloadValidator creates a payload validator with default limits
func NewPayloadValidator() *PayloadValidator {
	return NewPayloadValidatorWithLimits(DefaultPayloadLimits())
}

// NewPayloadValidatorWithLimits creates a payload validator with custom limits
func NewPayloadValidatorWithLimits(limits PayloadLimits) *PayloadValidator {
	defaults := DefaultPayloadLimits()
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = defaults.MaxBytes
	}
	if len(limits.AllowedMediaTypes) == 0 {
		limits.AllowedMediaTypes = defaults.AllowedMediaTypes
	}
	return &PayloadValidator{limits: limits}
}

// Limits returns the configured limits
func (v *PayloadValidator) Limits() PayloadLimits {
	return v.limits
}

// Validate runs decode, media type and size checks in that order; the first
// failure is returned as an AppError carrying the matching status.
func (v *PayloadValidator) Validate(image string) (*Payload, error) {
	image = strings.TrimSpace(image)
	if image == "" {
		return nil, apperrors.NewValidationError("'image' is required", nil)
	}

	parsed, err := dataurl.Parse(image)
	if err != nil {
		if errors.Is(err, dataurl.ErrNotDataURL) {
			return nil, apperrors.NewValidationError("'image' must be a base64 data URL; remote URLs are not accepted", err)
		}
		return nil, apperrors.NewValidationError("'image' could not be decoded", err)
	}
	if len(parsed.Data) == 0 {
		return nil, apperrors.NewValidationError("'image' is empty", nil)
	}

	if !v.isMediaTypeAllowed(parsed.MediaType) {
		return nil, apperrors.NewUnsupportedMediaError("unsupported image type", parsed.MediaType)
	}
	// The declared type is client-controlled; the bytes must agree.
	if sniffed := mimetype.Detect(parsed.Data).String(); !v.isMediaTypeAllowed(sniffed) {
		return nil, apperrors.NewUnsupportedMediaError("image content does not match an allowed type", sniffed)
	}

	if size := int64(len(parsed.Data)); size > v.limits.MaxBytes {
		return nil, apperrors.NewPayloadTooLargeError(v.limits.MaxBytes, size)
	}

	return &Payload{MediaType: parsed.MediaType, Data: parsed.Data}, nil
}

func (v *PayloadValidator) isMediaTypeAllowed(mediaType string) bool {
	mediaType, _, _ = strings.Cut(strings.ToLower(mediaType), ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "image/jpg" {
		mediaType = "image/jpeg"
	}
	for _, allowed := range v.limits.AllowedMediaTypes {
		if mediaType == allowed {
			return true
		}
	}
	return false
}
