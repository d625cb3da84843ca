package validation

import (
	"net/url"
	"strings"

	apperrors "go-garment-ingest/internal/errors"
)

// ResultURLValidator checks provider-hosted result URLs before the client
// downloads them.
type ResultURLValidator struct {
	allowedSchemes []string
	allowedHosts   []string
}

// NewResultURLValidator creates a validator accepting any http(s) host
func NewResultURLValidator() *ResultURLValidator {
	return &ResultURLValidator{
		allowedSchemes: []string{"http", "https"},
		allowedHosts:   []string{}, // empty means all hosts allowed
	}
}

// NewResultURLValidatorWithOptions creates a validator with custom schemes and hosts
func NewResultURLValidatorWithOptions(schemes []string, hosts []string) *ResultURLValidator {
	return &ResultURLValidator{
		allowedSchemes: schemes,
		allowedHosts:   hosts,
	}
}

// IsRemote reports whether s looks like an http(s) URL rather than inline data.
func IsRemote(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// ValidateResultURL returns a validation AppError when the URL may not be fetched
func (v *ResultURLValidator) ValidateResultURL(resultURL string) error {
	if strings.TrimSpace(resultURL) == "" {
		return apperrors.NewValidationError("result URL cannot be empty", nil)
	}

	parsedURL, err := url.Parse(resultURL)
	if err != nil {
		return apperrors.NewValidationError("invalid result URL format", err)
	}

	if !v.isSchemeAllowed(parsedURL.Scheme) {
		return apperrors.NewValidationError("result URL scheme not allowed", nil)
	}

	if parsedURL.Host == "" {
		return apperrors.NewValidationError("result URL must have a valid host", nil)
	}

	if !v.isHostAllowed(parsedURL.Hostname()) {
		return apperrors.NewValidationError("result URL host not allowed", nil)
	}

	return nil
}

func (v *ResultURLValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isHostAllowed returns true if no host restrictions are set
func (v *ResultURLValidator) isHostAllowed(host string) bool {
	if len(v.allowedHosts) == 0 {
		return true
	}
	for _, allowed := range v.allowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}
