package validation

import (
	"net/url"
	"strings"

	apperrors "go-garment-ingest/internal/errors"
)

// OriginValidator decides which browser origins may call the proxy.
// It is built once at startup and read concurrently afterwards.
type OriginValidator struct {
	allowedSchemes []string
	exact          map[string]struct{}
	suffixes       []string
}

// NewOriginValidator creates a validator from exact origins
// ("https://app.example.com") and host suffixes (".example.com").
func NewOriginValidator(origins []string, suffixes []string) *OriginValidator {
	v := &OriginValidator{
		allowedSchemes: []string{"http", "https"},
		exact:          make(map[string]struct{}, len(origins)),
	}
	for _, origin := range origins {
		if normalized := normalizeOrigin(origin); normalized != "" {
			v.exact[normalized] = struct{}{}
		}
	}
	for _, suffix := range suffixes {
		suffix = strings.ToLower(strings.TrimSpace(suffix))
		if suffix == "" {
			continue
		}
		v.suffixes = append(v.suffixes, strings.TrimPrefix(suffix, "."))
	}
	return v
}

// Allowed reports whether a non-empty Origin header value is on the allowlist.
func (v *OriginValidator) Allowed(origin string) bool {
	normalized := normalizeOrigin(origin)
	if normalized == "" {
		return false
	}
	if _, ok := v.exact[normalized]; ok {
		return true
	}
	if len(v.suffixes) == 0 {
		return false
	}

	parsed, err := url.Parse(normalized)
	if err != nil || !v.isSchemeAllowed(parsed.Scheme) {
		return false
	}
	host := parsed.Hostname()
	for _, suffix := range v.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// ValidateOrigin returns an origin-rejected AppError for disallowed origins.
// Requests without an Origin header are not cross-origin browser requests
// and pass.
func (v *OriginValidator) ValidateOrigin(origin string) error {
	if strings.TrimSpace(origin) == "" {
		return nil
	}
	if !v.Allowed(origin) {
		return apperrors.NewOriginRejectedError(origin)
	}
	return nil
}

// isSchemeAllowed checks if the origin scheme is in the allowed list
func (v *OriginValidator) isSchemeAllowed(scheme string) bool {
	for _, allowed := range v.allowedSchemes {
		if scheme == allowed {
			return true
		}
	}
	return false
}

func normalizeOrigin(origin string) string {
	return strings.TrimRight(strings.ToLower(strings.TrimSpace(origin)), "/")
}
