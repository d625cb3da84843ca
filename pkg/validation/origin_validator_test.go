package validation

import (
	"net/http"
	"testing"

	apperrors "go-garment-ingest/internal/errors"
)

func TestOriginValidator_ExactMatches(t *testing.T) {
	validator := NewOriginValidator([]string{"https://dressme.app", " http://localhost:5173/ "}, nil)

	allowed := []string{
		"https://dressme.app",
		"HTTPS://DRESSME.APP",
		"http://localhost:5173",
		"https://dressme.app/",
	}
	for _, origin := range allowed {
		if !validator.Allowed(origin) {
			t.Errorf("Expected origin %s to be allowed", origin)
		}
	}

	rejected := []string{
		"",
		"https://evil.example",
		"http://dressme.app",
		"https://dressme.app.evil.example",
	}
	for _, origin := range rejected {
		if validator.Allowed(origin) {
			t.Errorf("Expected origin %q to be rejected", origin)
		}
	}
}

func TestOriginValidator_SuffixMatches(t *testing.T) {
	validator := NewOriginValidator(nil, []string{".lovable.app", "preview.dev"})

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://my-branch.lovable.app", true},
		{"https://lovable.app", true},
		{"https://a.b.preview.dev", true},
		{"https://notpreview.dev", false},
		{"https://lovable.app.evil.example", false},
		{"ftp://x.lovable.app", false},
	}

	for _, tt := range tests {
		if got := validator.Allowed(tt.origin); got != tt.allowed {
			t.Errorf("Allowed(%q) = %v, expected %v", tt.origin, got, tt.allowed)
		}
	}
}

func TestValidateOrigin(t *testing.T) {
	validator := NewOriginValidator([]string{"https://dressme.app"}, nil)

	if err := validator.ValidateOrigin(""); err != nil {
		t.Errorf("Expected missing origin to pass, got %v", err)
	}
	if err := validator.ValidateOrigin("https://dressme.app"); err != nil {
		t.Errorf("Expected allowed origin to pass, got %v", err)
	}

	err := validator.ValidateOrigin("https://evil.example")
	if err == nil {
		t.Fatal("Expected rejected origin to fail")
	}
	if appErr, ok := err.(*apperrors.AppError); ok {
		if appErr.StatusCode != http.StatusForbidden {
			t.Errorf("Expected status 403, got %d", appErr.StatusCode)
		}
		if appErr.Context["origin"] != "https://evil.example" {
			t.Errorf("Expected origin in error context, got %v", appErr.Context)
		}
	} else {
		t.Errorf("Expected AppError, got: %T", err)
	}
}
