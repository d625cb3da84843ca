package validation

import (
	"testing"

	apperrors "go-garment-ingest/internal/errors"
)

func TestNewResultURLValidator(t *testing.T) {
	validator := NewResultURLValidator()
	if validator == nil {
		t.Fatal("Expected non-nil URL validator")
	}

	expectedSchemes := []string{"http", "https"}
	if len(validator.allowedSchemes) != len(expectedSchemes) {
		t.Errorf("Expected %d schemes, got %d", len(expectedSchemes), len(validator.allowedSchemes))
	}
	for i, scheme := range expectedSchemes {
		if validator.allowedSchemes[i] != scheme {
			t.Errorf("Expected scheme %s, got %s", scheme, validator.allowedSchemes[i])
		}
	}
}

func TestValidateResultURL_Valid(t *testing.T) {
	validator := NewResultURLValidator()

	validURLs := []string{
		"http://example.com/result.png",
		"https://cdn.provider.io/out/abc.png?sig=1",
		"https://127.0.0.1:9000/result.png",
	}
	for _, u := range validURLs {
		if err := validator.ValidateResultURL(u); err != nil {
			t.Errorf("Expected valid URL %s to pass validation, got error: %v", u, err)
		}
	}
}

func TestValidateResultURL_Invalid(t *testing.T) {
	validator := NewResultURLValidatorWithOptions([]string{"https"}, []string{"cdn.provider.io"})

	tests := []struct {
		name    string
		url     string
		message string
	}{
		{"empty", "   ", "result URL cannot be empty"},
		{"bad format", "https://cdn provider.io/%zz", "invalid result URL format"},
		{"plain http", "http://cdn.provider.io/a.png", "result URL scheme not allowed"},
		{"file scheme", "file:///etc/passwd", "result URL scheme not allowed"},
		{"missing host", "https:///a.png", "result URL must have a valid host"},
		{"other host", "https://evil.example/a.png", "result URL host not allowed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateResultURL(tt.url)
			if err == nil {
				t.Fatalf("Expected %q to fail validation", tt.url)
			}
			appErr, ok := err.(*apperrors.AppError)
			if !ok {
				t.Fatalf("Expected AppError, got: %T", err)
			}
			if appErr.Message != tt.message {
				t.Errorf("Expected %q, got %q", tt.message, appErr.Message)
			}
			if appErr.Type != apperrors.ErrorTypeValidation {
				t.Errorf("Expected validation error type, got %s", appErr.Type)
			}
		})
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote(" HTTPS://cdn.provider.io/a.png") {
		t.Error("Expected https URL to be remote")
	}
	if IsRemote("data:image/png;base64,AAAA") {
		t.Error("Expected data URL not to be remote")
	}
}
