package models

// RemoveBackgroundRequest is the proxy request body.
// Shared by the proxy handler and the ingest client.
type RemoveBackgroundRequest struct {
	// Image is a base64 data URL; remote URLs are rejected
	Image string `json:"image"`
	// Provider optionally restricts the proxy to a single provider
	Provider string `json:"provider,omitempty"`
}

// ProviderMetrics records one provider's share of a proxy request
type ProviderMetrics struct {
	Provider   string `json:"provider"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"durationMs"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// RemoveBackgroundResponse is returned on 200
type RemoveBackgroundResponse struct {
	// Image is a data URL, or an http(s) URL when the provider hosts the result
	Image      string            `json:"image"`
	DurationMs int64             `json:"durationMs"`
	Provider   string            `json:"provider"`
	Attempts   int               `json:"attempts"`
	Metrics    []ProviderMetrics `json:"metrics"`
}

// ErrorResponse represents an error response.
// The proxy merges error context keys next to error and type; the known
// ones are decoded here.
type ErrorResponse struct {
	Error      string            `json:"error"`
	Type       string            `json:"type"`
	RequestID  string            `json:"requestId,omitempty"`
	MaxBytes   int64             `json:"maxBytes,omitempty"`
	Bytes      int64             `json:"bytes,omitempty"`
	RetryAfter int               `json:"retryAfter,omitempty"`
	MediaType  string            `json:"mediaType,omitempty"`
	Metrics    []ProviderMetrics `json:"metrics,omitempty"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string   `json:"status"`
	Providers []string `json:"providers"`
	Timestamp string   `json:"timestamp"`
}
