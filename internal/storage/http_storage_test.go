package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// Valid minimal PNG data for a 1x1 transparent pixel
var pngData = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1F, 0x15, 0xC4,
	0x89, 0x00, 0x00, 0x00, 0x0A, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9C, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0D, 0x0A, 0x2D, 0xB4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4E, 0x44, 0xAE,
	0x42, 0x60, 0x82,
}

func TestHTTPResultFetcher_RetryLogic(t *testing.T) {
	tests := []struct {
		name          string
		responses     []int // Status codes to return in sequence
		expectRetries int   // Expected number of requests
		expectError   bool
		errorContains string
	}{
		{
			name:          "Success on first attempt",
			responses:     []int{200},
			expectRetries: 1,
		},
		{
			name:          "Success on second attempt after 5xx",
			responses:     []int{500, 200},
			expectRetries: 2,
		},
		{
			name:          "4xx client error - no retry",
			responses:     []int{404},
			expectRetries: 1,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "4xx after 5xx - should retry until 4xx then stop",
			responses:     []int{500, 404},
			expectRetries: 2,
			expectError:   true,
			errorContains: "client error: status code 404",
		},
		{
			name:          "All 5xx errors - retry all attempts",
			responses:     []int{500, 502, 503},
			expectRetries: 3,
			expectError:   true,
			errorContains: "server error: status code 503",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requestCount int32

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := int(atomic.AddInt32(&requestCount, 1)) - 1
				if n >= len(tt.responses) {
					w.WriteHeader(500)
					w.Write([]byte("Unexpected request"))
					return
				}
				if tt.responses[n] == 200 {
					w.Header().Set("Content-Type", "image/png")
					w.Write(pngData)
					return
				}
				w.WriteHeader(tt.responses[n])
				w.Write([]byte(fmt.Sprintf("Error %d", tt.responses[n])))
			}))
			defer server.Close()

			fetcher := NewHTTPResultFetcher(WithRetry(3, time.Millisecond))
			fetched, err := fetcher.Fetch(context.Background(), server.URL)

			if got := int(atomic.LoadInt32(&requestCount)); got != tt.expectRetries {
				t.Errorf("Expected %d requests, got %d", tt.expectRetries, got)
			}

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error, but got none")
				} else if !strings.Contains(err.Error(), tt.errorContains) {
					t.Errorf("Expected error to contain '%s', got: %s", tt.errorContains, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error, got: %s", err.Error())
			}
			if !bytes.Equal(fetched.Data, pngData) || fetched.ContentType != "image/png" {
				t.Errorf("unexpected fetch result: %d bytes, %s", len(fetched.Data), fetched.ContentType)
			}
		})
	}
}

func TestHTTPResultFetcher_NetworkError_Retry(t *testing.T) {
	var requestCount int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&requestCount, 1) < 3 {
			// Simulate network error by closing connection
			if hj, ok := w.(http.Hijacker); ok {
				conn, _, _ := hj.Hijack()
				conn.Close()
			}
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngData)
	}))
	defer server.Close()

	fetcher := NewHTTPResultFetcher(WithRetry(3, 20*time.Millisecond))

	start := time.Now()
	_, err := fetcher.Fetch(context.Background(), server.URL)
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected success after retries, got error: %s", err.Error())
	}
	if got := atomic.LoadInt32(&requestCount); got != 3 {
		t.Errorf("Expected 3 requests, got %d", got)
	}
	// Linear backoff: 20ms + 40ms
	if duration < 60*time.Millisecond {
		t.Errorf("Expected at least 60ms due to backoff, took %v", duration)
	}
}

func TestHTTPResultFetcher_CancelDuringBackoff(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	fetcher := NewHTTPResultFetcher(WithRetry(3, time.Hour))
	start := time.Now()
	_, err := fetcher.Fetch(ctx, server.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("backoff ignored cancellation")
	}
}

func TestHTTPResultFetcher_InvalidURL(t *testing.T) {
	_, err := NewHTTPResultFetcher().Fetch(context.Background(), "://nope")
	if err == nil || !strings.Contains(err.Error(), "invalid URL") {
		t.Errorf("expected invalid URL error, got %v", err)
	}
}
