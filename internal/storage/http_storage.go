package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResultBytes bounds a downloaded result image.
const maxResultBytes = 20 << 20

// Fetched is a downloaded resource.
type Fetched struct {
	Data        []byte
	ContentType string
}

// ResultFetcher downloads provider result images that were returned by URL.
type ResultFetcher interface {
	Fetch(ctx context.Context, resultURL string) (*Fetched, error)
}

// HTTPResultFetcher implements ResultFetcher with bounded retries
type HTTPResultFetcher struct {
	client   *http.Client
	attempts int
	backoff  time.Duration
}

// FetcherOption configures an HTTPResultFetcher.
type FetcherOption func(*HTTPResultFetcher)

// WithRetry sets the attempt count and the linear backoff unit.
func WithRetry(attempts int, backoff time.Duration) FetcherOption {
	return func(f *HTTPResultFetcher) {
		if attempts > 0 {
			f.attempts = attempts
		}
		if backoff >= 0 {
			f.backoff = backoff
		}
	}
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPResultFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// NewHTTPResultFetcher creates a fetcher tuned for single image downloads
func NewHTTPResultFetcher(opts ...FetcherOption) *HTTPResultFetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 4096,
	}

	f := &HTTPResultFetcher{
		client: &http.Client{
			Transport: transport,
			Timeout:   30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 3 {
					return fmt.Errorf("too many redirects (limit: 3)")
				}
				return nil
			},
		},
		attempts: 3,
		backoff:  time.Second,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads resultURL. Transport errors and 5xx responses are retried
// with linear backoff; 4xx responses are not.
func (h *HTTPResultFetcher) Fetch(ctx context.Context, resultURL string) (*Fetched, error) {
	var lastErr error

	for attempt := 0; attempt < h.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fetched, retry, err := h.fetchOnce(ctx, resultURL)
		if err == nil {
			return fetched, nil
		}
		lastErr = err
		if !retry {
			break
		}

		if attempt < h.attempts-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt+1) * h.backoff):
			}
		}
	}

	return nil, fmt.Errorf("failed to fetch result after %d attempts: %w", h.attempts, lastErr)
}

func (h *HTTPResultFetcher) fetchOnce(ctx context.Context, resultURL string) (*Fetched, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("Accept", "image/png, image/webp, image/jpeg, */*")
	req.Header.Set("User-Agent", "go-garment-ingest/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, false, fmt.Errorf("client error: status code %d", resp.StatusCode)
	case resp.StatusCode >= 500:
		return nil, true, fmt.Errorf("server error: status code %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytes+1))
	if err != nil {
		return nil, true, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxResultBytes {
		return nil, false, fmt.Errorf("result exceeds %d bytes", maxResultBytes)
	}
	return &Fetched{Data: data, ContentType: resp.Header.Get("Content-Type")}, false, nil
}
