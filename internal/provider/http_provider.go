package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	apperrors "go-garment-ingest/internal/errors"
)

// maxUpstreamResponse bounds how much of an upstream body is read.
const maxUpstreamResponse = 32 << 20

// HTTPProvider calls a multi-vendor background-removal endpoint, selecting the
// vendor through the "providers" form field.
type HTTPProvider struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPProvider creates a provider. The client carries no overall timeout;
// each call is bounded by its context deadline.
func NewHTTPProvider(name, endpoint, apiKey string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = newUpstreamClient()
	}
	return &HTTPProvider{
		name:     NormalizeName(name),
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   client,
	}
}

func newUpstreamClient() *http.Client {
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,

		MaxResponseHeaderBytes: 16 << 10,
	}
	return &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("too many redirects (limit: 3)")
			}
			return nil
		},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

// RemoveBackground uploads img and extracts the result image.
func (p *HTTPProvider) RemoveBackground(ctx context.Context, img Image) (string, error) {
	body, contentType, err := p.buildForm(img)
	if err != nil {
		return "", apperrors.NewInternalError("failed to build upstream request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return "", apperrors.NewInternalError("invalid provider endpoint", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperrors.NewTimeoutError(fmt.Sprintf("%s call exceeded its deadline", p.name), ctxErr)
		}
		return "", apperrors.NewUpstreamError(fmt.Sprintf("%s request failed", p.name), err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamResponse))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperrors.NewTimeoutError(fmt.Sprintf("%s response exceeded its deadline", p.name), ctxErr)
		}
		return "", apperrors.NewUpstreamError(fmt.Sprintf("%s response unreadable", p.name), err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", upstreamStatusError(p.name, resp.StatusCode, raw)
	}

	extracted, err := ExtractImage(p.name, raw)
	if err != nil {
		return "", apperrors.NewUpstreamError(fmt.Sprintf("%s returned no usable image", p.name), err)
	}
	return extracted.Image, nil
}

// buildForm encodes the raw image bytes and the vendor selection fields.
func (p *HTTPProvider) buildForm(img Image) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fields := []struct{ key, value string }{
		{"providers", p.name},
		{"response_as_dict", "true"},
		{"attributes_as_list", "false"},
		{"show_original_response", "false"},
		{"fallback_providers", ""},
	}
	for _, f := range fields {
		if err := w.WriteField(f.key, f.value); err != nil {
			return nil, "", err
		}
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName(img.MediaType)))
	header.Set("Content-Type", img.MediaType)
	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fileName(mediaType string) string {
	switch mediaType {
	case "image/jpeg":
		return "image.jpg"
	case "image/webp":
		return "image.webp"
	default:
		return "image.png"
	}
}

// upstreamStatusError maps a non-2xx upstream reply. Auth and input errors
// are not worth retrying against the same provider.
func upstreamStatusError(name string, status int, raw []byte) *apperrors.AppError {
	snippet := strings.TrimSpace(string(raw))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	cause := fmt.Errorf("upstream status %d: %s", status, snippet)

	var err *apperrors.AppError
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		err = apperrors.NewUnauthorizedError(fmt.Sprintf("%s rejected the proxy credential", name), cause)
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType, http.StatusUnprocessableEntity:
		err = apperrors.NewValidationError(fmt.Sprintf("%s rejected the image", name), cause)
	default:
		err = apperrors.NewUpstreamError(fmt.Sprintf("%s error %d", name, status), cause)
	}
	return err.WithContext("upstreamStatus", status)
}

// IsTimeout reports whether err is a deadline failure.
func IsTimeout(err error) bool {
	return apperrors.IsType(err, apperrors.ErrorTypeTimeout) || errors.Is(err, context.DeadlineExceeded)
}
