// Package provider calls third-party background-removal APIs on behalf of
// the boundary proxy.
package provider

import (
	"context"
	"strings"
)

// Image is a validated image forwarded upstream.
type Image struct {
	MediaType string
	Data      []byte
}

// Provider removes the background of one image. The returned string is a
// data URL or an http(s) URL to the hosted result.
type Provider interface {
	Name() string
	RemoveBackground(ctx context.Context, img Image) (string, error)
}

// NormalizeName lower-cases and trims a provider identifier.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
