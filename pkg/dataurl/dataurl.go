// Package dataurl encodes and decodes base64 "data:" URLs, the
// self-describing image form exchanged between the ingest client and the
// boundary proxy.
package dataurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const (
	prefix           = "data:"
	base64Marker     = ";base64"
	DefaultMediaType = "image/png"
)

var (
	// ErrNotDataURL indicates the value does not start with "data:".
	ErrNotDataURL = errors.New("not a data URL")
	// ErrNotBase64 indicates a data URL without the ;base64 marker.
	ErrNotBase64 = errors.New("data URL is not base64 encoded")
)

// DataURL is a decoded data URL.
type DataURL struct {
	MediaType string
	Data      []byte
}

// Encode renders data as "data:<mediaType>;base64,<payload>".
func Encode(mediaType string, data []byte) string {
	if mediaType == "" {
		mediaType = DefaultMediaType
	}
	var b strings.Builder
	b.Grow(len(prefix) + len(mediaType) + len(base64Marker) + 1 + base64.StdEncoding.EncodedLen(len(data)))
	b.WriteString(prefix)
	b.WriteString(mediaType)
	b.WriteString(base64Marker)
	b.WriteByte(',')
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

// Parse splits a data URL into media type and decoded bytes. Parameters after
// the media type (charset etc.) are dropped; the media type is lower-cased.
func Parse(s string) (*DataURL, error) {
	if !strings.HasPrefix(s, prefix) {
		return nil, ErrNotDataURL
	}
	header, payload, ok := strings.Cut(s[len(prefix):], ",")
	if !ok {
		return nil, fmt.Errorf("data URL missing ',' separator")
	}
	if !strings.HasSuffix(strings.ToLower(header), base64Marker) {
		return nil, ErrNotBase64
	}
	header = header[:len(header)-len(base64Marker)]
	mediaType, _, _ := strings.Cut(header, ";")
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType == "" {
		mediaType = "text/plain"
	}

	data, err := DecodeLoose(payload)
	if err != nil {
		return nil, fmt.Errorf("decode base64 payload: %w", err)
	}
	return &DataURL{MediaType: mediaType, Data: data}, nil
}

// DecodeLoose decodes standard or URL-safe base64, padded or not, ignoring
// embedded line breaks.
func DecodeLoose(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, payload)

	if strings.ContainsAny(cleaned, "-_") {
		return base64.RawURLEncoding.DecodeString(strings.TrimRight(cleaned, "="))
	}
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
}

// LooksLikeBase64 reports whether s is plausibly a bare base64 image payload.
// Short strings are rejected so that identifiers and URLs are not mistaken
// for image data.
func LooksLikeBase64(s string) bool {
	if len(s) < 200 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
		case c == '+', c == '/', c == '=', c == '\n', c == '\r':
		default:
			return false
		}
	}
	return true
}
