// Package storage moves image bytes in and out of the pipeline: provider
// results are fetched over HTTP and finalized images are written to a sink.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ImageSink stores a finalized image and returns where it was written.
type ImageSink interface {
	Put(ctx context.Context, name, mediaType string, data []byte) (string, error)
}

// LocalSink writes images into a directory.
type LocalSink struct {
	dir string
}

// NewLocalSink creates dir if needed.
func NewLocalSink(dir string) (*LocalSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &LocalSink{dir: dir}, nil
}

func (s *LocalSink) Put(ctx context.Context, name, mediaType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := filepath.Join(s.dir, ObjectName(name, mediaType))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

// ObjectName derives a filesystem and blob safe name with an extension
// matching mediaType.
func ObjectName(name, mediaType string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if imageExtensions[strings.ToLower(filepath.Ext(base))] {
		base = strings.TrimSuffix(base, filepath.Ext(base))
	}
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, base)
	if base == "" || base == "." || base == "_" {
		base = "image"
	}
	return base + extensionFor(mediaType)
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true,
	".heif": true, ".gif": true, ".bmp": true, ".tif": true, ".tiff": true,
}

func extensionFor(mediaType string) string {
	switch strings.ToLower(mediaType) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	return ".bin"
}
