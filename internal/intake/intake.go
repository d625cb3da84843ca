// Package intake filters a batch of user files down to the images the
// pipeline can process and normalizes HEIC/HEIF photos to JPEG.
package intake

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go-garment-ingest/internal/logger"
)

// noticeNames caps how many rejected files are named in a notice.
const noticeNames = 3

var allowedMediaTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/heic": true,
	"image/heif": true,
	"image/gif":  true,
	"image/bmp":  true,
	"image/tiff": true,
}

var allowedExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
	".heic": true,
	".heif": true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// File is one user-supplied file. MediaType may be empty when unknown.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Accepted is a file admitted to the pipeline.
type Accepted struct {
	ID        string
	Name      string
	MediaType string
	Data      []byte
	// OriginalSize is the size before any HEIC conversion
	OriginalSize int
	Converted    bool
}

// Batch is the outcome of one Accept call.
type Batch struct {
	Accepted []Accepted
	Rejected []string
	// Notice is empty when nothing was rejected
	Notice string
}

// Intake classifies files and assigns item identifiers.
type Intake struct {
	converter Converter
	now       func() time.Time
	suffix    func() string
}

// Option configures an Intake.
type Option func(*Intake)

// WithConverter replaces the HEIC converter. A nil converter disables conversion.
func WithConverter(c Converter) Option {
	return func(in *Intake) {
		in.converter = c
	}
}

// WithClock overrides the clock used in identifiers.
func WithClock(now func() time.Time) Option {
	return func(in *Intake) {
		in.now = now
	}
}

// New creates an Intake with the heif-convert converter.
func New(opts ...Option) *Intake {
	in := &Intake{
		converter: NewHeifConverter(),
		now:       time.Now,
		suffix: func() string {
			return uuid.NewString()[:8]
		},
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Accept splits files into accepted images and rejected names. HEIC/HEIF
// images are converted to JPEG; a failed conversion is logged and the
// original bytes are kept so the decode failure surfaces later against the item.
func (in *Intake) Accept(ctx context.Context, files []File) Batch {
	var batch Batch
	log := logger.FromContext(ctx)

	for _, f := range files {
		if !IsImage(f) {
			batch.Rejected = append(batch.Rejected, f.Name)
			continue
		}

		item := Accepted{
			Name:         f.Name,
			MediaType:    mediaTypeOf(f),
			Data:         f.Data,
			OriginalSize: len(f.Data),
		}
		item.ID = in.newID(f.Name, len(f.Data))

		if isHEIC(f) && in.converter != nil {
			converted, err := in.converter.Convert(ctx, f.Data)
			if err != nil {
				log.WithError(err).WithFields(logrus.Fields{
					"file": f.Name,
					"id":   item.ID,
				}).Warn("HEIC conversion failed, keeping original bytes")
			} else {
				item.Data = converted
				item.MediaType = "image/jpeg"
				item.Converted = true
			}
		}

		batch.Accepted = append(batch.Accepted, item)
	}

	batch.Notice = Notice(batch.Rejected)
	if batch.Notice != "" {
		log.WithField("rejected", len(batch.Rejected)).Info(batch.Notice)
	}
	return batch
}

func (in *Intake) newID(name string, size int) string {
	return fmt.Sprintf("%s-%d-%d-%s", name, size, in.now().UnixMilli(), in.suffix())
}

// IsImage reports whether a file is admitted by declared type, extension or,
// when the declared type is missing or generic, by its content.
func IsImage(f File) bool {
	if allowedMediaTypes[normalizeMediaType(f.MediaType)] {
		return true
	}
	if allowedExtensions[strings.ToLower(filepath.Ext(f.Name))] {
		return true
	}
	switch normalizeMediaType(f.MediaType) {
	case "", "application/octet-stream":
		if len(f.Data) == 0 {
			return false
		}
		return allowedMediaTypes[normalizeMediaType(mimetype.Detect(f.Data).String())]
	}
	return false
}

// Notice renders the batched rejection message, or "" for no rejections.
func Notice(rejected []string) string {
	if len(rejected) == 0 {
		return ""
	}
	shown := rejected
	if len(shown) > noticeNames {
		shown = shown[:noticeNames]
	}
	msg := "unsupported format: " + strings.Join(shown, ", ")
	if len(rejected) > noticeNames {
		msg += "…"
	}
	return msg
}

func isHEIC(f File) bool {
	switch normalizeMediaType(f.MediaType) {
	case "image/heic", "image/heif":
		return true
	}
	switch strings.ToLower(filepath.Ext(f.Name)) {
	case ".heic", ".heif":
		return true
	}
	if len(f.Data) == 0 {
		return false
	}
	mt := mimetype.Detect(f.Data)
	return mt.Is("image/heic") || mt.Is("image/heif")
}

func mediaTypeOf(f File) string {
	if mt := normalizeMediaType(f.MediaType); mt != "" && mt != "application/octet-stream" {
		return mt
	}
	return normalizeMediaType(mimetype.Detect(f.Data).String())
}

func normalizeMediaType(mediaType string) string {
	mediaType, _, _ = strings.Cut(strings.ToLower(mediaType), ";")
	mediaType = strings.TrimSpace(mediaType)
	if mediaType == "image/jpg" {
		return "image/jpeg"
	}
	return mediaType
}
