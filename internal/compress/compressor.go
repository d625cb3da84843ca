// Package compress resizes and re-encodes photos to a pixel and byte budget
// before they are uploaded.
package compress

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	apperrors "go-garment-ingest/internal/errors"
)

// Attempt is one encoded candidate.
type Attempt struct {
	Format  string
	Quality int
	Size    int
}

// Result is the chosen candidate plus what it took to get there.
type Result struct {
	Data           []byte
	OriginalSize   int
	CompressedSize int
	Format         string
	Resized        bool
	Width          int
	Height         int
	Quality        int
	// Attempts lists every candidate in the order it was encoded
	Attempts []Attempt
	// Oversized is set when no candidate met MaxBytes and the smallest was returned
	Oversized bool
}

// Compressor is safe for concurrent use once configured.
type Compressor struct {
	encoders map[string]Encoder
}

// NewCompressor snapshots the package encoder registry.
func NewCompressor() *Compressor {
	return &Compressor{encoders: registeredEncoders()}
}

// RegisterEncoder adds an encoder to this compressor only. Call before use.
func (c *Compressor) RegisterEncoder(mediaType string, enc Encoder) {
	c.encoders[mediaType] = enc
}

// Formats returns the formats of opts that this compressor can produce.
func (c *Compressor) Formats(opts Options) []string {
	var out []string
	for _, f := range opts.Formats {
		if _, ok := c.encoders[f]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Compress decodes data, scales it to fit MaxDimension and searches formats
// then qualities for the first encoding within MaxBytes.
func (c *Compressor) Compress(data []byte, opts Options) (*Result, error) {
	formats := c.Formats(opts)
	if len(formats) == 0 {
		return nil, apperrors.NewInternalError("no encoder available for requested formats", nil)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewProcessingError("unable to decode image", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, apperrors.NewProcessingError("image has no pixels", nil)
	}

	tw, th, resized := targetSize(w, h, opts.MaxDimension)
	if resized {
		img = imaging.Resize(img, tw, th, imaging.Lanczos)
	}
	// Lossy formats carry no alpha; composite onto white rather than black.
	flat := imaging.Overlay(imaging.New(tw, th, color.White), img, image.Pt(0, 0), 1.0)

	res := &Result{
		OriginalSize: len(data),
		Resized:      resized,
		Width:        tw,
		Height:       th,
	}

	var best *candidate
	var buf bytes.Buffer
	for _, format := range formats {
		enc := c.encoders[format]
		for _, q := range opts.qualities() {
			buf.Reset()
			if err := enc.Encode(&buf, flat, q); err != nil {
				return nil, apperrors.NewProcessingError(fmt.Sprintf("%s encoding failed", format), err)
			}
			res.Attempts = append(res.Attempts, Attempt{Format: format, Quality: q, Size: buf.Len()})

			if best == nil || buf.Len() < len(best.data) {
				best = &candidate{format: format, quality: q, data: append([]byte(nil), buf.Bytes()...)}
			}
			if int64(buf.Len()) <= opts.MaxBytes {
				res.apply(&candidate{format: format, quality: q, data: append([]byte(nil), buf.Bytes()...)})
				return res, nil
			}
		}
	}

	res.apply(best)
	res.Oversized = true
	return res, nil
}

type candidate struct {
	format  string
	quality int
	data    []byte
}

func (r *Result) apply(c *candidate) {
	r.Data = c.data
	r.CompressedSize = len(c.data)
	r.Format = c.format
	r.Quality = c.quality
}

// targetSize scales (w, h) so the longest side is at most maxDimension.
func targetSize(w, h, maxDimension int) (int, int, bool) {
	if maxDimension <= 0 {
		return w, h, false
	}
	longest := w
	if h > longest {
		longest = h
	}
	scale := math.Min(1, float64(maxDimension)/float64(longest))
	if scale >= 1 {
		return w, h, false
	}
	tw := int(math.Round(float64(w) * scale))
	th := int(math.Round(float64(h) * scale))
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th, true
}
