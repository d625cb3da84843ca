package compress

import (
	"image"
	"image/jpeg"
	"io"
	"sync"
)

// Encoder writes img in one lossy format at the given quality (1-100).
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(w io.Writer, img image.Image, quality int) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image, quality int) error {
	return f(w, img, quality)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]Encoder{
		"image/jpeg": EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
		}),
	}
)

// RegisterEncoder makes an encoder available to compressors created
// afterwards. Only JPEG ships by default; there is no pure-Go lossy WebP
// encoder, so WebP is used only when a build registers one.
func RegisterEncoder(mediaType string, enc Encoder) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[mediaType] = enc
}

func registeredEncoders() map[string]Encoder {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make(map[string]Encoder, len(registry))
	for k, v := range registry {
		out[k] = v
	}
	return out
}
