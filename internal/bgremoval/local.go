package bgremoval

import (
	"bytes"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	apperrors "go-garment-ingest/internal/errors"
)

// DefaultTolerance is the RGB distance under which a pixel counts as background.
const DefaultTolerance = 48

// LocalRemover strips a roughly uniform backdrop without any network call.
// Pixels connected to the image border whose colour is within Tolerance of
// the mean border colour become fully transparent.
type LocalRemover struct {
	Tolerance float64
}

func NewLocalRemover() *LocalRemover {
	return &LocalRemover{Tolerance: DefaultTolerance}
}

// Remove decodes data and returns a PNG with an alpha channel.
func (l *LocalRemover) Remove(data []byte) ([]byte, error) {
	src, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, apperrors.NewProcessingError("unable to decode image for local removal", err)
	}

	img := imaging.Clone(src)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return nil, apperrors.NewProcessingError("image has no pixels", nil)
	}

	bg := borderMean(img)
	limit := l.Tolerance * l.Tolerance

	visited := make([]bool, w*h)
	queue := make([]int, 0, 2*(w+h))
	seed := func(x, y int) {
		i := y*w + x
		if !visited[i] && distance(img, x, y, bg) <= limit {
			visited[i] = true
			queue = append(queue, i)
		}
	}
	for x := 0; x < w; x++ {
		seed(x, 0)
		seed(x, h-1)
	}
	for y := 0; y < h; y++ {
		seed(0, y)
		seed(w-1, y)
	}

	for len(queue) > 0 {
		i := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		x, y := i%w, i/w
		img.Pix[img.PixOffset(x, y)+3] = 0

		if x > 0 {
			seed(x-1, y)
		}
		if x < w-1 {
			seed(x+1, y)
		}
		if y > 0 {
			seed(x, y-1)
		}
		if y < h-1 {
			seed(x, y+1)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, apperrors.NewProcessingError("png encoding failed", err)
	}
	return buf.Bytes(), nil
}

func borderMean(img *image.NRGBA) color.NRGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	var r, g, b, n int
	add := func(x, y int) {
		o := img.PixOffset(x, y)
		r += int(img.Pix[o])
		g += int(img.Pix[o+1])
		b += int(img.Pix[o+2])
		n++
	}
	for x := 0; x < w; x++ {
		add(x, 0)
		add(x, h-1)
	}
	for y := 1; y < h-1; y++ {
		add(0, y)
		add(w-1, y)
	}
	return color.NRGBA{R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: 255}
}

// distance is the squared RGB distance between a pixel and c.
func distance(img *image.NRGBA, x, y int, c color.NRGBA) float64 {
	o := img.PixOffset(x, y)
	dr := float64(img.Pix[o]) - float64(c.R)
	dg := float64(img.Pix[o+1]) - float64(c.G)
	db := float64(img.Pix[o+2]) - float64(c.B)
	return dr*dr + dg*dg + db*db
}
