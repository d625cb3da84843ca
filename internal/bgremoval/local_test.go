package bgremoval

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	apperrors "go-garment-ingest/internal/errors"
)

func TestLocalRemover_ClearsBorderConnectedBackdrop(t *testing.T) {
	out, err := NewLocalRemover().Remove(garmentPNG(t))
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}

	tests := []struct {
		x, y  int
		alpha uint8
	}{
		{0, 0, 0},
		{39, 39, 0},
		{5, 20, 0},
		{20, 20, 255},
		{10, 10, 255},
	}
	for _, tt := range tests {
		c := color.NRGBAModel.Convert(img.At(tt.x, tt.y)).(color.NRGBA)
		if c.A != tt.alpha {
			t.Errorf("pixel (%d,%d): expected alpha %d, got %d", tt.x, tt.y, tt.alpha, c.A)
		}
	}
}

func TestLocalRemover_KeepsEnclosedBackdropColour(t *testing.T) {
	// A white hole inside the garment is not connected to the border.
	img := image.NewNRGBA(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			c := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 5 && x < 25 && y >= 5 && y < 25 && !(x >= 12 && x < 18 && y >= 12 && y < 18) {
				c = color.NRGBA{B: 180, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}

	out, err := NewLocalRemover().Remove(buf.Bytes())
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if c := color.NRGBAModel.Convert(decoded.At(15, 15)).(color.NRGBA); c.A != 255 {
		t.Errorf("enclosed pixel must stay opaque, got alpha %d", c.A)
	}
}

func TestLocalRemover_DecodeError(t *testing.T) {
	_, err := NewLocalRemover().Remove([]byte("nope"))
	if !apperrors.IsType(err, apperrors.ErrorTypeProcessing) {
		t.Errorf("expected processing error, got %v", err)
	}
}
