package intake

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

const heifConvertCommand = "heif-convert"

// ErrConverterUnavailable is returned when no conversion binary is installed.
var ErrConverterUnavailable = errors.New("heif converter unavailable")

// Converter turns HEIC/HEIF bytes into JPEG bytes.
type Converter interface {
	Convert(ctx context.Context, data []byte) ([]byte, error)
}

// ConverterFunc adapts a function to Converter.
type ConverterFunc func(ctx context.Context, data []byte) ([]byte, error)

func (f ConverterFunc) Convert(ctx context.Context, data []byte) ([]byte, error) {
	return f(ctx, data)
}

// HeifConverter shells out to libheif's heif-convert.
type HeifConverter struct {
	binary  string
	quality int

	once     sync.Once
	resolved string
	readyErr error
}

// NewHeifConverter returns a converter that locates heif-convert on first use.
func NewHeifConverter() *HeifConverter {
	return &HeifConverter{binary: heifConvertCommand, quality: 92}
}

func (c *HeifConverter) ensureReady() error {
	c.once.Do(func() {
		path, err := exec.LookPath(c.binary)
		if err != nil {
			c.readyErr = fmt.Errorf("%w: could not find %q on PATH", ErrConverterUnavailable, c.binary)
			return
		}
		c.resolved = path
	})
	return c.readyErr
}

// Convert writes data to a temp file, runs heif-convert and reads the JPEG back.
func (c *HeifConverter) Convert(ctx context.Context, data []byte) ([]byte, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "intake-heif-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	in := filepath.Join(dir, "input.heic")
	out := filepath.Join(dir, "output.jpg")
	if err := os.WriteFile(in, data, 0o600); err != nil {
		return nil, fmt.Errorf("write heic input: %w", err)
	}

	cmd := exec.CommandContext(ctx, c.resolved, "-q", fmt.Sprint(c.quality), in, out)
	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("heif-convert: %w: %s", err, strings.TrimSpace(string(output)))
	}

	converted, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("read converted jpeg: %w", err)
	}
	return converted, nil
}
