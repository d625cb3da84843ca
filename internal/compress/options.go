package compress

// Options bounds the compressed output
type Options struct {
	// MaxDimension caps the longest side in pixels
	MaxDimension int
	// MaxBytes is the target encoded size
	MaxBytes int64
	// Formats lists output media types in preference order. Formats without
	// a registered encoder are skipped.
	Formats []string

	// Quality search, from MaxQuality down to MinQuality inclusive
	MaxQuality  int
	MinQuality  int
	QualityStep int
}

// DefaultOptions returns the default compression options
func DefaultOptions() Options {
	return Options{
		MaxDimension: 1920,
		MaxBytes:     2_000_000,
		Formats:      []string{"image/webp", "image/jpeg"},
		MaxQuality:   90,
		MinQuality:   50,
		QualityStep:  10,
	}
}

// WithLimits returns options with custom dimension and byte limits
func (opts Options) WithLimits(maxDimension int, maxBytes int64) Options {
	if maxDimension > 0 {
		opts.MaxDimension = maxDimension
	}
	if maxBytes > 0 {
		opts.MaxBytes = maxBytes
	}
	return opts
}

// WithFormats replaces the format preference order
func (opts Options) WithFormats(formats ...string) Options {
	opts.Formats = append([]string(nil), formats...)
	return opts
}

// WithQualityRange replaces the quality search range
func (opts Options) WithQualityRange(max, min, step int) Options {
	opts.MaxQuality = max
	opts.MinQuality = min
	opts.QualityStep = step
	return opts
}

// qualities lists the quality steps in search order.
func (opts Options) qualities() []int {
	step := opts.QualityStep
	if step <= 0 {
		step = 10
	}
	var out []int
	for q := opts.MaxQuality; q >= opts.MinQuality; q -= step {
		out = append(out, q)
	}
	if len(out) == 0 {
		out = append(out, opts.MaxQuality)
	}
	return out
}
