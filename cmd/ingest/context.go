package main

import (
	"io"
	"strings"
	"sync"

	"go-garment-ingest/internal/config"
)

type commandContext struct {
	configFlag *string

	errOut *syncWriter

	configOnce sync.Once
	config     config.ClientConfig
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (config.ClientConfig, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		c.config, c.configErr = config.LoadClientConfig(path)
	})
	return c.config, c.configErr
}

// bindStderr routes diagnostics through one serialized writer; progress
// lines come from the worker goroutine.
func (c *commandContext) bindStderr(w io.Writer) io.Writer {
	c.errOut = &syncWriter{w: w}
	return c.errOut
}

func (c *commandContext) stderr() io.Writer {
	return c.errOut
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
