package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"go-garment-ingest/internal/bgremoval"
	"go-garment-ingest/internal/compress"
	"go-garment-ingest/internal/config"
	"go-garment-ingest/internal/intake"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/observer"
	"go-garment-ingest/internal/pipeline"
	"go-garment-ingest/internal/storage"
)

type processFlags struct {
	proxy           string
	origin          string
	out             string
	maxDimension    int
	maxBytes        int64
	primary         string
	secondary       string
	noLocalFallback bool
	quiet           bool
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var flags processFlags

	cmd := &cobra.Command{
		Use:   "process <image>...",
		Short: "Compress images, remove their backgrounds and store the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg = flags.apply(cmd, cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runProcess(cmd, ctx.stderr(), cfg, args, flags.quiet)
		},
	}

	cmd.Flags().StringVar(&flags.proxy, "proxy", "", "Background-removal proxy endpoint")
	cmd.Flags().StringVar(&flags.origin, "origin", "", "Origin header sent to the proxy")
	cmd.Flags().StringVarP(&flags.out, "out", "o", "", "Directory for processed images")
	cmd.Flags().IntVar(&flags.maxDimension, "max-dimension", 0, "Longest side after compression, in pixels")
	cmd.Flags().Int64Var(&flags.maxBytes, "max-bytes", 0, "Target size after compression, in bytes")
	cmd.Flags().StringVar(&flags.primary, "primary", "", "Primary background-removal provider")
	cmd.Flags().StringVar(&flags.secondary, "secondary", "", "Secondary background-removal provider")
	cmd.Flags().BoolVar(&flags.noLocalFallback, "no-local-fallback", false, "Fail instead of removing the background locally")
	cmd.Flags().BoolVarP(&flags.quiet, "quiet", "q", false, "Suppress per-stage progress lines")

	return cmd
}

// apply overlays explicitly set flags on the loaded configuration.
func (f processFlags) apply(cmd *cobra.Command, cfg config.ClientConfig) config.ClientConfig {
	changed := cmd.Flags().Changed
	if changed("proxy") {
		cfg.ProxyURL = f.proxy
	}
	if changed("origin") {
		cfg.Origin = f.origin
	}
	if changed("out") {
		cfg.OutputDir = f.out
	}
	if changed("max-dimension") {
		cfg.Compression.MaxDimension = f.maxDimension
	}
	if changed("max-bytes") {
		cfg.Compression.MaxBytes = f.maxBytes
	}
	if changed("primary") {
		cfg.Removal.Primary = f.primary
	}
	if changed("secondary") {
		cfg.Removal.Secondary = f.secondary
	}
	if changed("no-local-fallback") {
		cfg.Removal.LocalFallback = !f.noLocalFallback
	}
	return cfg
}

func runProcess(cmd *cobra.Command, stderr io.Writer, cfg config.ClientConfig, paths []string, quiet bool) error {
	files, err := readFiles(paths)
	if err != nil {
		return err
	}

	remover, err := bgremoval.NewClient(bgremoval.Config{
		ProxyURL:      cfg.ProxyURL,
		Origin:        cfg.Origin,
		Primary:       cfg.Removal.Primary,
		Secondary:     cfg.Removal.Secondary,
		Attempts:      cfg.Removal.Attempts,
		Backoff:       cfg.Removal.Backoff(),
		Timeout:       cfg.Removal.Timeout(),
		LocalFallback: cfg.Removal.LocalFallback,
	})
	if err != nil {
		return err
	}

	sink, err := newSink(cfg)
	if err != nil {
		return err
	}

	metrics := observer.NewMetricsObserver()
	events := observer.NewEventPublisher()
	events.Subscribe(observer.NewLoggingObserver(logger.Logger))
	events.Subscribe(metrics)
	if !quiet {
		events.Subscribe(newProgressPrinter(stderr))
	}

	manager, err := pipeline.NewManager(pipeline.Options{
		AutoProcess: true,
		Compression: compress.DefaultOptions().WithLimits(cfg.Compression.MaxDimension, cfg.Compression.MaxBytes),
		Intake:      intake.New(),
		Compressor:  compress.NewCompressor(),
		Remover:     remover,
		Sink:        sink,
		Events:      events,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := manager.Add(sigCtx, files)
	if err != nil {
		return err
	}
	if res.Notice != "" {
		fmt.Fprintln(stderr, res.Notice)
	}
	if len(res.Items) == 0 {
		return fmt.Errorf("no supported images among %d file(s)", len(files))
	}

	drained := make(chan struct{})
	go func() {
		manager.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-sigCtx.Done():
		manager.Close()
		<-drained
		return sigCtx.Err()
	}

	items := manager.Items()
	fmt.Fprintln(cmd.OutOrStdout(), renderItems(items))
	fmt.Fprintln(cmd.OutOrStdout(), summarize(metrics.GetMetrics()))

	var failed int
	for _, it := range items {
		if it.Status == pipeline.StatusError {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d image(s) failed", failed, len(items))
	}
	return nil
}

func readFiles(paths []string) ([]intake.File, error) {
	files := make([]intake.File, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		files = append(files, intake.File{
			Name: filepath.Base(path),
			Data: data,
		})
	}
	return files, nil
}

func newSink(cfg config.ClientConfig) (storage.ImageSink, error) {
	if cfg.Azure.Enabled() {
		return storage.NewAzureSink(storage.AzureConfig{
			AccountName: cfg.Azure.AccountName,
			AccountKey:  cfg.Azure.AccountKey,
			Container:   cfg.Azure.Container,
			ServiceURL:  cfg.Azure.ServiceURL,
		})
	}
	return storage.NewLocalSink(cfg.OutputDir)
}

func newProgressPrinter(w io.Writer) observer.Observer {
	return observer.NewFuncObserver("progress", func(_ context.Context, e observer.ItemEvent) {
		switch e.EventType {
		case observer.ItemQueued:
			fmt.Fprintf(w, "[%3d%%] %s queued\n", e.Progress, e.Name)
		case observer.StageChanged:
			fmt.Fprintf(w, "[%3d%%] %s %s, about %s left\n", e.Progress, e.Name, e.Stage, formatDuration(e.ETA))
		case observer.ItemCompleted:
			via := e.Provider
			if e.Fallback {
				via += " fallback"
			}
			fmt.Fprintf(w, "[%3d%%] %s done via %s in %s\n", e.Progress, e.Name, via, formatDuration(e.Elapsed))
		case observer.ItemFailed:
			fmt.Fprintf(w, "[ err] %s: %s\n", e.Name, e.ErrorMessage)
		}
	})
}

func renderItems(items []pipeline.UploadItem) string {
	headers := []string{"Name", "Status", "Provider", "Original", "Compressed", "Format", "Result"}
	rows := make([][]string, 0, len(items))
	for _, it := range items {
		provider := it.Provider
		if it.Fallback {
			provider += " (fallback)"
		}
		compressed := ""
		if it.Size.CompressedBytes > 0 {
			compressed = humanize.Bytes(uint64(it.Size.CompressedBytes))
		}
		result := it.ProcessedRef
		if it.Status == pipeline.StatusError {
			result = it.Error
		}
		rows = append(rows, []string{
			it.Name,
			string(it.Status),
			provider,
			humanize.Bytes(uint64(it.Size.OriginalBytes)),
			compressed,
			strings.TrimPrefix(it.Size.Format, "image/"),
			result,
		})
	}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft}
	return renderTable(headers, rows, aligns)
}

func summarize(m observer.Metrics) string {
	summary := fmt.Sprintf("%d completed, %d failed", m.Completed, m.Failed)
	if m.LocalFallbacks > 0 {
		summary += fmt.Sprintf(", %d removed locally", m.LocalFallbacks)
	}
	if m.Completed > 0 {
		summary += fmt.Sprintf(", average %s per image", formatDuration(m.AvgProcessingTime))
	}
	return summary
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
