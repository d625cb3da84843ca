// Package pipeline drives uploaded photos one at a time through compression,
// background removal and finalization, tracking per-item progress and ETA.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync"
	"time"

	_ "golang.org/x/image/webp"

	"go-garment-ingest/internal/bgremoval"
	"go-garment-ingest/internal/compress"
	apperrors "go-garment-ingest/internal/errors"
	"go-garment-ingest/internal/intake"
	"go-garment-ingest/internal/logger"
	"go-garment-ingest/internal/observer"
	"go-garment-ingest/internal/storage"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrNotPending   = errors.New("item is not pending")
	ErrClosed       = errors.New("pipeline closed")
)

// Compressor is the analyse stage.
type Compressor interface {
	Compress(data []byte, opts compress.Options) (*compress.Result, error)
}

// Remover is the suppression stage.
type Remover interface {
	RemoveBackground(ctx context.Context, img bgremoval.Image) (*bgremoval.Result, error)
}

// Options wires a Manager.
type Options struct {
	// AutoProcess queues every accepted item immediately
	AutoProcess bool
	Compression compress.Options

	Intake     *intake.Intake
	Compressor Compressor
	Remover    Remover
	Sink       storage.ImageSink
	// Events is optional
	Events observer.Subject
}

// AddResult is what Add accepted and rejected.
type AddResult struct {
	Items    []UploadItem
	Rejected []string
	Notice   string
}

// Manager owns the item list and the single processing worker.
type Manager struct {
	opts Options

	mu     sync.Mutex
	items  map[string]*item
	order  []string
	closed bool

	queue *Queue
	now   func() time.Time
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Compressor == nil || opts.Remover == nil || opts.Sink == nil {
		return nil, fmt.Errorf("compressor, remover and sink are required")
	}
	if opts.Intake == nil {
		opts.Intake = intake.New()
	}
	if opts.Compression.MaxDimension == 0 && opts.Compression.MaxBytes == 0 {
		opts.Compression = compress.DefaultOptions()
	}

	m := &Manager{
		opts:  opts,
		items: make(map[string]*item),
		queue: NewQueue(),
		now:   time.Now,
	}
	m.queue.Start()
	return m, nil
}

// Add runs intake over files and creates one pending item per accepted file.
func (m *Manager) Add(ctx context.Context, files []intake.File) (AddResult, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return AddResult{}, ErrClosed
	}

	batch := m.opts.Intake.Accept(ctx, files)
	res := AddResult{Rejected: batch.Rejected, Notice: batch.Notice}

	var queued []UploadItem
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return AddResult{}, ErrClosed
	}
	for _, acc := range batch.Accepted {
		itemCtx, cancel := context.WithCancel(logger.NewContext(context.Background(),
			logger.WithField("item_id", acc.ID)))
		it := &item{
			UploadItem: UploadItem{
				ID:        acc.ID,
				Name:      acc.Name,
				MediaType: acc.MediaType,
				Status:    StatusPending,
				Size:      SizeInfo{OriginalBytes: len(acc.Data)},
				Converted: acc.Converted,
				CreatedAt: m.now(),
			},
			original: acc.Data,
			ctx:      itemCtx,
			cancel:   cancel,
		}
		m.items[it.ID] = it
		m.order = append(m.order, it.ID)

		if m.opts.AutoProcess {
			m.markQueuedLocked(it)
			queued = append(queued, it.snapshot())
		}
		res.Items = append(res.Items, it.snapshot())
	}
	m.mu.Unlock()

	for _, snap := range queued {
		m.publish(ctx, observer.ItemQueued, snap, nil)
		m.submit(snap.ID)
	}
	return res, nil
}

// Process queues a pending item that was added without auto-processing.
func (m *Manager) Process(id string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	it, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return ErrItemNotFound
	}
	if it.Status != StatusPending || it.queued {
		m.mu.Unlock()
		return ErrNotPending
	}
	m.markQueuedLocked(it)
	snap := it.snapshot()
	m.mu.Unlock()

	m.publish(it.ctx, observer.ItemQueued, snap, nil)
	if !m.submit(id) {
		return ErrClosed
	}
	return nil
}

func (m *Manager) markQueuedLocked(it *item) {
	it.queued = true
	it.Progress = progressQueued
}

// submit hands the item to the worker. The queued event is published
// first so it always precedes the item's stage events.
func (m *Manager) submit(id string) bool {
	return m.queue.Submit(func() { m.run(id) })
}

// Remove aborts the item, drops it from the list and releases its images.
// Work already dispatched for the current step finishes but is discarded.
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	it, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return ErrItemNotFound
	}
	it.cancel()
	it.release()
	delete(m.items, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	snap := it.snapshot()
	m.mu.Unlock()

	m.publish(context.Background(), observer.ItemRemoved, snap, nil)
	return nil
}

// Items returns snapshots in insertion order.
func (m *Manager) Items() []UploadItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]UploadItem, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.items[id].snapshot())
	}
	return out
}

// Get returns a snapshot of one item.
func (m *Manager) Get(id string) (UploadItem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok {
		return UploadItem{}, false
	}
	return it.snapshot(), true
}

// Wait blocks until the queue is drained.
func (m *Manager) Wait() {
	m.queue.Wait()
}

// Stats exposes the queue counters.
func (m *Manager) Stats() QueueStats {
	return m.queue.GetStats()
}

// Close tears the item list down: every item is aborted, queued work is
// dropped and all image references are released. Must not be called from
// an observer.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, it := range m.items {
		it.cancel()
	}
	m.mu.Unlock()

	m.queue.Close()

	m.mu.Lock()
	for _, it := range m.items {
		it.release()
	}
	m.items = make(map[string]*item)
	m.order = nil
	m.mu.Unlock()
}

// run drives one item through every stage. Between stages the item's abort
// flag is consulted; a removed item receives no further mutation.
func (m *Manager) run(id string) {
	ctx, original, ok := m.begin(id)
	if !ok {
		return
	}
	log := logger.FromContext(ctx)

	// analyse
	if !m.advance(id, StageAnalyse) {
		return
	}
	compressed, err := m.opts.Compressor.Compress(original, m.opts.Compression)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.fail(id, "compression failed: "+message(err))
		return
	}
	if compressed.Oversized {
		log.WithField("bytes", compressed.CompressedSize).Warn("Compressed image still exceeds byte budget")
	}
	if !m.update(id, func(it *item) {
		it.Size.CompressedBytes = compressed.CompressedSize
		it.Size.Format = compressed.Format
		it.Size.Resized = compressed.Resized
		it.Size.Oversized = compressed.Oversized
		it.compressed = compressed.Data
		it.ETA = EstimateRemaining(StageSuppression, it.Size.OriginalBytes, compressed.CompressedSize)
	}) {
		return
	}

	// suppression
	if !m.advance(id, StageSuppression) {
		return
	}
	removed, err := m.opts.Remover.RemoveBackground(ctx, bgremoval.Image{
		MediaType: compressed.Format,
		Data:      compressed.Data,
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.fail(id, bgremoval.UserMessage(err))
		return
	}

	// finalisation
	if !m.advance(id, StageFinalisation) {
		return
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(removed.Data)); err != nil {
		m.fail(id, fmt.Sprintf("processed image is not decodable: %v", err))
		return
	}
	location, err := m.opts.Sink.Put(context.WithoutCancel(ctx), id, removed.MediaType, removed.Data)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.fail(id, fmt.Sprintf("storing processed image failed: %v", err))
		return
	}

	m.complete(id, removed, location)
}

// begin moves a queued item into processing at the upload stage.
func (m *Manager) begin(id string) (context.Context, []byte, bool) {
	m.mu.Lock()
	it, ok := m.items[id]
	if !ok || it.ctx.Err() != nil {
		m.mu.Unlock()
		return nil, nil, false
	}
	it.Status = StatusProcessing
	it.StartedAt = m.now()
	it.Stage = StageUpload
	it.Progress = max(it.Progress, stageProgress[StageUpload])
	it.ETA = EstimateRemaining(StageUpload, it.Size.OriginalBytes, 0)
	ctx, original, snap := it.ctx, it.original, it.snapshot()
	m.mu.Unlock()

	m.publish(ctx, observer.StageChanged, snap, nil)
	return ctx, original, true
}

// advance moves a processing item to stage. It returns false when the item
// was removed or aborted.
func (m *Manager) advance(id string, stage Stage) bool {
	m.mu.Lock()
	it, ok := m.items[id]
	if !ok || it.ctx.Err() != nil || it.Status != StatusProcessing {
		m.mu.Unlock()
		return false
	}
	it.Stage = stage
	it.Progress = max(it.Progress, stageProgress[stage])
	it.ETA = EstimateRemaining(stage, it.Size.OriginalBytes, it.Size.CompressedBytes)
	ctx, snap := it.ctx, it.snapshot()
	m.mu.Unlock()

	m.publish(ctx, observer.StageChanged, snap, nil)
	return true
}

func (m *Manager) update(id string, fn func(it *item)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.items[id]
	if !ok || it.ctx.Err() != nil {
		return false
	}
	fn(it)
	return true
}

func (m *Manager) fail(id, msg string) {
	m.mu.Lock()
	it, ok := m.items[id]
	if !ok || it.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	it.Status = StatusError
	it.Error = msg
	it.Stage = ""
	it.ETA = 0
	it.FinishedAt = m.now()
	it.compressed = nil
	ctx, snap := it.ctx, it.snapshot()
	m.mu.Unlock()

	m.publish(ctx, observer.ItemFailed, snap, nil)
}

func (m *Manager) complete(id string, res *bgremoval.Result, location string) {
	m.mu.Lock()
	it, ok := m.items[id]
	if !ok || it.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	it.Status = StatusDone
	it.Progress = progressDone
	it.Stage = ""
	it.ETA = 0
	it.Provider = res.Provider
	it.Fallback = res.Fallback
	it.ProcessedRef = location
	it.FinishedAt = m.now()
	it.compressed = nil
	ctx, snap := it.ctx, it.snapshot()
	m.mu.Unlock()

	meta := map[string]interface{}{
		"removal_ms": res.Duration.Milliseconds(),
		"attempts":   res.Attempts,
	}
	m.publish(ctx, observer.ItemCompleted, snap, meta)
}

func (m *Manager) publish(ctx context.Context, t observer.EventType, snap UploadItem, meta map[string]interface{}) {
	if m.opts.Events == nil {
		return
	}
	event := observer.ItemEvent{
		EventType:    t,
		Timestamp:    m.now(),
		ItemID:       snap.ID,
		Name:         snap.Name,
		Status:       string(snap.Status),
		Stage:        string(snap.Stage),
		Progress:     snap.Progress,
		ETA:          snap.ETA,
		Provider:     snap.Provider,
		Fallback:     snap.Fallback,
		ErrorMessage: snap.Error,
		Metadata:     meta,
	}
	if snap.Terminal() && !snap.StartedAt.IsZero() {
		event.Elapsed = snap.FinishedAt.Sub(snap.StartedAt)
	}
	m.opts.Events.NotifyObservers(ctx, event)
}

func message(err error) string {
	if appErr, ok := apperrors.As(err); ok {
		return appErr.Message
	}
	return err.Error()
}
