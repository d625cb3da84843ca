package pipeline

import (
	"context"
	"time"
)

// Status is an item's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

// Stage is the step a processing item is in.
type Stage string

const (
	StageUpload       Stage = "upload"
	StageAnalyse      Stage = "analyse"
	StageSuppression  Stage = "suppression"
	StageFinalisation Stage = "finalisation"
)

var stageOrder = []Stage{StageUpload, StageAnalyse, StageSuppression, StageFinalisation}

// Progress checkpoints.
const (
	progressQueued = 5
	progressDone   = 100
)

var stageProgress = map[Stage]int{
	StageUpload:       10,
	StageAnalyse:      25,
	StageSuppression:  40,
	StageFinalisation: 85,
}

// stageMillisPerMB calibrates the ETA: milliseconds a stage takes per megabyte.
var stageMillisPerMB = map[Stage]float64{
	StageUpload:       120,
	StageAnalyse:      350,
	StageSuppression:  2200,
	StageFinalisation: 150,
}

// SizeInfo describes the compression outcome.
type SizeInfo struct {
	OriginalBytes   int
	CompressedBytes int
	Format          string
	Resized         bool
	// Oversized is set when compression could not reach the byte budget
	Oversized bool
}

// UploadItem is a read-only snapshot of one image's journey.
type UploadItem struct {
	ID        string
	Name      string
	MediaType string
	Status    Status
	// Stage is empty unless Status is processing
	Stage    Stage
	Progress int
	ETA      time.Duration
	Size     SizeInfo
	Provider string
	// Fallback is set when the background was removed locally
	Fallback bool
	// ProcessedRef is the sink location of the finalized image
	ProcessedRef string
	Error        string
	// Converted is set when the original was converted from HEIC/HEIF
	Converted bool

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

// Terminal reports whether the item reached done or error.
func (u UploadItem) Terminal() bool {
	return u.Status == StatusDone || u.Status == StatusError
}

// item is the mutable record owned by the Manager.
type item struct {
	UploadItem

	original   []byte
	compressed []byte
	queued     bool

	ctx    context.Context
	cancel context.CancelFunc
}

func (it *item) snapshot() UploadItem {
	return it.UploadItem
}

// release drops image references held by the item.
func (it *item) release() {
	it.original = nil
	it.compressed = nil
}

// EstimateRemaining sums the calibrated cost of stage from and every stage
// after it. Stages after compression use compressedBytes once known.
func EstimateRemaining(from Stage, originalBytes, compressedBytes int) time.Duration {
	start := -1
	for i, s := range stageOrder {
		if s == from {
			start = i
			break
		}
	}
	if start < 0 {
		return 0
	}

	var millis float64
	for _, s := range stageOrder[start:] {
		size := originalBytes
		if compressedBytes > 0 && (s == StageSuppression || s == StageFinalisation) {
			size = compressedBytes
		}
		millis += stageMillisPerMB[s] * float64(size) / 1_000_000
	}
	return time.Duration(millis * float64(time.Millisecond))
}
