package observer

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ItemEvent represents one upload item lifecycle transition
type ItemEvent struct {
	EventType EventType     `json:"event_type"`
	Timestamp time.Time     `json:"timestamp"`
	ItemID    string        `json:"item_id"`
	Name      string        `json:"name"`
	Status    string        `json:"status"`
	Stage     string        `json:"stage,omitempty"`
	Progress  int           `json:"progress"`
	ETA       time.Duration `json:"eta"`
	// Elapsed is the processing time so far, set on terminal events
	Elapsed      time.Duration          `json:"elapsed"`
	Provider     string                 `json:"provider,omitempty"`
	Fallback     bool                   `json:"fallback,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// EventType represents the type of item event
type EventType string

const (
	// ItemQueued when an item enters the processing queue
	ItemQueued EventType = "item_queued"
	// StageChanged when a processing item advances to its next stage
	StageChanged EventType = "stage_changed"
	// ItemCompleted when an item reaches done
	ItemCompleted EventType = "item_completed"
	// ItemFailed when an item reaches error
	ItemFailed EventType = "item_failed"
	// ItemRemoved when the user removes an item
	ItemRemoved EventType = "item_removed"
)

// Observer defines the interface for event observers
type Observer interface {
	OnEvent(ctx context.Context, event ItemEvent)
	GetObserverName() string
}

// Subject defines the interface for event publishers
type Subject interface {
	Subscribe(observer Observer)
	Unsubscribe(observer Observer)
	NotifyObservers(ctx context.Context, event ItemEvent)
}

// LoggingObserver logs item events
type LoggingObserver struct {
	logger *logrus.Logger
}

// NewLoggingObserver creates a new logging observer
func NewLoggingObserver(logger *logrus.Logger) Observer {
	return &LoggingObserver{
		logger: logger,
	}
}

// OnEvent handles item events by logging them
func (o *LoggingObserver) OnEvent(ctx context.Context, event ItemEvent) {
	fields := logrus.Fields{
		"event_type": event.EventType,
		"item_id":    event.ItemID,
		"status":     event.Status,
		"progress":   event.Progress,
	}
	if event.Stage != "" {
		fields["stage"] = event.Stage
		fields["eta_ms"] = event.ETA.Milliseconds()
	}
	if event.Provider != "" {
		fields["provider"] = event.Provider
		fields["fallback"] = event.Fallback
	}
	if event.Elapsed > 0 {
		fields["elapsed_ms"] = event.Elapsed.Milliseconds()
	}
	if event.ErrorMessage != "" {
		fields["error"] = event.ErrorMessage
	}
	for k, v := range event.Metadata {
		fields[k] = v
	}

	entry := o.logger.WithFields(fields)
	switch event.EventType {
	case ItemQueued:
		entry.Info("Item queued")
	case StageChanged:
		entry.Debug("Item stage changed")
	case ItemCompleted:
		entry.Info("Item completed")
	case ItemFailed:
		entry.Error("Item failed")
	case ItemRemoved:
		entry.Info("Item removed")
	default:
		entry.Info("Item event occurred")
	}
}

// GetObserverName returns the observer name
func (o *LoggingObserver) GetObserverName() string {
	return "logging_observer"
}

// Metrics is a point-in-time copy of MetricsObserver counters
type Metrics struct {
	Queued              int64
	Completed           int64
	Failed              int64
	Removed             int64
	LocalFallbacks      int64
	TotalProcessingTime time.Duration
	AvgProcessingTime   time.Duration
	ByProvider          map[string]int64
}

// MetricsObserver collects counters from item events
type MetricsObserver struct {
	mu                  sync.RWMutex
	queued              int64
	completed           int64
	failed              int64
	removed             int64
	fallbacks           int64
	totalProcessingTime time.Duration
	byProvider          map[string]int64
}

// NewMetricsObserver creates a new metrics observer
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{byProvider: make(map[string]int64)}
}

// OnEvent handles item events by collecting metrics
func (o *MetricsObserver) OnEvent(ctx context.Context, event ItemEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch event.EventType {
	case ItemQueued:
		o.queued++
	case ItemCompleted:
		o.completed++
		o.totalProcessingTime += event.Elapsed
		if event.Provider != "" {
			o.byProvider[event.Provider]++
		}
		if event.Fallback {
			o.fallbacks++
		}
	case ItemFailed:
		o.failed++
	case ItemRemoved:
		o.removed++
	}
}

// GetObserverName returns the observer name
func (o *MetricsObserver) GetObserverName() string {
	return "metrics_observer"
}

// GetMetrics returns current metrics
func (o *MetricsObserver) GetMetrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	avg := time.Duration(0)
	if o.completed > 0 {
		avg = o.totalProcessingTime / time.Duration(o.completed)
	}
	byProvider := make(map[string]int64, len(o.byProvider))
	for k, v := range o.byProvider {
		byProvider[k] = v
	}

	return Metrics{
		Queued:              o.queued,
		Completed:           o.completed,
		Failed:              o.failed,
		Removed:             o.removed,
		LocalFallbacks:      o.fallbacks,
		TotalProcessingTime: o.totalProcessingTime,
		AvgProcessingTime:   avg,
		ByProvider:          byProvider,
	}
}

// FuncObserver adapts a function to Observer
type FuncObserver struct {
	name string
	fn   func(ctx context.Context, event ItemEvent)
}

// NewFuncObserver creates an observer calling fn for every event
func NewFuncObserver(name string, fn func(ctx context.Context, event ItemEvent)) Observer {
	return &FuncObserver{name: name, fn: fn}
}

func (o *FuncObserver) OnEvent(ctx context.Context, event ItemEvent) {
	o.fn(ctx, event)
}

func (o *FuncObserver) GetObserverName() string {
	return o.name
}

// EventPublisher implements the Subject interface
type EventPublisher struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		observers: make([]Observer, 0),
	}
}

// Subscribe adds an observer
func (p *EventPublisher) Subscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observers = append(p.observers, observer)
}

// Unsubscribe removes an observer
func (p *EventPublisher) Unsubscribe(observer Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, obs := range p.observers {
		if obs.GetObserverName() == observer.GetObserverName() {
			p.observers = append(p.observers[:i], p.observers[i+1:]...)
			break
		}
	}
}

// NotifyObservers delivers the event to every observer in subscription
// order. Events for one item therefore arrive in transition order.
func (p *EventPublisher) NotifyObservers(ctx context.Context, event ItemEvent) {
	p.mu.RLock()
	observers := make([]Observer, len(p.observers))
	copy(observers, p.observers)
	p.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, obs := range observers {
		notify(ctx, obs, event)
	}
}

func notify(ctx context.Context, obs Observer, event ItemEvent) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("observer", obs.GetObserverName()).
				WithField("panic", r).
				Error("Observer panicked while handling event")
		}
	}()
	obs.OnEvent(ctx, event)
}
