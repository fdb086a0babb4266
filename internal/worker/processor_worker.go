package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ricorrenti/internal/log"
)

// DueProcessor materializes the occurrences that have come due by now.
type DueProcessor interface {
	ProcessDue(ctx context.Context, now time.Time) (int, error)
}

// ProcessorConfig holds configuration for the processor worker
type ProcessorConfig struct {
	// Interval is how often due occurrences are materialized (default: 1h)
	Interval time.Duration
}

// DefaultProcessorConfig returns sensible defaults
func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{Interval: time.Hour}
}

// ProcessorWorker runs a DueProcessor on a fixed interval, once immediately
// on start and then on every tick.
type ProcessorWorker struct {
	processor DueProcessor
	config    ProcessorConfig
	now       func() time.Time

	// Lifecycle management
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	runs    int
}

func NewProcessorWorker(processor DueProcessor, config ProcessorConfig) *ProcessorWorker {
	if config.Interval <= 0 {
		config.Interval = DefaultProcessorConfig().Interval
	}
	return &ProcessorWorker{
		processor: processor,
		config:    config,
		now:       time.Now,
	}
}

// Start begins the processing loop. Returns an error if already running.
func (w *ProcessorWorker) Start(ctx context.Context) error {
	if w.processor == nil {
		return fmt.Errorf("processor worker has no processor")
	}

	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("processor worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	stopCh, doneCh := w.stopCh, w.doneCh
	w.mu.Unlock()

	go w.runLoop(ctx, stopCh, doneCh)

	slog.InfoContext(ctx, "Recurring processor started",
		log.FieldComponent, log.ComponentWorker,
		"interval", w.config.Interval)
	return nil
}

// Stop gracefully stops the worker and waits for the current run to finish.
// Only the first of several concurrent calls closes the loop and waits.
func (w *ProcessorWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stopCh, doneCh := w.stopCh, w.doneCh
	w.running = false
	w.stopCh = nil
	w.mu.Unlock()

	close(stopCh)

	select {
	case <-doneCh:
		slog.InfoContext(ctx, "Recurring processor stopped gracefully",
			log.FieldComponent, log.ComponentWorker)
	case <-ctx.Done():
		slog.WarnContext(ctx, "Recurring processor stop timed out",
			log.FieldComponent, log.ComponentWorker)
		return ctx.Err()
	}
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *ProcessorWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Runs returns how many processing passes have completed.
func (w *ProcessorWorker) Runs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runs
}

func (w *ProcessorWorker) runLoop(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single processing pass. Errors are logged, not returned,
// so one failing pass does not stop the loop.
func (w *ProcessorWorker) RunOnce(ctx context.Context) {
	start := w.now()
	created, err := w.processor.ProcessDue(ctx, start)

	w.mu.Lock()
	w.runs++
	w.mu.Unlock()

	if err != nil {
		slog.ErrorContext(ctx, "Recurring processing failed",
			log.FieldComponent, log.ComponentWorker,
			log.FieldError, err)
		return
	}
	slog.InfoContext(ctx, "Recurring processing completed",
		log.FieldComponent, log.ComponentWorker,
		log.FieldCount, created,
		log.FieldDuration, time.Since(start).Milliseconds())
}
