package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fernledge/homestream/internal/adapter/kafka"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/jonboulle/clockwork"
)

// PointWriter writes a batch of normalized events to the time-series store.
// Implemented by the influx adapter.
type PointWriter interface {
	WriteBatch(ctx context.Context, events []domain.NormalizedEvent) error
}

// ErrBacklogFull is returned by Add when the pending buffer has grown past
// its cap, which means the store has been failing for a while.
var ErrBacklogFull = errors.New("batch backlog full")

// backlogFactor caps the pending buffer at this multiple of the batch size.
const backlogFactor = 10

// BatcherConfig holds the batch accumulation settings.
type BatcherConfig struct {
	Size          int
	FlushInterval time.Duration
	MaxRetries    int
	// DrainTimeout bounds the final flush on shutdown.
	DrainTimeout time.Duration
}

// Batcher accumulates normalized events and flushes them to the store when
// the batch is full or the flush interval elapses, whichever comes first.
// The interval timer resets on flush, not on insert, so a slow trickle of
// events still reaches the store within one interval.
type Batcher struct {
	cfg        BatcherConfig
	writer     PointWriter
	deadLetter *kafka.DeadLetter
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu  sync.Mutex
	buf []domain.NormalizedEvent

	flushCh chan struct{}

	// retryDelay is the base sleep between flush attempts.
	retryDelay time.Duration

	flushed atomic.Uint64
	dropped atomic.Uint64
}

// NewBatcher creates a batch writer. Call Run to start the flush loop.
func NewBatcher(cfg BatcherConfig, writer PointWriter, dl *kafka.DeadLetter, clk clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Batcher {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 5 * time.Second
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	return &Batcher{
		cfg:        cfg,
		writer:     writer,
		deadLetter: dl,
		clock:      clk,
		logger:     logger.With("component", "batcher"),
		metrics:    metrics,
		buf:        make([]domain.NormalizedEvent, 0, cfg.Size),
		flushCh:    make(chan struct{}, 1),
		retryDelay: 500 * time.Millisecond,
	}
}

// Add appends one event to the pending batch and signals the flush loop when
// the batch is full. Order of arrival is preserved through to the store.
func (b *Batcher) Add(ev domain.NormalizedEvent) error {
	b.mu.Lock()
	if len(b.buf) >= b.cfg.Size*backlogFactor {
		b.mu.Unlock()
		return ErrBacklogFull
	}
	b.buf = append(b.buf, ev)
	full := len(b.buf) >= b.cfg.Size
	b.mu.Unlock()

	if full {
		select {
		case b.flushCh <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run flushes on size and interval triggers until the context is cancelled,
// then drains whatever is pending within the drain timeout.
func (b *Batcher) Run(ctx context.Context) error {
	timer := b.clock.NewTimer(b.cfg.FlushInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.Background(), b.cfg.DrainTimeout)
			b.flush(drainCtx)
			cancel()
			return nil
		case <-b.flushCh:
			b.flush(ctx)
			timer.Reset(b.cfg.FlushInterval)
		case <-timer.Chan():
			b.flush(ctx)
			timer.Reset(b.cfg.FlushInterval)
		}
	}
}

// Flushed reports the number of batches successfully written.
func (b *Batcher) Flushed() uint64 { return b.flushed.Load() }

// Dropped reports the number of batches dropped after exhausted retries.
func (b *Batcher) Dropped() uint64 { return b.dropped.Load() }

// flush swaps the pending buffer out under the lock and writes it, retrying
// transient failures a bounded number of times. An exhausted batch is logged,
// dead-lettered, and dropped; the pipeline keeps running.
func (b *Batcher) flush(ctx context.Context) {
	b.mu.Lock()
	if len(b.buf) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.buf
	b.buf = make([]domain.NormalizedEvent, 0, b.cfg.Size)
	b.mu.Unlock()

	b.metrics.BatchSize.Observe(float64(len(batch)))

	var err error
	for attempt := 1; attempt <= b.cfg.MaxRetries; attempt++ {
		start := b.clock.Now()
		err = b.writer.WriteBatch(ctx, batch)
		b.metrics.FlushDuration.Observe(b.clock.Since(start).Seconds())
		if err == nil {
			b.flushed.Add(1)
			b.metrics.BatchesFlushed.Inc()
			b.logger.Debug("batch flushed", "size", len(batch), "attempt", attempt)
			return
		}

		b.logger.Warn("batch flush failed",
			"error", err, "size", len(batch), "attempt", attempt, "max_attempts", b.cfg.MaxRetries)
		if attempt == b.cfg.MaxRetries {
			break
		}
		b.metrics.FlushRetries.Inc()
		if !b.sleep(ctx, b.retryDelay*time.Duration(attempt)) {
			break
		}
	}

	b.dropped.Add(1)
	b.metrics.BatchesDropped.Inc()
	b.logger.Error("batch dropped after exhausted retries",
		"error", err, "size", len(batch))
	b.deadLetter.Publish(ctx, "flush_failed", []string{err.Error()}, batch)
}

func (b *Batcher) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-b.clock.After(d):
		return true
	}
}
