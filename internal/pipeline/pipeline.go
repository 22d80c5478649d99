package pipeline

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fernledge/homestream/internal/adapter/hub"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"golang.org/x/sync/errgroup"
)

// RawSource is the upstream hub stream. Implemented by hub.Client.
type RawSource interface {
	Run(ctx context.Context) error
	Events() <-chan domain.RawEvent
	State() hub.State
	EverSubscribed() bool
	ConnectedAt() time.Time
}

// CacheStats exposes the weather cache hit rate for the status endpoint.
type CacheStats interface {
	HitRate() float64
}

// Status is the JSON snapshot served at /status.
type Status struct {
	Connection       string    `json:"connection"`
	ConnectedAt      time.Time `json:"connected_at,omitzero"`
	EverSubscribed   bool      `json:"ever_subscribed"`
	EventsExtracted  uint64    `json:"events_extracted"`
	ExtractErrors    uint64    `json:"extract_errors"`
	EventsRejected   uint64    `json:"events_rejected"`
	EventsNormalized uint64    `json:"events_normalized"`
	ForwardFailures  uint64    `json:"forward_failures"`
	BreakerState     string    `json:"breaker_state"`
	WeatherHitRate   float64   `json:"weather_cache_hit_rate"`
	BatchesFlushed   uint64    `json:"batches_flushed"`
	BatchesDropped   uint64    `json:"batches_dropped"`
}

// Pipeline runs the stages end to end: the hub source, the extract loop that
// feeds the forwarder, and the batch flush loop.
type Pipeline struct {
	source    RawSource
	forwarder *Forwarder
	processor *Processor
	batcher   *Batcher
	cache     CacheStats // nil when enrichment is disabled
	logger    *slog.Logger
	metrics   *observability.Metrics

	extracted       atomic.Uint64
	extractErrors   atomic.Uint64
	forwardFailures atomic.Uint64
	failed          atomic.Bool
}

// New assembles a pipeline from its stages.
func New(source RawSource, fwd *Forwarder, proc *Processor, batcher *Batcher, cache CacheStats, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		source:    source,
		forwarder: fwd,
		processor: proc,
		batcher:   batcher,
		cache:     cache,
		logger:    logger.With("component", "pipeline"),
		metrics:   metrics,
	}
}

// Run starts the source, the extract loop, and the batcher, and blocks until
// all have stopped. A terminal source error (the auth failure limit) cancels
// the other stages and is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := p.source.Run(ctx); err != nil {
			p.failed.Store(true)
			return err
		}
		return nil
	})

	g.Go(func() error {
		return p.batcher.Run(ctx)
	})

	g.Go(func() error {
		p.extractLoop(ctx)
		return nil
	})

	return g.Wait()
}

// extractLoop drains the source channel, flattening each envelope and handing
// it to the forwarder. It exits when the source closes its channel.
func (p *Pipeline) extractLoop(ctx context.Context) {
	for raw := range p.source.Events() {
		flat, err := domain.Extract(raw)
		if err != nil {
			p.extractErrors.Add(1)
			p.metrics.ExtractErrors.Inc()
			p.logger.Debug("envelope dropped", "error", err, "event_type", raw.EventType)
			continue
		}
		p.extracted.Add(1)
		p.metrics.EventsExtracted.Inc()

		if err := p.forwarder.Forward(ctx, flat); err != nil {
			p.forwardFailures.Add(1)
			p.logger.Warn("event not processed", "error", err, "entity_id", flat.EntityID)
		}
	}
}

// Ready reports readiness: at least one successful subscription and no
// terminal failure.
func (p *Pipeline) Ready() bool {
	return p.source.EverSubscribed() && !p.failed.Load()
}

// Status builds the snapshot served by the HTTP status endpoint.
func (p *Pipeline) Status() Status {
	s := Status{
		Connection:       p.source.State().String(),
		ConnectedAt:      p.source.ConnectedAt(),
		EverSubscribed:   p.source.EverSubscribed(),
		EventsExtracted:  p.extracted.Load(),
		ExtractErrors:    p.extractErrors.Load(),
		EventsRejected:   p.processor.Rejected(),
		EventsNormalized: p.processor.Normalized(),
		ForwardFailures:  p.forwardFailures.Load(),
		BreakerState:     p.forwarder.BreakerState(),
		BatchesFlushed:   p.batcher.Flushed(),
		BatchesDropped:   p.batcher.Dropped(),
	}
	if p.cache != nil {
		s.WeatherHitRate = p.cache.HitRate()
	}
	return s
}
