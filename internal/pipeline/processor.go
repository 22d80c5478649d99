// Package pipeline wires the ingestion stages together: extraction from the
// raw hub stream, breaker-guarded hand-off into processing, and the batched
// store writer.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/fernledge/homestream/internal/adapter/kafka"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
)

// EventHandler consumes flattened events. Implemented by Processor; wrapped
// by Forwarder.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.FlatEvent) error
}

// EventSink receives fully processed events. Implemented by Batcher.
type EventSink interface {
	Add(ev domain.NormalizedEvent) error
}

// Processor runs the per-event stages: weather enrichment, validation, and
// normalization, handing accepted events to the sink.
type Processor struct {
	weather    domain.WeatherProvider // nil when enrichment is disabled
	sink       EventSink
	deadLetter *kafka.DeadLetter
	logger     *slog.Logger
	metrics    *observability.Metrics

	rejected   atomic.Uint64
	normalized atomic.Uint64
}

// NewProcessor creates a processor. A nil weather provider disables
// enrichment; a nil dead-letter producer discards rejected events.
func NewProcessor(weather domain.WeatherProvider, sink EventSink, dl *kafka.DeadLetter, logger *slog.Logger, metrics *observability.Metrics) *Processor {
	return &Processor{
		weather:    weather,
		sink:       sink,
		deadLetter: dl,
		logger:     logger.With("component", "processor"),
		metrics:    metrics,
	}
}

// Handle enriches, validates, and normalizes one event. A weather fetch
// failure is not fatal; the event continues unenriched. A validation
// rejection is counted and dead-lettered but is not a stage failure. The
// returned error therefore only reports sink backpressure, which is what the
// circuit breaker upstream is meant to see.
func (p *Processor) Handle(ctx context.Context, ev domain.FlatEvent) error {
	if p.weather != nil {
		cond, err := p.weather.Current(ctx)
		if err != nil {
			p.logger.Warn("weather enrichment skipped", "error", err, "entity_id", ev.EntityID)
		} else {
			ev = ev.WithWeather(cond)
		}
	}

	result := domain.Validate(ev)
	if len(result.Warnings) > 0 {
		p.metrics.ValidationWarnings.Add(float64(len(result.Warnings)))
		p.logger.Debug("validation warnings",
			"entity_id", ev.EntityID, "warnings", result.Warnings)
	}
	if !result.IsValid {
		p.rejected.Add(1)
		p.metrics.EventsRejected.Inc()
		p.logger.Warn("event rejected",
			"entity_id", ev.EntityID, "errors", result.Errors)
		p.deadLetter.Publish(ctx, "validation_rejected", result.Errors, ev)
		return nil
	}

	normalized := domain.Normalize(ev)
	p.metrics.EventsNormalized.Inc()
	p.normalized.Add(1)

	if err := p.sink.Add(normalized); err != nil {
		return fmt.Errorf("enqueue for write: %w", err)
	}
	return nil
}

// Rejected reports the number of events rejected by validation.
func (p *Processor) Rejected() uint64 { return p.rejected.Load() }

// Normalized reports the number of events accepted and normalized.
func (p *Processor) Normalized() uint64 { return p.normalized.Load() }
