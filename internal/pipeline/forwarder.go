package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/sony/gobreaker"
)

// ForwarderConfig holds the circuit breaker and retry settings for the
// hand-off into the processing stage.
type ForwarderConfig struct {
	// FailureThreshold is the number of consecutive failures that opens
	// the breaker.
	FailureThreshold uint32
	// Cooldown is how long the breaker stays open before allowing a
	// half-open trial.
	Cooldown time.Duration
	// MaxAttempts bounds the retries inside a single breaker call.
	MaxAttempts int
}

// Forwarder hands events to the processing stage through a circuit breaker.
// When processing fails repeatedly the breaker opens and events are rejected
// immediately, so a stuck downstream never stalls the hub read loop.
type Forwarder struct {
	handler EventHandler
	breaker *gobreaker.CircuitBreaker
	retries uint64
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewForwarder creates a breaker-guarded forwarder around the handler.
func NewForwarder(cfg ForwarderConfig, handler EventHandler, logger *slog.Logger, metrics *observability.Metrics) *Forwarder {
	f := &Forwarder{
		handler: handler,
		retries: uint64(max(cfg.MaxAttempts, 1) - 1),
		logger:  logger.With("component", "forwarder"),
		metrics: metrics,
	}
	f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "processing",
		MaxRequests: 1, // one trial request in half-open
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: f.onStateChange,
	})
	return f
}

// Forward runs the handler inside the breaker. Rejections from an open
// breaker and exhausted-retry failures are counted separately.
func (f *Forwarder) Forward(ctx context.Context, ev domain.FlatEvent) error {
	_, err := f.breaker.Execute(func() (any, error) {
		return nil, f.attempt(ctx, ev)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		f.metrics.BreakerRejected.Inc()
		return err
	}
	f.metrics.ForwardFailures.Inc()
	return err
}

// attempt retries the handler within one breaker call so a single transient
// failure does not count toward opening the breaker.
func (f *Forwarder) attempt(ctx context.Context, ev domain.FlatEvent) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	return backoff.Retry(func() error {
		return f.handler.Handle(ctx, ev)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, f.retries), ctx))
}

// BreakerState reports the breaker state for the status endpoint.
func (f *Forwarder) BreakerState() string {
	return f.breaker.State().String()
}

func (f *Forwarder) onStateChange(name string, from, to gobreaker.State) {
	f.metrics.BreakerState.Set(breakerStateValue(to))
	f.logger.Warn("circuit breaker state changed",
		"breaker", name, "from", from.String(), "to", to.String())
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
