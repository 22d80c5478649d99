package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/fernledge/homestream/internal/adapter/hub"
	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource feeds pre-loaded events and blocks until cancelled, like the
// real hub client does.
type fakeSource struct {
	events chan domain.RawEvent
	runErr error
}

func newFakeSource(events ...domain.RawEvent) *fakeSource {
	ch := make(chan domain.RawEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	return &fakeSource{events: ch}
}

func (s *fakeSource) Run(ctx context.Context) error {
	if s.runErr != nil {
		close(s.events)
		return s.runErr
	}
	<-ctx.Done()
	close(s.events)
	return nil
}

func (s *fakeSource) Events() <-chan domain.RawEvent { return s.events }
func (s *fakeSource) State() hub.State               { return hub.StateSubscribed }
func (s *fakeSource) EverSubscribed() bool           { return s.runErr == nil }
func (s *fakeSource) ConnectedAt() time.Time         { return time.Now() }

func rawStateChange(entityID, oldState, newState string, oldUpdated, fired time.Time) domain.RawEvent {
	return domain.RawEvent{
		EventType: "state_changed",
		TimeFired: fired,
		Data: domain.RawEventData{
			EntityID: entityID,
			OldState: &domain.RawState{
				EntityID:    entityID,
				State:       &oldState,
				LastChanged: oldUpdated,
				LastUpdated: oldUpdated,
			},
			NewState: &domain.RawState{
				EntityID:    entityID,
				State:       &newState,
				Attributes:  map[string]any{"unit_of_measurement": "°C"},
				LastChanged: fired,
				LastUpdated: fired,
			},
		},
	}
}

func buildPipeline(t *testing.T, source RawSource, w PointWriter, batchSize int) *Pipeline {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	batcher := NewBatcher(BatcherConfig{
		Size:          batchSize,
		FlushInterval: time.Hour,
		MaxRetries:    1,
	}, w, nil, clockwork.NewRealClock(), logger, metrics)
	proc := NewProcessor(nil, batcher, nil, logger, metrics)
	fwd := NewForwarder(ForwarderConfig{
		FailureThreshold: 5,
		Cooldown:         time.Minute,
		MaxAttempts:      1,
	}, proc, logger, metrics)

	return New(source, fwd, proc, batcher, nil, logger, metrics)
}

func TestPipeline_EndToEndOrderAndDurations(t *testing.T) {
	base := time.Now().UTC().Add(-time.Minute)
	source := newFakeSource(
		rawStateChange("sensor.kitchen_temp", "21.0", "21.5", base.Add(-5*time.Second), base),
		rawStateChange("sensor.kitchen_temp", "21.5", "22.0", base, base.Add(10*time.Second)),
		rawStateChange("sensor.kitchen_temp", "22.0", "22.5", base.Add(10*time.Second), base.Add(20*time.Second)),
	)
	w := newFakeWriter()
	p := buildPipeline(t, source, w, 3)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	batch := waitBatch(t, w)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, batch, 3)
	for i, want := range []string{"21.5", "22.0", "22.5"} {
		assert.Equal(t, want, batch[i].RawValue, "event %d out of order", i)
	}
	require.NotNil(t, batch[0].DurationInPreviousStateSeconds)
	assert.Equal(t, 5.0, *batch[0].DurationInPreviousStateSeconds)
	assert.Equal(t, 10.0, *batch[1].DurationInPreviousStateSeconds)
	assert.Equal(t, 10.0, *batch[2].DurationInPreviousStateSeconds)

	assert.Equal(t, "C", batch[0].Unit)
	require.NotNil(t, batch[2].NumericValue)
	assert.Equal(t, 22.5, *batch[2].NumericValue)

	status := p.Status()
	assert.Equal(t, "subscribed", status.Connection)
	assert.Equal(t, uint64(3), status.EventsExtracted)
	assert.Equal(t, uint64(3), status.EventsNormalized)
	assert.Equal(t, uint64(0), status.EventsRejected)
	assert.Equal(t, "closed", status.BreakerState)
	assert.Equal(t, uint64(1), status.BatchesFlushed)
}

func TestPipeline_RejectedEventNeverReachesWriter(t *testing.T) {
	base := time.Now().UTC().Add(-time.Minute)
	bad := rawStateChange("NotAnEntity", "a", "b", base, base.Add(time.Second))
	good := rawStateChange("light.hall", "off", "on", base, base.Add(2*time.Second))
	source := newFakeSource(bad, good)
	w := newFakeWriter()
	p := buildPipeline(t, source, w, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	batch := waitBatch(t, w)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, batch, 1)
	assert.Equal(t, "light.hall", batch[0].EntityID)

	status := p.Status()
	assert.Equal(t, uint64(1), status.EventsRejected)
	assert.Equal(t, uint64(1), status.EventsNormalized)
}

func TestPipeline_DropsEnvelopeWithoutNewState(t *testing.T) {
	base := time.Now().UTC().Add(-time.Minute)
	removed := rawStateChange("switch.heater", "on", "off", base, base.Add(time.Second))
	removed.Data.NewState = nil
	good := rawStateChange("switch.heater", "off", "on", base, base.Add(2*time.Second))
	source := newFakeSource(removed, good)
	w := newFakeWriter()
	p := buildPipeline(t, source, w, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	batch := waitBatch(t, w)
	cancel()
	require.NoError(t, <-done)

	require.Len(t, batch, 1)
	status := p.Status()
	assert.Equal(t, uint64(1), status.ExtractErrors)
	assert.Equal(t, uint64(1), status.EventsExtracted)
}

func TestPipeline_TerminalSourceErrorPropagates(t *testing.T) {
	source := newFakeSource()
	source.runErr = hub.ErrAuthFailureLimit
	p := buildPipeline(t, source, newFakeWriter(), 1)

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, hub.ErrAuthFailureLimit))
	assert.False(t, p.Ready())
}
