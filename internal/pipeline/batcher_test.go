package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeWriter records batches and optionally fails every write.
type fakeWriter struct {
	mu      sync.Mutex
	batches [][]domain.NormalizedEvent
	err     error

	gotBatch chan []domain.NormalizedEvent
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{gotBatch: make(chan []domain.NormalizedEvent, 8)}
}

func (w *fakeWriter) WriteBatch(_ context.Context, events []domain.NormalizedEvent) error {
	if w.err != nil {
		return w.err
	}
	w.mu.Lock()
	w.batches = append(w.batches, events)
	w.mu.Unlock()
	w.gotBatch <- events
	return nil
}

func normalizedFixture(entityID string) domain.NormalizedEvent {
	return domain.NormalizedEvent{
		FlatEvent: domain.FlatEvent{EntityID: entityID, EventType: "state_changed"},
		RawValue:  "on",
	}
}

func testBatcher(cfg BatcherConfig, w PointWriter, clk clockwork.Clock) *Batcher {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBatcher(cfg, w, nil, clk, logger, observability.NewMetricsForTesting())
}

func waitBatch(t *testing.T, w *fakeWriter) []domain.NormalizedEvent {
	t.Helper()
	select {
	case batch := <-w.gotBatch:
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a flush")
		return nil
	}
}

func TestBatcher_FlushesOnSize(t *testing.T) {
	clk := clockwork.NewFakeClock()
	w := newFakeWriter()
	b := testBatcher(BatcherConfig{Size: 3, FlushInterval: time.Hour, MaxRetries: 1}, w, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	for i, id := range []string{"sensor.a", "sensor.b", "sensor.c"} {
		require.NoError(t, b.Add(normalizedFixture(id)), "add %d", i)
	}

	batch := waitBatch(t, w)
	require.Len(t, batch, 3)
	assert.Equal(t, "sensor.a", batch[0].EntityID, "arrival order must be preserved")
	assert.Equal(t, "sensor.c", batch[2].EntityID)
	assert.Equal(t, uint64(1), b.Flushed())

	cancel()
	<-done
}

func TestBatcher_FlushesOnInterval(t *testing.T) {
	clk := clockwork.NewFakeClock()
	w := newFakeWriter()
	b := testBatcher(BatcherConfig{Size: 100, FlushInterval: 5 * time.Second, MaxRetries: 1}, w, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()

	// Wait for the flush loop to arm its timer before advancing the clock.
	clk.BlockUntil(1)
	require.NoError(t, b.Add(normalizedFixture("binary_sensor.door")))
	clk.Advance(5 * time.Second)

	batch := waitBatch(t, w)
	require.Len(t, batch, 1)
	assert.Equal(t, "binary_sensor.door", batch[0].EntityID)

	cancel()
	<-done
}

func TestBatcher_DrainsOnShutdown(t *testing.T) {
	clk := clockwork.NewFakeClock()
	w := newFakeWriter()
	b := testBatcher(BatcherConfig{Size: 100, FlushInterval: time.Hour, MaxRetries: 1}, w, clk)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	clk.BlockUntil(1)

	require.NoError(t, b.Add(normalizedFixture("light.kitchen")))
	cancel()
	<-done

	require.Len(t, w.batches, 1, "pending events must be flushed on shutdown")
	assert.Equal(t, "light.kitchen", w.batches[0][0].EntityID)
}

func TestBatcher_DropsAfterExhaustedRetries(t *testing.T) {
	w := newFakeWriter()
	w.err = errors.New("store unavailable")
	b := testBatcher(BatcherConfig{Size: 2, FlushInterval: time.Hour, MaxRetries: 3}, w, clockwork.NewRealClock())
	b.retryDelay = time.Millisecond

	require.NoError(t, b.Add(normalizedFixture("sensor.a")))
	require.NoError(t, b.Add(normalizedFixture("sensor.b")))
	b.flush(context.Background())

	assert.Equal(t, uint64(0), b.Flushed())
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBatcher_AddRejectsWhenBacklogFull(t *testing.T) {
	b := testBatcher(BatcherConfig{Size: 1, FlushInterval: time.Hour, MaxRetries: 1}, newFakeWriter(), clockwork.NewFakeClock())

	for i := 0; i < backlogFactor; i++ {
		require.NoError(t, b.Add(normalizedFixture("sensor.a")))
	}
	err := b.Add(normalizedFixture("sensor.a"))
	require.ErrorIs(t, err, ErrBacklogFull)
}
