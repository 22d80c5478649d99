package domain

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	SetClock(clockwork.NewFakeClockAt(now))
	defer SetClock(nil)

	t.Run("numeric state coerces", func(t *testing.T) {
		event := validFlatEvent(now)

		norm := Normalize(event)

		require.NotNil(t, norm.NumericValue)
		assert.Equal(t, 22.5, *norm.NumericValue)
		assert.Equal(t, "22.5", norm.RawValue)
		assert.Equal(t, "C", norm.Unit)
		assert.Equal(t, SchemaVersion, norm.SchemaVersion)
		assert.Equal(t, now, norm.NormalizedAt)
	})

	t.Run("non-numeric state keeps raw and nil numeric", func(t *testing.T) {
		event := validFlatEvent(now)
		event.NewState.State = strPtr("on")

		norm := Normalize(event)

		assert.Nil(t, norm.NumericValue)
		assert.Equal(t, "on", norm.RawValue)
	})

	t.Run("duration from previous state", func(t *testing.T) {
		event := validFlatEvent(now)
		event.OldState = &StateSnapshot{
			State:       strPtr("21.9"),
			LastChanged: now.Add(-90 * time.Second),
			LastUpdated: now.Add(-90 * time.Second),
		}

		norm := Normalize(event)

		require.NotNil(t, norm.DurationInPreviousStateSeconds)
		assert.Equal(t, 90.0, *norm.DurationInPreviousStateSeconds)
	})

	t.Run("no previous state means nil duration", func(t *testing.T) {
		norm := Normalize(validFlatEvent(now))
		assert.Nil(t, norm.DurationInPreviousStateSeconds)
	})

	t.Run("negative gap clamps to zero", func(t *testing.T) {
		event := validFlatEvent(now)
		event.OldState = &StateSnapshot{
			State:       strPtr("21.9"),
			LastUpdated: now.Add(30 * time.Second),
		}

		norm := Normalize(event)

		require.NotNil(t, norm.DurationInPreviousStateSeconds)
		assert.Equal(t, 0.0, *norm.DurationInPreviousStateSeconds)
	})

	t.Run("input event is not mutated", func(t *testing.T) {
		event := validFlatEvent(now)
		_ = Normalize(event)
		assert.Equal(t, validFlatEvent(now), event)
	})
}

func TestCoerceNumeric(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected *float64
	}{
		{"decimal", "22.5", floatPtr(22.5)},
		{"integer", "42", floatPtr(42)},
		{"negative", "-3.2", floatPtr(-3.2)},
		{"padded", " 7 ", floatPtr(7)},
		{"word", "on", nil},
		{"empty", "", nil},
		{"unavailable", "unavailable", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := coerceNumeric(tt.raw)
			if tt.expected == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.expected, *got)
		})
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestNormalizeUnit(t *testing.T) {
	tests := []struct {
		raw      string
		expected string
	}{
		{"°C", "C"},
		{"celsius", "C"},
		{"%", "percent"},
		{"hPa", "hPa"},
		{"mbar", "hPa"},
		{"lux", "lx"},
		{"kWh", "kWh"},
		{"furlongs", "furlongs"}, // unknown units pass through
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			s := &StateSnapshot{Attributes: map[string]any{"unit_of_measurement": tt.raw}}
			assert.Equal(t, tt.expected, normalizeUnit(s))
		})
	}

	t.Run("missing attribute", func(t *testing.T) {
		assert.Equal(t, "", normalizeUnit(&StateSnapshot{}))
		assert.Equal(t, "", normalizeUnit(nil))
	})
}

func TestDeriveTimeOfDay(t *testing.T) {
	tests := []struct {
		hour     int
		expected string
	}{
		{3, "night"},
		{5, "morning"},
		{11, "morning"},
		{12, "afternoon"},
		{16, "afternoon"},
		{17, "evening"},
		{21, "evening"},
		{22, "night"},
		{0, "night"},
	}
	for _, tt := range tests {
		ts := time.Date(2026, 3, 14, tt.hour, 30, 0, 0, time.UTC)
		assert.Equal(t, tt.expected, deriveTimeOfDay(ts), "hour %d", tt.hour)
	}
}
