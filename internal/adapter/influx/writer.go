// Package influx persists normalized events as time-series points.
package influx

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fernledge/homestream/internal/domain"
	"github.com/fernledge/homestream/internal/observability"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Writer converts normalized events into points and writes them to an
// InfluxDB bucket. It implements pipeline.PointWriter.
type Writer struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	measurement string
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// Config holds the store connection settings.
type Config struct {
	URL         string
	Token       string
	Org         string
	Bucket      string
	Measurement string
}

// NewWriter creates a store writer. Close releases the underlying client.
func NewWriter(cfg Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &Writer{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		logger:      logger,
		metrics:     metrics,
	}
}

// WriteBatch writes all events as one call, preserving their order.
func (w *Writer) WriteBatch(ctx context.Context, events []domain.NormalizedEvent) error {
	if len(events) == 0 {
		return nil
	}
	points := make([]*write.Point, len(events))
	for i := range events {
		points[i] = toPoint(w.measurement, events[i])
	}
	if err := w.writeAPI.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("write %d points: %w", len(points), err)
	}
	w.metrics.PointsWritten.Add(float64(len(events)))
	return nil
}

// Close shuts down the underlying client.
func (w *Writer) Close() {
	w.client.Close()
}

// toPoint builds a point stamped with the event's origin time at nanosecond
// resolution.
func toPoint(measurement string, ev domain.NormalizedEvent) *write.Point {
	tags, fields := pointData(ev)
	return write.NewPoint(measurement, tags, fields, ev.TimeFired)
}

// pointData maps a normalized event onto store tags and fields. Optional
// fields (numeric value, duration, weather) are only written when present so
// null never reaches the store.
func pointData(ev domain.NormalizedEvent) (map[string]string, map[string]any) {
	tags := map[string]string{
		"entity_id":   ev.EntityID,
		"domain":      ev.Domain(),
		"time_of_day": ev.TimeOfDay,
	}
	if ev.Unit != "" {
		tags["unit"] = ev.Unit
	}

	fields := map[string]any{
		"raw_value":        ev.RawValue,
		"changed":          ev.StateChange.Changed,
		"weather_enriched": ev.WeatherEnriched,
		"schema_version":   ev.SchemaVersion,
	}
	if ev.NumericValue != nil {
		fields["value"] = *ev.NumericValue
	}
	if ev.DurationInPreviousStateSeconds != nil {
		fields["duration_in_previous_state_seconds"] = *ev.DurationInPreviousStateSeconds
	}
	if ev.StateChange.From != nil {
		fields["previous_value"] = *ev.StateChange.From
	}
	if ev.Weather != nil {
		fields["weather_temperature_c"] = ev.Weather.TemperatureC
		fields["weather_humidity_pct"] = ev.Weather.HumidityPct
		fields["weather_pressure_hpa"] = ev.Weather.PressureHpa
		fields["weather_wind_speed_ms"] = ev.Weather.WindSpeedMS
		fields["weather_condition"] = ev.Weather.Condition
	}
	return tags, fields
}
