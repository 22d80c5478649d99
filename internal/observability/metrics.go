package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion pipeline.
type Metrics struct {
	// Hub connection metrics.
	HubConnected       prometheus.Gauge
	HubReconnects      prometheus.Counter
	HubAuthFailures    prometheus.Counter
	EventsReceived     prometheus.Counter
	EventsDropped      prometheus.Counter // receive buffer overflow
	MalformedEnvelopes prometheus.Counter

	// Extraction and processing metrics.
	EventsExtracted    prometheus.Counter
	ExtractErrors      prometheus.Counter
	EventsRejected     prometheus.Counter // validation errors
	ValidationWarnings prometheus.Counter
	EventsNormalized   prometheus.Counter

	// Enrichment metrics.
	WeatherCache       *prometheus.CounterVec // labels: result={hit,miss}
	WeatherFetchErrors prometheus.Counter
	WeatherAPIDuration prometheus.Histogram
	WeatherEnabled     prometheus.Gauge

	// Forwarding / circuit breaker metrics.
	ForwardFailures prometheus.Counter
	BreakerRejected prometheus.Counter
	BreakerState    prometheus.Gauge // 0=closed, 1=half-open, 2=open

	// Batch writer metrics.
	BatchSize       prometheus.Histogram
	FlushDuration   prometheus.Histogram
	BatchesFlushed  prometheus.Counter
	FlushRetries    prometheus.Counter
	BatchesDropped  prometheus.Counter
	PointsWritten   prometheus.Counter
	PipelineRunning prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		HubConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homestream",
			Name:      "hub_connected",
			Help:      "1 while the hub WebSocket subscription is live.",
		}),
		HubReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "hub_reconnects_total",
			Help:      "Total reconnection attempts after a lost hub connection.",
		}),
		HubAuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "hub_auth_failures_total",
			Help:      "Total authentication rejections from the hub.",
		}),
		EventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "events_received_total",
			Help:      "Total event envelopes received from the hub.",
		}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "events_dropped_total",
			Help:      "Events dropped because the receive buffer was full.",
		}),
		MalformedEnvelopes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "malformed_envelopes_total",
			Help:      "Envelopes that could not be decoded.",
		}),
		EventsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "events_extracted_total",
			Help:      "Raw envelopes successfully flattened.",
		}),
		ExtractErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "extract_errors_total",
			Help:      "Envelopes dropped during extraction (e.g. missing new state).",
		}),
		EventsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "events_rejected_total",
			Help:      "Events rejected by validation.",
		}),
		ValidationWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "validation_warnings_total",
			Help:      "Validation warnings on accepted events.",
		}),
		EventsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "events_normalized_total",
			Help:      "Events that passed validation and normalization.",
		}),
		WeatherCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "weather_cache_total",
			Help:      "Weather cache lookups by result.",
		}, []string{"result"}),
		WeatherFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "weather_fetch_errors_total",
			Help:      "Failed weather provider fetches.",
		}),
		WeatherAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homestream",
			Name:      "weather_api_duration_seconds",
			Help:      "Weather provider request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		WeatherEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homestream",
			Name:      "weather_enabled",
			Help:      "1 when weather enrichment is enabled, 0 otherwise.",
		}),
		ForwardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "forward_failures_total",
			Help:      "Hand-offs to the processing stage that failed after retries.",
		}),
		BreakerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "breaker_rejected_total",
			Help:      "Hand-offs rejected immediately by the open circuit breaker.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homestream",
			Name:      "breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homestream",
			Name:      "batch_size",
			Help:      "Number of events per flushed batch.",
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		FlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "homestream",
			Name:      "flush_duration_seconds",
			Help:      "Duration of a store batch write.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		BatchesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "batches_flushed_total",
			Help:      "Batches successfully written to the time-series store.",
		}),
		FlushRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "flush_retries_total",
			Help:      "Retried store writes after a transient flush failure.",
		}),
		BatchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "batches_dropped_total",
			Help:      "Batches dropped after exhausting flush retries.",
		}),
		PointsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "homestream",
			Name:      "points_written_total",
			Help:      "Individual points written to the time-series store.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "homestream",
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.HubConnected,
		m.HubReconnects,
		m.HubAuthFailures,
		m.EventsReceived,
		m.EventsDropped,
		m.MalformedEnvelopes,
		m.EventsExtracted,
		m.ExtractErrors,
		m.EventsRejected,
		m.ValidationWarnings,
		m.EventsNormalized,
		m.WeatherCache,
		m.WeatherFetchErrors,
		m.WeatherAPIDuration,
		m.WeatherEnabled,
		m.ForwardFailures,
		m.BreakerRejected,
		m.BreakerState,
		m.BatchSize,
		m.FlushDuration,
		m.BatchesFlushed,
		m.FlushRetries,
		m.BatchesDropped,
		m.PointsWritten,
		m.PipelineRunning,
	}
}
