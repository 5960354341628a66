// Package metrics exposes the connector's Prometheus metrics.
//
// All collectors live on a Metrics value registered against a caller supplied
// registerer, so tests can use a fresh prometheus.NewRegistry() each time and
// the binary can share one registry with the /metrics endpoint.
//
// # Basic Usage
//
//	reg := prometheus.NewRegistry()
//	m := metrics.NewMetrics(reg)
//
//	m.PagesFetched.Inc()
//	m.EventsForwarded.Add(float64(len(batch)))
//
//	timer := metrics.NewTimer("push")
//	err := sink.Push(ctx, batch)
//	m.PushDuration.Observe(timer.Stop().Seconds())
//
// # Metric Types
//
// Counter: Monotonically increasing values (e.g., total events forwarded)
// Gauge: Values that can go up or down (e.g., current watermark)
// Histogram: Distribution of values (e.g., push latency)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "withsecure_connector"

// Metrics holds the connector's collectors.
type Metrics struct {
	// PagesFetched counts pages received from the events API, empty ones included.
	PagesFetched prometheus.Counter
	// EmptyPageWaits counts pauses after an empty page that still had a cursor.
	EmptyPageWaits prometheus.Counter
	// FetchErrors counts failed page requests.
	// Labels: status (HTTP status code, or "transport" when no response was read)
	FetchErrors *prometheus.CounterVec

	// EventsForwarded counts events accepted by the sink.
	EventsForwarded prometheus.Counter
	// SerializationErrors counts events dropped because they could not be encoded.
	SerializationErrors prometheus.Counter
	// PushErrors counts batches the sink rejected.
	PushErrors prometheus.Counter
	// PushDuration tracks the wall time of Sink.Push in seconds.
	PushDuration prometheus.Histogram

	// CycleDuration tracks the wall time of a fetch-and-forward cycle.
	// Labels: result (success/failure)
	CycleDuration *prometheus.HistogramVec
	// Watermark is the persisted watermark as a unix timestamp.
	Watermark prometheus.Gauge

	// HTTPRequests counts outgoing HTTP requests.
	// Labels: host, code
	HTTPRequests *prometheus.CounterVec
	// HTTPRequestDuration tracks outgoing request latencies in seconds.
	// Labels: host
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PagesFetched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pages_fetched_total",
			Help:      "Total number of event pages fetched",
		}),
		EmptyPageWaits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "empty_page_waits_total",
			Help:      "Total number of waits after an empty page with a continuation cursor",
		}),
		FetchErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "fetch_errors_total",
			Help:      "Total number of failed page requests",
		}, []string{"status"}),
		EventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "events_forwarded_total",
			Help:      "Total number of events forwarded to the sink",
		}),
		SerializationErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "serialization_errors_total",
			Help:      "Total number of events dropped because they could not be serialized",
		}),
		PushErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "push_errors_total",
			Help:      "Total number of batches rejected by the sink",
		}),
		PushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "push_duration_seconds",
			Help:      "Time spent pushing a batch to the sink",
			Buckets: []float64{
				0.01, // local sinks
				0.05,
				0.1,
				0.5, // typical intake round trip
				1,
				5,
				30, // intake timeout
			},
		}),
		CycleDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Time spent in one fetch-and-forward cycle",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"result"}),
		Watermark: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "watermark_timestamp_seconds",
			Help:      "Persisted watermark as a unix timestamp",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of outgoing HTTP requests",
		}, []string{"host", "code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Outgoing HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
	}
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
// The name parameter is for identification in logs or traces.
//
// Example:
//
//	timer := metrics.NewTimer("push")
//	err := sink.Push(ctx, batch)
//	logger.Info("pushed", zap.Duration("duration", timer.Stop()))
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer's label.
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called
// multiple times.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
