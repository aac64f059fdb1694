// Package observe provides application-wide observability primitives for
// Streamwatch: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Streamwatch metrics.
const meterName = "github.com/MrWong99/streamwatch"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// FrameReadDuration tracks how long fetching one audio frame from the
	// decoder takes, pacing included.
	FrameReadDuration metric.Float64Histogram

	// SessionDuration tracks total wall-clock duration of transcription runs.
	SessionDuration metric.Float64Histogram

	// --- Counters ---

	// FramesSent counts audio frames delivered to the recognition service.
	FramesSent metric.Int64Counter

	// AudioBytesSent counts raw PCM bytes delivered to the recognition
	// service.
	AudioBytesSent metric.Int64Counter

	// Results counts transcription results by finality. Use with attribute:
	//   attribute.Bool("final", ...)
	Results metric.Int64Counter

	// Reconnects counts recognition connection rebuilds.
	Reconnects metric.Int64Counter

	// KeywordAlerts counts raised keyword alerts. Use with attributes:
	//   attribute.String("keyword", ...), attribute.String("match", ...)
	KeywordAlerts metric.Int64Counter

	// --- Error counters ---

	// NotifyErrors counts failed alert deliveries. Use with attribute:
	//   attribute.String("notifier", ...)
	NotifyErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of running transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for frame-level latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets defines histogram bucket boundaries (in seconds) for whole
// transcription runs, which span seconds to hours.
var sessionBuckets = []float64{
	1, 10, 30, 60, 300, 900, 1800, 3600, 7200, 14400,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.FrameReadDuration, err = m.Float64Histogram("streamwatch.frame.read.duration",
		metric.WithDescription("Latency of fetching one paced audio frame from the decoder."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("streamwatch.session.duration",
		metric.WithDescription("Wall-clock duration of transcription runs."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.FramesSent, err = m.Int64Counter("streamwatch.frames.sent",
		metric.WithDescription("Total audio frames delivered to the recognition service."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("streamwatch.audio.bytes.sent",
		metric.WithDescription("Total raw PCM bytes delivered to the recognition service."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.Results, err = m.Int64Counter("streamwatch.results",
		metric.WithDescription("Total transcription results by finality."),
	); err != nil {
		return nil, err
	}
	if met.Reconnects, err = m.Int64Counter("streamwatch.reconnects",
		metric.WithDescription("Total recognition connection rebuilds."),
	); err != nil {
		return nil, err
	}
	if met.KeywordAlerts, err = m.Int64Counter("streamwatch.keyword.alerts",
		metric.WithDescription("Total keyword alerts by keyword and match type."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.NotifyErrors, err = m.Int64Counter("streamwatch.notify.errors",
		metric.WithDescription("Total failed alert deliveries by notifier."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("streamwatch.active_sessions",
		metric.WithDescription("Number of running transcription sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("streamwatch.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordFrameRead records the latency of fetching one audio frame from the
// decoder, pacing included.
func (m *Metrics) RecordFrameRead(ctx context.Context, d time.Duration) {
	m.FrameReadDuration.Record(ctx, d.Seconds())
}

// RecordFrameSent records one delivered audio frame of the given size.
func (m *Metrics) RecordFrameSent(ctx context.Context, bytes int) {
	m.FramesSent.Add(ctx, 1)
	m.AudioBytesSent.Add(ctx, int64(bytes))
}

// RecordResult records one received transcription result.
func (m *Metrics) RecordResult(ctx context.Context, final bool) {
	m.Results.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("final", final)),
	)
}

// RecordKeywordAlert records one raised keyword alert with the standard
// attribute set.
func (m *Metrics) RecordKeywordAlert(ctx context.Context, keyword, match string) {
	m.KeywordAlerts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("keyword", keyword),
			attribute.String("match", match),
		),
	)
}

// RecordNotifyError records one failed alert delivery.
func (m *Metrics) RecordNotifyError(ctx context.Context, notifier string) {
	m.NotifyErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("notifier", notifier)),
	)
}
