// Package observe provides application-wide observability primitives for
// voicebridge: OpenTelemetry metrics, tracing helpers, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// The realtime audio callback never records metrics directly: it bumps plain
// atomic counters, and [Metrics.RegisterAudioStats] exposes them as
// observable counters read only at scrape time.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all voicebridge metrics.
const meterName = "github.com/pdsaudio/voicebridge"

// AudioStats is a snapshot of the realtime engine's diagnostic counters,
// pulled by the observable instruments at collection time.
type AudioStats struct {
	Blocks           uint64
	Swaps            uint64
	DroppedUpdates   uint64
	InputOverflows   uint64
	OutputUnderflows uint64
	ClippedSamples   uint64
}

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	meter metric.Meter

	// --- Latency histograms ---

	// ControlRequestDuration tracks control-channel request handling time.
	// Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	ControlRequestDuration metric.Float64Histogram

	// SpeechDuration tracks cloud speech request latency. Use with attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	SpeechDuration metric.Float64Histogram

	// RestartDuration tracks stream restart latency. Use with attribute:
	//   attribute.String("status", ...)
	RestartDuration metric.Float64Histogram

	// --- Counters ---

	// ParameterUpdates counts filter parameter updates. Use with attribute:
	//   attribute.String("status", ...)
	ParameterUpdates metric.Int64Counter

	// StreamRestarts counts device-pair restarts. Use with attribute:
	//   attribute.String("status", ...)
	StreamRestarts metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks open control-channel connections.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// control-plane and cloud-speech latencies.
var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	// Histograms.
	if met.ControlRequestDuration, err = m.Float64Histogram("voicebridge.control.request.duration",
		metric.WithDescription("Latency of control-channel request handling."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SpeechDuration, err = m.Float64Histogram("voicebridge.speech.duration",
		metric.WithDescription("Latency of cloud speech requests by kind."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.RestartDuration, err = m.Float64Histogram("voicebridge.stream.restart.duration",
		metric.WithDescription("Latency of audio stream restarts."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ParameterUpdates, err = m.Int64Counter("voicebridge.filter.updates",
		metric.WithDescription("Total filter parameter updates by status."),
	); err != nil {
		return nil, err
	}
	if met.StreamRestarts, err = m.Int64Counter("voicebridge.stream.restarts",
		metric.WithDescription("Total stream restarts by status."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveConnections, err = m.Int64UpDownCounter("voicebridge.control.connections",
		metric.WithDescription("Number of open control-channel connections."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("voicebridge.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// RegisterAudioStats exposes the realtime engine's atomic counters as
// observable counters, read by stats only when a scrape collects them. The
// returned registration can be unregistered when the engine goes away.
func (m *Metrics) RegisterAudioStats(stats func() AudioStats) (metric.Registration, error) {
	blocks, err := m.meter.Int64ObservableCounter("voicebridge.audio.blocks",
		metric.WithDescription("Audio blocks processed by the realtime engine."))
	if err != nil {
		return nil, err
	}
	swaps, err := m.meter.Int64ObservableCounter("voicebridge.audio.cascade_swaps",
		metric.WithDescription("Coefficient cascades hot-swapped mid-stream."))
	if err != nil {
		return nil, err
	}
	dropped, err := m.meter.Int64ObservableCounter("voicebridge.audio.updates_dropped",
		metric.WithDescription("Superseded or overflowed cascade updates."))
	if err != nil {
		return nil, err
	}
	overflows, err := m.meter.Int64ObservableCounter("voicebridge.audio.input_overflows",
		metric.WithDescription("Blocks flagged with capture overflow by the driver."))
	if err != nil {
		return nil, err
	}
	underflows, err := m.meter.Int64ObservableCounter("voicebridge.audio.output_underflows",
		metric.WithDescription("Blocks flagged with playback underflow by the driver."))
	if err != nil {
		return nil, err
	}
	clipped, err := m.meter.Int64ObservableCounter("voicebridge.audio.clipped_samples",
		metric.WithDescription("Output samples hard-clipped to the [-1, 1] range."))
	if err != nil {
		return nil, err
	}

	return m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(blocks, int64(s.Blocks))
		o.ObserveInt64(swaps, int64(s.Swaps))
		o.ObserveInt64(dropped, int64(s.DroppedUpdates))
		o.ObserveInt64(overflows, int64(s.InputOverflows))
		o.ObserveInt64(underflows, int64(s.OutputUnderflows))
		o.ObserveInt64(clipped, int64(s.ClippedSamples))
		return nil
	}, blocks, swaps, dropped, overflows, underflows, clipped)
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordControlRequest records one handled control-channel request.
func (m *Metrics) RecordControlRequest(ctx context.Context, action, status string, seconds float64) {
	m.ControlRequestDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

// RecordSpeechRequest records one cloud speech request of the given kind
// (transcribe, tts, chat, voiceToVoice).
func (m *Metrics) RecordSpeechRequest(ctx context.Context, kind, status string, seconds float64) {
	m.SpeechDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordParameterUpdate records a filter parameter update outcome.
func (m *Metrics) RecordParameterUpdate(ctx context.Context, status string) {
	m.ParameterUpdates.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordRestart records a stream restart outcome and its duration.
func (m *Metrics) RecordRestart(ctx context.Context, status string, seconds float64) {
	m.StreamRestarts.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	m.RestartDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
