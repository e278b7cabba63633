// Package observe provides application-wide observability primitives for
// Synchron: OpenTelemetry metrics, distributed tracing, structured logging,
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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Synchron metrics.
const meterName = "github.com/synchronvoice/synchron"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// ConnectDuration tracks how long session establishment takes.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks the lifetime of completed sessions.
	SessionDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// AudioChunksSent counts microphone chunks forwarded to the provider.
	AudioChunksSent metric.Int64Counter

	// AudioBytesSent counts the PCM bytes of those chunks.
	AudioBytesSent metric.Int64Counter

	// AudioChunksReceived counts synthesised audio chunks from the provider.
	AudioChunksReceived metric.Int64Counter

	// AudioBytesReceived counts the PCM bytes of those chunks.
	AudioBytesReceived metric.Int64Counter

	// PlaybackInterruptions counts barge-in events that flushed playback.
	PlaybackInterruptions metric.Int64Counter

	// StopPhraseDetections counts sessions ended by a spoken stop phrase.
	StopPhraseDetections metric.Int64Counter

	// TranscriptFragments counts transcript fragments by speaker. Use with
	// attribute: attribute.String("role", ...)
	TranscriptFragments metric.Int64Counter

	// SessionErrors counts session failures by kind. Use with attribute:
	//   attribute.String("kind", "permission"|"transport")
	SessionErrors metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions (0 or 1 in the
	// single-session CLI, but kept additive for future multi-session use).
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for connection and request latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ConnectDuration, err = m.Float64Histogram("synchron.session.connect.duration",
		metric.WithDescription("Latency of live session establishment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("synchron.session.duration",
		metric.WithDescription("Lifetime of completed live sessions."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("synchron.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Audio flow counters.
	if met.AudioChunksSent, err = m.Int64Counter("synchron.audio.chunks_sent",
		metric.WithDescription("Microphone chunks forwarded to the provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesSent, err = m.Int64Counter("synchron.audio.bytes_sent",
		metric.WithDescription("PCM bytes of forwarded microphone audio."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.AudioChunksReceived, err = m.Int64Counter("synchron.audio.chunks_received",
		metric.WithDescription("Synthesised audio chunks received from the provider."),
	); err != nil {
		return nil, err
	}
	if met.AudioBytesReceived, err = m.Int64Counter("synchron.audio.bytes_received",
		metric.WithDescription("PCM bytes of received synthesised audio."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	// Session event counters.
	if met.PlaybackInterruptions, err = m.Int64Counter("synchron.playback.interruptions",
		metric.WithDescription("Barge-in events that flushed scheduled playback."),
	); err != nil {
		return nil, err
	}
	if met.StopPhraseDetections, err = m.Int64Counter("synchron.stop_phrase.detections",
		metric.WithDescription("Sessions ended by a spoken stop phrase."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptFragments, err = m.Int64Counter("synchron.transcript.fragments",
		metric.WithDescription("Transcript fragments by speaker role."),
	); err != nil {
		return nil, err
	}
	if met.SessionErrors, err = m.Int64Counter("synchron.session.errors",
		metric.WithDescription("Session failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("synchron.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
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

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordAudioSent records one forwarded microphone chunk of the given size.
func (m *Metrics) RecordAudioSent(ctx context.Context, bytes int) {
	m.AudioChunksSent.Add(ctx, 1)
	m.AudioBytesSent.Add(ctx, int64(bytes))
}

// RecordAudioReceived records one received synthesised chunk of the given size.
func (m *Metrics) RecordAudioReceived(ctx context.Context, bytes int) {
	m.AudioChunksReceived.Add(ctx, 1)
	m.AudioBytesReceived.Add(ctx, int64(bytes))
}

// RecordTranscriptFragment records a transcript fragment for a speaker role.
func (m *Metrics) RecordTranscriptFragment(ctx context.Context, role string) {
	m.TranscriptFragments.Add(ctx, 1,
		metric.WithAttributes(attribute.String("role", role)),
	)
}

// RecordSessionError records a session failure of the given kind.
func (m *Metrics) RecordSessionError(ctx context.Context, kind string) {
	m.SessionErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}
