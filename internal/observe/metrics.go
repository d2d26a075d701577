// Package observe provides application-wide observability primitives for
// micscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped from
// the private Prometheus registry built by [Setup]. Tests build [Metrics]
// with [NewMetrics] over a ManualReader provider.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all micscribe metrics.
const meterName = "github.com/MrWong99/micscribe"

// Dispatch outcome labels recorded on [Metrics.SegmentsDispatched].
const (
	DispatchFinal     = "final"
	DispatchEmpty     = "empty"
	DispatchError     = "error"
	DispatchClipError = "clip_error"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks per-clip transcription latency.
	TranscriptionDuration metric.Float64Histogram

	// SegmentAudioDuration tracks the audio length of each cut segment.
	SegmentAudioDuration metric.Float64Histogram

	// --- Counters ---

	// SegmentsCut counts segments emitted by the accumulator. Use with attribute:
	//   attribute.String("trigger", "max_duration"|"silence_timeout")
	SegmentsCut metric.Int64Counter

	// SegmentsDispatched counts dispatch outcomes. Use with attribute:
	//   attribute.String("status", DispatchFinal|DispatchEmpty|DispatchError|DispatchClipError)
	SegmentsDispatched metric.Int64Counter

	// EventsWritten counts events appended to the log. Use with attribute:
	//   attribute.String("etype", ...)
	EventsWritten metric.Int64Counter

	// FramesDropped counts device blocks dropped because the queue was full.
	FramesDropped metric.Int64Counter

	// ProviderRequests counts transcriber calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("state", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts transcriber errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// EventWriteErrors counts failed event appends. Use with attribute:
	//   attribute.String("sink", ...)
	EventWriteErrors metric.Int64Counter

	// --- Gauges ---

	// RecordingActive is 1 while a recording is in progress and 0 otherwise.
	RecordingActive metric.Int64UpDownCounter

	// TimelineSubscribers tracks connected /timeline WebSocket clients.
	TimelineSubscribers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time, labelled by
	// method, mux route and status.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// batch transcription of clips a few seconds long.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 10, 30, 60,
}

// segmentBuckets covers clip lengths between the minimum and a few times the
// maximum segment duration.
var segmentBuckets = []float64{
	0.5, 1, 1.5, 2, 2.5, 3, 3.5, 4, 6,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("micscribe.transcription.duration",
		metric.WithDescription("Latency of transcribing one segment clip."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SegmentAudioDuration, err = m.Float64Histogram("micscribe.segment.audio_duration",
		metric.WithDescription("Audio length of each cut segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(segmentBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SegmentsCut, err = m.Int64Counter("micscribe.segments.cut",
		metric.WithDescription("Total segments cut by trigger."),
	); err != nil {
		return nil, err
	}
	if met.SegmentsDispatched, err = m.Int64Counter("micscribe.segments.dispatched",
		metric.WithDescription("Total dispatched segments by outcome."),
	); err != nil {
		return nil, err
	}
	if met.EventsWritten, err = m.Int64Counter("micscribe.events.written",
		metric.WithDescription("Total events appended to the event log by type."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("micscribe.frames.dropped",
		metric.WithDescription("Total audio blocks dropped because the frame queue was full."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("micscribe.provider.requests",
		metric.WithDescription("Total transcriber requests by provider and status."),
	); err != nil {
		return nil, err
	}

	if met.BreakerTransitions, err = m.Int64Counter("micscribe.provider.breaker_transitions",
		metric.WithDescription("Total circuit breaker state changes by provider and new state."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("micscribe.provider.errors",
		metric.WithDescription("Total transcriber errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.EventWriteErrors, err = m.Int64Counter("micscribe.events.write_errors",
		metric.WithDescription("Total failed event appends by sink."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.RecordingActive, err = m.Int64UpDownCounter("micscribe.recording.active",
		metric.WithDescription("1 while audio recording is active."),
	); err != nil {
		return nil, err
	}
	if met.TimelineSubscribers, err = m.Int64UpDownCounter("micscribe.timeline.subscribers",
		metric.WithDescription("Number of connected timeline WebSocket clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("micscribe.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordBreakerTransition records a provider's circuit breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("state", state),
		),
	)
}

// RecordSegmentCut records one cut segment, its trigger, and its audio length.
func (m *Metrics) RecordSegmentCut(ctx context.Context, trigger string, seconds float64) {
	m.SegmentsCut.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger", trigger)))
	m.SegmentAudioDuration.Record(ctx, seconds)
}

// RecordDispatch records the outcome of dispatching one segment.
func (m *Metrics) RecordDispatch(ctx context.Context, status string) {
	m.SegmentsDispatched.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordEventWritten records one successfully appended event.
func (m *Metrics) RecordEventWritten(ctx context.Context, etype string) {
	m.EventsWritten.Add(ctx, 1, metric.WithAttributes(attribute.String("etype", etype)))
}

// RecordEventWriteError records one failed append to the named sink.
func (m *Metrics) RecordEventWriteError(ctx context.Context, sink string) {
	m.EventWriteErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}
