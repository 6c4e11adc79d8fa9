// Package observe provides application-wide observability primitives for
// Sightline: OpenTelemetry metrics and the provider initialisation that
// bridges them to a Prometheus /metrics endpoint.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A package-level
// default [Metrics] instance ([DefaultMetrics]) is provided for convenience;
// tests should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sightline metrics.
const meterName = "github.com/Veri5ied/sightline"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// SessionsOpened counts upstream sessions successfully established.
	SessionsOpened metric.Int64Counter

	// SessionsClosed counts session teardowns. Use with attribute:
	//   attribute.String("by", "local"|"upstream")
	SessionsClosed metric.Int64Counter

	// WireMessages counts inbound wire messages by type tag.
	WireMessages metric.Int64Counter

	// BridgeErrors counts contained bridge failures surfaced as live.error.
	BridgeErrors metric.Int64Counter

	// FramesEmitted counts camera frames the scene-change gate let through.
	FramesEmitted metric.Int64Counter

	// FramesSuppressed counts camera frames the scene-change gate dropped
	// as visually redundant.
	FramesSuppressed metric.Int64Counter

	// ChunksScheduled counts audio chunks handed to the playback output.
	ChunksScheduled metric.Int64Counter

	// PlaybackStops counts full playback teardowns (interrupt, close, or
	// decode failure).
	PlaybackStops metric.Int64Counter

	// AutoObservations counts auto-observation prompts actually sent.
	AutoObservations metric.Int64Counter

	// ConnectDuration tracks the upstream session handshake latency.
	ConnectDuration metric.Float64Histogram

	// ActiveChannels tracks the number of connected client channels.
	ActiveChannels metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for realtime handshake latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionsOpened, err = m.Int64Counter("sightline.sessions.opened",
		metric.WithDescription("Total upstream sessions successfully established."),
	); err != nil {
		return nil, err
	}
	if met.SessionsClosed, err = m.Int64Counter("sightline.sessions.closed",
		metric.WithDescription("Total session teardowns by initiator."),
	); err != nil {
		return nil, err
	}
	if met.WireMessages, err = m.Int64Counter("sightline.wire.messages",
		metric.WithDescription("Total inbound wire messages by type."),
	); err != nil {
		return nil, err
	}
	if met.BridgeErrors, err = m.Int64Counter("sightline.bridge.errors",
		metric.WithDescription("Total contained bridge failures surfaced as live.error."),
	); err != nil {
		return nil, err
	}
	if met.FramesEmitted, err = m.Int64Counter("sightline.gate.frames_emitted",
		metric.WithDescription("Total camera frames emitted by the scene-change gate."),
	); err != nil {
		return nil, err
	}
	if met.FramesSuppressed, err = m.Int64Counter("sightline.gate.frames_suppressed",
		metric.WithDescription("Total camera frames suppressed as visually redundant."),
	); err != nil {
		return nil, err
	}
	if met.ChunksScheduled, err = m.Int64Counter("sightline.playback.chunks_scheduled",
		metric.WithDescription("Total audio chunks scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackStops, err = m.Int64Counter("sightline.playback.stops",
		metric.WithDescription("Total full playback teardowns."),
	); err != nil {
		return nil, err
	}
	if met.AutoObservations, err = m.Int64Counter("sightline.autoobserve.sent",
		metric.WithDescription("Total auto-observation prompts sent."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("sightline.session.connect.duration",
		metric.WithDescription("Upstream session handshake latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveChannels, err = m.Int64UpDownCounter("sightline.active_channels",
		metric.WithDescription("Number of connected client channels."),
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

// SessionOpened records one successful upstream session establishment.
func (m *Metrics) SessionOpened(ctx context.Context) {
	m.SessionsOpened.Add(ctx, 1)
}

// SessionClosed records one session teardown. by is "local" for
// bridge-initiated closes and "upstream" for provider-initiated ones.
func (m *Metrics) SessionClosed(ctx context.Context, by string) {
	m.SessionsClosed.Add(ctx, 1, metric.WithAttributes(attribute.String("by", by)))
}

// WireMessage records one inbound wire message by type tag.
func (m *Metrics) WireMessage(ctx context.Context, tag string) {
	m.WireMessages.Add(ctx, 1, metric.WithAttributes(attribute.String("type", tag)))
}

// BridgeError records one contained bridge failure.
func (m *Metrics) BridgeError(ctx context.Context) {
	m.BridgeErrors.Add(ctx, 1)
}
