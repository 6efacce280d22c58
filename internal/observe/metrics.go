// Package observe wires OpenTelemetry metrics and tracing for rexlive and
// ties them to structured logging and HTTP serving.
//
// Instruments live on [Metrics]. Production code uses [DefaultMetrics],
// backed by the global meter provider that [InitProvider] installs; tests
// build their own with [NewMetrics] over a manual reader.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/rexlive"

// Metrics holds every instrument the session engine records. All fields are
// safe for concurrent use.
type Metrics struct {
	// SessionReconnects counts connection losses that led to a reconnect.
	SessionReconnects metric.Int64Counter

	// SessionActive is 1 while a live connection is up, 0 otherwise.
	SessionActive metric.Int64UpDownCounter

	// ConnectDuration tracks how long establishing a live connection takes.
	ConnectDuration metric.Float64Histogram

	// ToolCalls counts dispatched tool calls by "tool" and "status".
	ToolCalls metric.Int64Counter

	// ToolDuration tracks handler latency by "tool".
	ToolDuration metric.Float64Histogram

	// ConfirmationsPending is the number of tool calls waiting for the user.
	ConfirmationsPending metric.Int64Gauge

	// BargeIns counts mic chunks forwarded while the agent was speaking.
	BargeIns metric.Int64Counter

	// AudioDropped counts mic chunks the gate withheld, by "reason".
	AudioDropped metric.Int64Counter

	// ProviderErrors counts errors reported by the remote service, by
	// "provider" and "kind".
	ProviderErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request latency by "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates all instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SessionReconnects, err = m.Int64Counter("rexlive.session.reconnects",
		metric.WithDescription("Connection losses followed by a reconnect attempt."),
	); err != nil {
		return nil, err
	}
	if met.SessionActive, err = m.Int64UpDownCounter("rexlive.session.active",
		metric.WithDescription("Live connections to the remote service."),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("rexlive.session.connect.duration",
		metric.WithDescription("Time to establish a live connection."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolCalls, err = m.Int64Counter("rexlive.tool.calls",
		metric.WithDescription("Tool calls by tool name and outcome."),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("rexlive.tool.duration",
		metric.WithDescription("Tool handler latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConfirmationsPending, err = m.Int64Gauge("rexlive.confirmation.pending",
		metric.WithDescription("Tool calls waiting for user confirmation."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("rexlive.bargein.total",
		metric.WithDescription("Mic chunks forwarded over agent speech."),
	); err != nil {
		return nil, err
	}
	if met.AudioDropped, err = m.Int64Counter("rexlive.audio.dropped",
		metric.WithDescription("Mic chunks withheld by the barge-in gate."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("rexlive.provider.errors",
		metric.WithDescription("Errors from the remote service by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("rexlive.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on
// [otel.GetMeterProvider]. Call it after [InitProvider].
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

// RecordToolCall counts one tool call and records its duration.
func (m *Metrics) RecordToolCall(ctx context.Context, tool, status string, d time.Duration) {
	m.ToolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	))
	m.ToolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", tool)))
}

// RecordDrop counts one mic chunk withheld for reason.
func (m *Metrics) RecordDrop(ctx context.Context, reason string) {
	m.AudioDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordProviderError counts one error from the remote service.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
	))
}
