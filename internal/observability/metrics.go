package observability

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the bridge's metrics, organised by the golden signals:
// latency of the external calls, traffic through both stages, errors by
// stage and kind, and saturation of in-flight messages and the notifier.
//
// All Record methods are no-ops on a nil *Metrics.
type Metrics struct {
	meter metric.Meter

	// HTTP metrics
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Pipeline metrics
	DispatchedTotal       metric.Int64Counter
	InvalidEnvelopesTotal metric.Int64Counter
	RetriesScheduledTotal metric.Int64Counter
	TerminalTotal         metric.Int64Counter
	TransientErrorsTotal  metric.Int64Counter
	InvokeDuration        metric.Float64Histogram
	InspectDuration       metric.Float64Histogram
	InFlight              metric.Int64UpDownCounter

	// Exhaustion notifier metrics
	NotificationsTotal metric.Int64Counter
	NotifyDuration     metric.Float64Histogram
	NotifyQueueSize    metric.Int64Gauge
}

// NewMetrics creates all metrics on a dedicated Prometheus registry and
// returns the handler serving it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := promclient.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("lambdabridge")
	m := &Metrics{meter: meter}

	// HTTP metrics
	if m.HTTPRequestDuration, err = meter.Float64Histogram(
		"bridge_http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPRequestsTotal, err = meter.Int64Counter(
		"bridge_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	); err != nil {
		return nil, nil, err
	}
	if m.HTTPErrorsTotal, err = meter.Int64Counter(
		"bridge_http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	); err != nil {
		return nil, nil, err
	}

	// Pipeline metrics
	if m.DispatchedTotal, err = meter.Int64Counter(
		"bridge_dispatched_total",
		metric.WithDescription("Trigger events invoked and scheduled for verification"),
	); err != nil {
		return nil, nil, err
	}
	if m.InvalidEnvelopesTotal, err = meter.Int64Counter(
		"bridge_invalid_envelopes_total",
		metric.WithDescription("Messages acknowledged without processing because the envelope is invalid"),
	); err != nil {
		return nil, nil, err
	}
	if m.RetriesScheduledTotal, err = meter.Int64Counter(
		"bridge_retries_scheduled_total",
		metric.WithDescription("Trigger events republished after failure evidence"),
	); err != nil {
		return nil, nil, err
	}
	if m.TerminalTotal, err = meter.Int64Counter(
		"bridge_terminal_total",
		metric.WithDescription("Events that reached a terminal state, by outcome"),
	); err != nil {
		return nil, nil, err
	}
	if m.TransientErrorsTotal, err = meter.Int64Counter(
		"bridge_transient_errors_total",
		metric.WithDescription("Messages left for redelivery after an infrastructure error"),
	); err != nil {
		return nil, nil, err
	}
	if m.InvokeDuration, err = meter.Float64Histogram(
		"bridge_invoke_duration_seconds",
		metric.WithDescription("Lambda Invoke latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, nil, err
	}
	if m.InspectDuration, err = meter.Float64Histogram(
		"bridge_inspect_duration_seconds",
		metric.WithDescription("CloudWatch Logs inspection latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15),
	); err != nil {
		return nil, nil, err
	}
	if m.InFlight, err = meter.Int64UpDownCounter(
		"bridge_messages_in_flight",
		metric.WithDescription("Messages currently being processed (saturation)"),
	); err != nil {
		return nil, nil, err
	}

	// Notifier metrics
	if m.NotificationsTotal, err = meter.Int64Counter(
		"bridge_notifications_total",
		metric.WithDescription("Exhaustion notifications by result"),
	); err != nil {
		return nil, nil, err
	}
	if m.NotifyDuration, err = meter.Float64Histogram(
		"bridge_notify_duration_seconds",
		metric.WithDescription("Exhaustion webhook delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, nil, err
	}
	if m.NotifyQueueSize, err = meter.Int64Gauge(
		"bridge_notify_queue_size",
		metric.WithDescription("Notifications waiting for delivery (saturation)"),
	); err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordDispatched records a trigger that was invoked and scheduled for verification.
func (m *Metrics) RecordDispatched(ctx context.Context, retryIndex uint, invokeSeconds float64) {
	if m == nil {
		return
	}
	m.DispatchedTotal.Add(ctx, 1, metric.WithAttributes(retryAttr(retryIndex)))
	m.InvokeDuration.Record(ctx, invokeSeconds)
}

// RecordInspection records an outcome query.
func (m *Metrics) RecordInspection(ctx context.Context, seconds float64) {
	if m == nil {
		return
	}
	m.InspectDuration.Record(ctx, seconds)
}

// RecordInvalidEnvelope records a poison message that was acknowledged.
func (m *Metrics) RecordInvalidEnvelope(ctx context.Context, stage string) {
	if m == nil {
		return
	}
	m.InvalidEnvelopesTotal.Add(ctx, 1, metric.WithAttributes(stageAttr(stage)))
}

// RecordRetryScheduled records a republished trigger at its new retry index.
func (m *Metrics) RecordRetryScheduled(ctx context.Context, retryIndex uint) {
	if m == nil {
		return
	}
	m.RetriesScheduledTotal.Add(ctx, 1, metric.WithAttributes(retryAttr(retryIndex)))
}

// RecordTerminal records an event leaving the pipeline.
func (m *Metrics) RecordTerminal(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.TerminalTotal.Add(ctx, 1, metric.WithAttributes(outcomeAttr(outcome)))
}

// RecordTransientError records a message left for redelivery.
// kind is the failing dependency: invoke, inspect, publish or ack.
func (m *Metrics) RecordTransientError(ctx context.Context, stage, kind string) {
	if m == nil {
		return
	}
	m.TransientErrorsTotal.Add(ctx, 1, metric.WithAttributes(stageAttr(stage), kindAttr(kind)))
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight(ctx context.Context, stage string) func() {
	if m == nil {
		return func() {}
	}
	attrs := metric.WithAttributes(stageAttr(stage))
	m.InFlight.Add(ctx, 1, attrs)
	return func() { m.InFlight.Add(ctx, -1, attrs) }
}

// RecordNotification records the result of an exhaustion notification.
func (m *Metrics) RecordNotification(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(result)))
}

// RecordNotifyDelivered records a delivered webhook with its duration.
func (m *Metrics) RecordNotifyDelivered(ctx context.Context, durationSeconds float64) {
	if m == nil {
		return
	}
	m.NotificationsTotal.Add(ctx, 1, metric.WithAttributes(resultAttr(ResultDelivered)))
	m.NotifyDuration.Record(ctx, durationSeconds)
}

// RecordNotifyQueueSize records the current notifier queue depth.
func (m *Metrics) RecordNotifyQueueSize(ctx context.Context, size int64) {
	if m == nil {
		return
	}
	m.NotifyQueueSize.Record(ctx, size)
}
