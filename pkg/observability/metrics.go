// Package observability holds the OpenTelemetry instruments and tracing
// helpers of the event store and its projection runtime.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments recorded by the store.
type Metrics struct {
	// Push path
	PushDuration metric.Float64Histogram
	PushTotal    metric.Int64Counter
	PushErrors   metric.Int64Counter
	PushRetries  metric.Int64Counter

	// Event flow
	EventsAppended      metric.Int64Counter
	SubscriptionDropped metric.Int64Counter
	BusPublishLatency   metric.Float64Histogram

	// Projections
	ProjectionLag    metric.Float64Gauge
	ProjectionErrors metric.Int64Counter
}

// NewMetrics creates all metric instruments on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PushDuration, err = meter.Float64Histogram(
		"eventstore.push.duration",
		metric.WithDescription("Push duration in seconds, retries included"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.duration: %w", err)
	}

	m.PushTotal, err = meter.Int64Counter(
		"eventstore.push.total",
		metric.WithDescription("Total pushes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.total: %w", err)
	}

	m.PushErrors, err = meter.Int64Counter(
		"eventstore.push.errors",
		metric.WithDescription("Total failed pushes"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.errors: %w", err)
	}

	m.PushRetries, err = meter.Int64Counter(
		"eventstore.push.retries",
		metric.WithDescription("Total push attempts retried on transient conflicts"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating push.retries: %w", err)
	}

	m.EventsAppended, err = meter.Int64Counter(
		"eventstore.events.appended",
		metric.WithDescription("Total events appended"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating events.appended: %w", err)
	}

	m.SubscriptionDropped, err = meter.Int64Counter(
		"eventstore.subscription.dropped",
		metric.WithDescription("Events dropped because a subscriber's buffer was full"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating subscription.dropped: %w", err)
	}

	m.BusPublishLatency, err = meter.Float64Histogram(
		"eventstore.bus.publish.duration",
		metric.WithDescription("Out-of-process bridge publish duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating bus.publish.duration: %w", err)
	}

	m.ProjectionLag, err = meter.Float64Gauge(
		"projection.lag",
		metric.WithDescription("Seconds between an event's commit and its processing"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.lag: %w", err)
	}

	m.ProjectionErrors, err = meter.Int64Counter(
		"projection.errors",
		metric.WithDescription("Total projection handler failures"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating projection.errors: %w", err)
	}

	return m, nil
}

// RecordPush records the outcome of one push call.
func (m *Metrics) RecordPush(ctx context.Context, duration time.Duration, events int, err error) {
	ok := attribute.Bool("success", err == nil)
	m.PushTotal.Add(ctx, 1, metric.WithAttributes(ok))
	m.PushDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(ok))
	if err != nil {
		m.PushErrors.Add(ctx, 1)
		return
	}
	m.EventsAppended.Add(ctx, int64(events))
}

// RecordProjectionError counts a handler failure for the named projection.
func (m *Metrics) RecordProjectionError(ctx context.Context, projection string) {
	m.ProjectionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("projection", projection)))
}

// RecordProjectionLag reports how far the named projection trails the
// head of the stream.
func (m *Metrics) RecordProjectionLag(ctx context.Context, projection string, lag time.Duration) {
	m.ProjectionLag.Record(ctx, lag.Seconds(), metric.WithAttributes(attribute.String("projection", projection)))
}
