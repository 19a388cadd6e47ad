package dispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/vectord/internal/dispatch"

// Metrics holds dispatcher metrics.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	events   metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetrics creates a Metrics instance for the dispatcher.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.events, err = m.meter.Int64Counter(
		"vectord.dispatch.events_total",
		metric.WithDescription("Events handled by outcome (completed, duplicate, skipped, failed_transient, failed_permanent, malformed)"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		m.logger.Warn("failed to create events counter", zap.Error(err))
	}

	m.duration, err = m.meter.Float64Histogram(
		"vectord.dispatch.handle_duration_seconds",
		metric.WithDescription("End-to-end event handling duration"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}
}

// RecordEvent records one handled event.
func (m *Metrics) RecordEvent(ctx context.Context, outcome string, duration time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	if m.events != nil {
		m.events.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, duration.Seconds(), attrs)
	}
}
