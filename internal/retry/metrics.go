package retry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/vectord/internal/retry"

// Metrics holds retry scheduler metrics.
type Metrics struct {
	meter        metric.Meter
	logger       *zap.Logger
	scheduled    metric.Int64Counter
	attempts     metric.Int64Counter
	deadLettered metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the retry scheduler.
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

	m.scheduled, err = m.meter.Int64Counter(
		"vectord.retry.scheduled_total",
		metric.WithDescription("Retry envelopes persisted"),
		metric.WithUnit("{envelope}"),
	)
	if err != nil {
		m.logger.Warn("failed to create scheduled counter", zap.Error(err))
	}

	m.attempts, err = m.meter.Int64Counter(
		"vectord.retry.attempts_total",
		metric.WithDescription("Retry attempts by result (recovered, failed)"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		m.logger.Warn("failed to create attempts counter", zap.Error(err))
	}

	m.deadLettered, err = m.meter.Int64Counter(
		"vectord.retry.dead_lettered_total",
		metric.WithDescription("Tasks moved to the dead-letter queue"),
		metric.WithUnit("{task}"),
	)
	if err != nil {
		m.logger.Warn("failed to create dead-lettered counter", zap.Error(err))
	}
}

// RecordScheduled records one persisted envelope.
func (m *Metrics) RecordScheduled(ctx context.Context) {
	if m.scheduled != nil {
		m.scheduled.Add(ctx, 1)
	}
}

// RecordAttempt records one retry attempt result.
func (m *Metrics) RecordAttempt(ctx context.Context, result string) {
	if m.attempts != nil {
		m.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	}
}

// RecordDeadLettered records one dead-lettered task.
func (m *Metrics) RecordDeadLettered(ctx context.Context) {
	if m.deadLettered != nil {
		m.deadLettered.Add(ctx, 1)
	}
}
