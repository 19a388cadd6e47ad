package recovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/vectord/internal/recovery"

// Metrics holds recovery sweeper metrics.
type Metrics struct {
	meter  metric.Meter
	logger *zap.Logger
	items  metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the recovery sweeper.
func NewMetrics(logger *zap.Logger) *Metrics {
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}

	var err error
	m.items, err = m.meter.Int64Counter(
		"vectord.recovery.items_total",
		metric.WithDescription("Recovery items swept by result (recovered, failed)"),
		metric.WithUnit("{item}"),
	)
	if err != nil {
		m.logger.Warn("failed to create items counter", zap.Error(err))
	}
	return m
}

// RecordSweep records one sweep's outcomes.
func (m *Metrics) RecordSweep(ctx context.Context, st Stats) {
	if m.items == nil {
		return
	}
	if st.Recovered > 0 {
		m.items.Add(ctx, int64(st.Recovered),
			metric.WithAttributes(attribute.String("result", "recovered")))
	}
	if st.Failed > 0 {
		m.items.Add(ctx, int64(st.Failed),
			metric.WithAttributes(attribute.String("result", "failed")))
	}
}
