package cache

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/vectord/internal/cache"

// Metrics holds semantic cache metrics.
type Metrics struct {
	meter     metric.Meter
	logger    *zap.Logger
	lookups   metric.Int64Counter
	evictions metric.Int64Counter
}

// NewMetrics creates a Metrics instance for the cache.
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

	m.lookups, err = m.meter.Int64Counter(
		"vectord.cache.lookups_total",
		metric.WithDescription("Cache lookups by result (hit/miss)"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		m.logger.Warn("failed to create lookups counter", zap.Error(err))
	}

	m.evictions, err = m.meter.Int64Counter(
		"vectord.cache.evictions_total",
		metric.WithDescription("Expired cache entries evicted lazily on lookup"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		m.logger.Warn("failed to create evictions counter", zap.Error(err))
	}
}

// RecordLookup records one cache lookup.
func (m *Metrics) RecordLookup(ctx context.Context, hit bool) {
	if m.lookups == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.lookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordEviction records one lazy eviction.
func (m *Metrics) RecordEviction(ctx context.Context) {
	if m.evictions != nil {
		m.evictions.Add(ctx, 1)
	}
}
