package provider

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Result is a successful chain embedding with provider attribution.
type Result struct {
	Vector   []float32
	Provider string
	Model    string

	// Fallback is true when a non-primary provider answered. The caller
	// must tag the stored record with the provider identity and enqueue
	// a recovery request.
	Fallback bool
}

// Chain tries embedding providers strictly in priority order.
//
// A provider failure (timeout, quota, 5xx) advances to the next
// provider and is never retried in-line; retrying is the dispatcher's
// concern. Permanent content errors abort immediately.
type Chain struct {
	providers []Embedder
	logger    *zap.Logger
	metrics   *Metrics
}

// NewChain creates a provider chain. The first provider is primary.
func NewChain(providers []Embedder, logger *zap.Logger) (*Chain, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: at least one provider required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Chain{
		providers: providers,
		logger:    logger,
		metrics:   NewMetrics(logger),
	}, nil
}

// Primary returns the name of the primary provider.
func (c *Chain) Primary() string {
	return c.providers[0].Name()
}

// Dimension returns the primary provider's embedding dimension.
func (c *Chain) Dimension() int {
	return c.providers[0].Dimension()
}

// Embed tries each provider in order and returns the first success.
func (c *Chain) Embed(ctx context.Context, content string) (*Result, error) {
	return c.embed(ctx, content, c.providers)
}

// EmbedPrimary embeds with the primary provider only. Used by the
// recovery sweeper to upgrade fallback-produced vectors.
func (c *Chain) EmbedPrimary(ctx context.Context, content string) (*Result, error) {
	return c.embed(ctx, content, c.providers[:1])
}

func (c *Chain) embed(ctx context.Context, content string, providers []Embedder) (*Result, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is blank", ErrEmptyContent)
	}

	var lastErr error
	for i, p := range providers {
		start := time.Now()
		vec, err := p.Embed(ctx, content)
		c.metrics.RecordEmbed(ctx, p.Name(), time.Since(start), err)

		if err == nil {
			fallback := i > 0
			if fallback {
				c.metrics.RecordFallback(ctx, p.Name())
				c.logger.Warn("embedding served by fallback provider",
					zap.String("provider", p.Name()),
					zap.NamedError("primary_error", lastErr))
			}
			return &Result{
				Vector:   vec,
				Provider: p.Name(),
				Model:    p.Model(),
				Fallback: fallback,
			}, nil
		}

		if IsPermanent(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chain canceled: %w", ctx.Err())
		}

		c.logger.Warn("provider failed, advancing",
			zap.String("provider", p.Name()),
			zap.Error(err))
		lastErr = err
	}

	return nil, fmt.Errorf("%w: last error: %v", ErrAllProvidersFailed, lastErr)
}
