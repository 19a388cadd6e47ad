package recovery

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/provider"
	"github.com/fyrsmithlabs/vectord/internal/vector"
)

// TenantLister enumerates the tenants to sweep. Implemented by the
// tenant registry.
type TenantLister interface {
	ListTenants(ctx context.Context) ([]string, error)
}

// ContentSource resolves content by id for items that carry none,
// such as fallback records whose enqueue was lost. Same shape as the
// dispatcher's content source.
type ContentSource interface {
	Resolve(ctx context.Context, tenant, contentID string) (string, error)
}

// Config holds recovery sweeper configuration.
type Config struct {
	// Interval between sweeps. Default: 5m.
	Interval time.Duration

	// BatchSize bounds upgrades per tenant per sweep, limiting provider
	// spend right after an outage ends. Default: 50.
	BatchSize int

	// MaxAttempts is how many failed upgrades an item survives before
	// it is marked exhausted and skipped by later sweeps. The stored
	// fallback vector remains usable. Default: 10.
	MaxAttempts int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval == 0 {
		c.Interval = 5 * time.Minute
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 10
	}
}

// Stats summarizes one sweep.
type Stats struct {
	Found     int
	Recovered int
	Failed    int
}

// Sweeper periodically re-embeds fallback-produced vectors with the
// primary provider and overwrites the stored records in place.
type Sweeper struct {
	store   *vector.Store
	chain   *provider.Chain
	queue   *Queue
	tenants TenantLister
	source  ContentSource
	config  Config
	logger  *zap.Logger
	metrics *Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// SweeperOption configures optional sweeper collaborators.
type SweeperOption func(*Sweeper)

// WithContentSource lets the sweeper re-resolve content for items that
// did not capture any at enqueue time.
func WithContentSource(source ContentSource) SweeperOption {
	return func(s *Sweeper) {
		s.source = source
	}
}

// NewSweeper creates a recovery sweeper.
func NewSweeper(store *vector.Store, chain *provider.Chain, queue *Queue, tenants TenantLister, config Config, logger *zap.Logger, opts ...SweeperOption) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("recovery: vector store is required")
	}
	if chain == nil {
		return nil, fmt.Errorf("recovery: provider chain is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("recovery: queue is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("recovery: tenant lister is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	s := &Sweeper{
		store:   store,
		chain:   chain,
		queue:   queue,
		tenants: tenants,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Sweep runs one recovery pass over every tenant.
func (s *Sweeper) Sweep(ctx context.Context) (Stats, error) {
	tenants, err := s.tenants.ListTenants(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("recovery: listing tenants: %w", err)
	}

	var total Stats
	for _, tenant := range tenants {
		st, err := s.SweepTenant(ctx, tenant)
		total.Found += st.Found
		total.Recovered += st.Recovered
		total.Failed += st.Failed
		if err != nil {
			s.logger.Warn("tenant sweep failed",
				zap.String("tenant", tenant),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
	}
	return total, nil
}

// SweepTenant upgrades up to BatchSize of a tenant's fallback vectors.
//
// Targets are the union of the queue and a scan of stored records whose
// provider is not the primary; the scan catches vectors whose enqueue
// was lost. Items without captured content are re-resolved through the
// content source when one is configured; otherwise they fail and
// accumulate attempts like any other item. Exhausted items are skipped.
func (s *Sweeper) SweepTenant(ctx context.Context, tenant string) (Stats, error) {
	var st Stats
	primary := s.chain.Primary()

	pending, err := s.queue.List(ctx, tenant)
	if err != nil {
		return st, err
	}
	queued := make(map[string]Pending, len(pending))
	for _, p := range pending {
		queued[p.ContentID] = p
	}

	metas, err := s.store.ListFallback(ctx, tenant, primary)
	if err != nil {
		return st, err
	}
	for _, m := range metas {
		if _, ok := queued[m.ID]; !ok {
			queued[m.ID] = Pending{ContentID: m.ID}
		}
	}

	upgraded := 0
	for id, p := range queued {
		if p.Exhausted {
			continue
		}
		st.Found++
		if upgraded >= s.config.BatchSize {
			continue
		}
		if err := s.recoverOne(ctx, tenant, p); err != nil {
			st.Failed++
			s.handleFailure(ctx, tenant, p, err)
			if provider.IsPermanent(err) {
				continue
			}
			// The primary is likely still down; stop burning the batch.
			break
		}
		st.Recovered++
		upgraded++
		if err := s.queue.Remove(ctx, tenant, id); err != nil {
			s.logger.Warn("removing recovered item failed",
				zap.String("content_id", id),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return st, ctx.Err()
		}
	}

	s.metrics.RecordSweep(ctx, st)
	if st.Found > 0 {
		s.logger.Info("recovery sweep",
			zap.String("tenant", tenant),
			zap.Int("found", st.Found),
			zap.Int("recovered", st.Recovered),
			zap.Int("failed", st.Failed))
	}
	return st, nil
}

// recoverOne re-embeds one item with the primary provider and
// overwrites the stored record.
func (s *Sweeper) recoverOne(ctx context.Context, tenant string, p Pending) error {
	content := p.Content
	var importance float64

	rec, err := s.store.Get(ctx, tenant, p.ContentID)
	if err == nil {
		importance = rec.Importance
		if rec.Provider == s.chain.Primary() {
			// Already upgraded, likely by a concurrent re-embed.
			return nil
		}
	}

	if content == "" && s.source != nil {
		resolved, err := s.source.Resolve(ctx, tenant, p.ContentID)
		if err != nil {
			return fmt.Errorf("resolving content for %s: %w", p.ContentID, err)
		}
		content = resolved
	}
	if content == "" {
		return fmt.Errorf("%w: no content available for %s", provider.ErrEmptyContent, p.ContentID)
	}

	res, err := s.chain.EmbedPrimary(ctx, content)
	if err != nil {
		return err
	}

	return s.store.Put(ctx, vector.Record{
		Metadata: vector.Metadata{
			ID:         p.ContentID,
			Tenant:     tenant,
			Provider:   res.Provider,
			Model:      res.Model,
			Source:     vector.SourceProvider,
			Importance: importance,
		},
		Vector: res.Vector,
	})
}

// handleFailure records a failed upgrade. Items that exhaust their
// attempts keep a queue entry flagged exhausted so the record scan
// does not resurrect them with a fresh count; the fallback vector
// stays in the store either way.
func (s *Sweeper) handleFailure(ctx context.Context, tenant string, p Pending, cause error) {
	p.Attempts++
	p.LastError = cause.Error()
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now().UTC()
	}
	if p.Attempts >= s.config.MaxAttempts {
		p.Exhausted = true
		s.logger.Warn("recovery item exhausted, keeping fallback vector",
			zap.String("tenant", tenant),
			zap.String("content_id", p.ContentID),
			zap.Int("attempts", p.Attempts),
			zap.Error(cause))
	}
	if err := s.queue.Update(ctx, tenant, p); err != nil {
		s.logger.Warn("recording recovery failure failed", zap.Error(err))
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()

		s.logger.Info("recovery sweep loop started",
			zap.Duration("interval", s.config.Interval))

		for {
			select {
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Warn("recovery sweep failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.logger.Info("recovery sweep loop stopped")
}
