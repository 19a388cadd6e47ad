package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// ConsumerConfig holds configuration for the stream consumer.
type ConsumerConfig struct {
	// Tenants are the tenant streams to consume.
	Tenants []string

	// Queue is the competing-consumers group name; multiple dispatcher
	// instances sharing it split the load without double-processing.
	// Default: "vectord"
	Queue string

	// MaxInFlight bounds concurrently processed tasks. Default: 10.
	MaxInFlight int64

	// StreamPrefix names per-tenant streams: {prefix}_{TENANT}.
	// Default: "EVENTS"
	StreamPrefix string
}

// ApplyDefaults sets default values for unset fields.
func (c *ConsumerConfig) ApplyDefaults() {
	if c.Queue == "" {
		c.Queue = "vectord"
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = 10
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = "EVENTS"
	}
}

// Validate validates the configuration.
func (c ConsumerConfig) Validate() error {
	if len(c.Tenants) == 0 {
		return fmt.Errorf("consumer: at least one tenant is required")
	}
	if c.MaxInFlight < 0 {
		return fmt.Errorf("consumer: max in-flight must be positive")
	}
	return nil
}

// EventSubject returns the subject carrying a tenant's creation events.
func EventSubject(tenant string) string {
	return "events." + tenant + ".content"
}

// Consumer reads creation events from per-tenant JetStream streams and
// feeds them to the dispatcher with bounded concurrency.
//
// Events within one tenant's stream are delivered in stream order, but
// completion order across in-flight tasks is not guaranteed; this is
// safe because record writes are idempotent overwrites keyed by
// content id.
type Consumer struct {
	js         nats.JetStreamContext
	dispatcher *Dispatcher
	config     ConsumerConfig
	logger     *zap.Logger

	sem  *semaphore.Weighted
	subs []*nats.Subscription
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewConsumer creates a stream consumer.
func NewConsumer(js nats.JetStreamContext, dispatcher *Dispatcher, config ConsumerConfig, logger *zap.Logger) (*Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("consumer: JetStream context is required")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("consumer: dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Consumer{
		js:         js,
		dispatcher: dispatcher,
		config:     config,
		logger:     logger,
		sem:        semaphore.NewWeighted(config.MaxInFlight),
	}, nil
}

// streamName derives the per-tenant stream name.
func (c *Consumer) streamName(tenant string) string {
	return c.config.StreamPrefix + "_" + strings.ToUpper(tenant)
}

// durableName derives the durable consumer name for a tenant. Group
// offset tracking lives with the durable, so restarts resume where the
// group left off.
func (c *Consumer) durableName(tenant string) string {
	return c.config.Queue + "_" + tenant
}

// ensureStream creates a tenant's event stream if it does not exist.
func (c *Consumer) ensureStream(tenant string) error {
	name := c.streamName(tenant)
	_, err := c.js.StreamInfo(name)
	if err == nil {
		return nil
	}

	_, err = c.js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{EventSubject(tenant)},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("consumer: creating stream %s: %w", name, err)
	}

	c.logger.Info("event stream created",
		zap.String("stream", name),
		zap.String("subject", EventSubject(tenant)))
	return nil
}

// Start subscribes to every tenant stream. Processing stops when ctx
// is canceled; tasks in flight at that point are abandoned
// unacknowledged and redelivered on restart.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("consumer: already started")
	}

	for _, tenant := range c.config.Tenants {
		if err := c.ensureStream(tenant); err != nil {
			return err
		}

		tenant := tenant
		sub, err := c.js.QueueSubscribe(
			EventSubject(tenant),
			c.config.Queue,
			func(msg *nats.Msg) { c.handleMsg(ctx, tenant, msg) },
			nats.Durable(c.durableName(tenant)),
			nats.ManualAck(),
			nats.AckExplicit(),
			nats.MaxAckPending(int(c.config.MaxInFlight)),
		)
		if err != nil {
			return fmt.Errorf("consumer: subscribing to %s: %w", EventSubject(tenant), err)
		}
		c.subs = append(c.subs, sub)

		c.logger.Info("consuming tenant stream",
			zap.String("tenant", tenant),
			zap.String("queue", c.config.Queue))
	}

	c.started = true
	return nil
}

// handleMsg dispatches one message under the in-flight bound.
func (c *Consumer) handleMsg(ctx context.Context, tenant string, msg *nats.Msg) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		// Shutting down; leave the message unacknowledged.
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)

		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			c.logger.Warn("terminating undecodable event",
				zap.String("tenant", tenant),
				zap.Error(err))
			if err := msg.Term(); err != nil {
				c.logger.Warn("term failed", zap.Error(err))
			}
			return
		}
		if ev.Tenant == "" {
			ev.Tenant = tenant
		}

		switch c.dispatcher.Handle(ctx, ev) {
		case Ack:
			if err := msg.Ack(); err != nil {
				c.logger.Warn("ack failed",
					zap.String("content_id", ev.ContentID),
					zap.Error(err))
			}
		case Nack:
			if err := msg.Nak(); err != nil {
				c.logger.Warn("nak failed",
					zap.String("content_id", ev.ContentID),
					zap.Error(err))
			}
		}
	}()
}

// Stop drains the subscriptions and waits for in-flight tasks.
func (c *Consumer) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}

	for _, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			c.logger.Warn("subscription drain failed", zap.Error(err))
		}
	}
	c.wg.Wait()
	c.subs = nil
	c.started = false

	c.logger.Info("consumer stopped")
	return nil
}
