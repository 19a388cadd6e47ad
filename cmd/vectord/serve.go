package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/dispatch"
	"github.com/fyrsmithlabs/vectord/internal/recovery"
	"github.com/fyrsmithlabs/vectord/internal/retry"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the embedding pipeline daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting vectord",
		zap.Strings("tenants", a.cfg.Tenants),
		zap.String("primary_provider", a.chain.Primary()),
		zap.Int("dimension", a.chain.Dimension()))

	queue, err := recovery.NewQueue(a.kv, a.logger)
	if err != nil {
		return err
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Store:    a.store,
		Cache:    a.cache,
		Chain:    a.chain,
		Recovery: queue,
		Status:   dispatch.NewNATSStatusPublisher(a.nc, a.logger),
	}, a.logger)
	if err != nil {
		return err
	}

	scheduler, err := retry.NewScheduler(a.kv, dispatcher.Process, retry.Config{
		BaseDelay:           a.cfg.Retry.BaseDelay,
		MaxDelay:            a.cfg.Retry.MaxDelay,
		MaxRetries:          a.cfg.Retry.MaxRetries,
		DeadLetterRetention: a.cfg.Retry.DeadLetterRetention,
		SweepInterval:       a.cfg.Retry.SweepInterval,
	}, a.logger)
	if err != nil {
		return err
	}
	dispatcher.SetRetry(scheduler)

	sweeper, err := recovery.NewSweeper(a.store, a.chain, queue, a.registry, recovery.Config{
		Interval:    a.cfg.Recovery.Interval,
		BatchSize:   a.cfg.Recovery.BatchSize,
		MaxAttempts: a.cfg.Recovery.MaxAttempts,
	}, a.logger)
	if err != nil {
		return err
	}

	consumer, err := dispatch.NewConsumer(a.js, dispatcher, dispatch.ConsumerConfig{
		Tenants:      a.cfg.Tenants,
		Queue:        a.cfg.Dispatch.Queue,
		MaxInFlight:  a.cfg.Dispatch.MaxInFlight,
		StreamPrefix: a.cfg.Dispatch.StreamPrefix,
	}, a.logger)
	if err != nil {
		return err
	}

	scheduler.Start(ctx)
	defer scheduler.Stop()

	sweeper.Start(ctx)
	defer sweeper.Stop()

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}
	defer func() {
		if err := consumer.Stop(); err != nil {
			a.logger.Warn("stopping consumer failed", zap.Error(err))
		}
	}()

	a.logger.Info("vectord ready")

	select {
	case sig := <-sigCh:
		a.logger.Info("shutting down", zap.String("signal", sig.String()))
		cancel()
	case <-ctx.Done():
	}
	return nil
}
