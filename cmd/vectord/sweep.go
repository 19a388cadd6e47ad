package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vectord/internal/recovery"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var (
		tenant string
		batch  int
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one recovery pass over fallback-produced vectors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), *configPath, tenant, batch)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "sweep a single tenant instead of all registered tenants")
	cmd.Flags().IntVar(&batch, "batch", 0, "override the configured per-tenant batch size")
	return cmd
}

func runSweep(ctx context.Context, configPath, tenant string, batch int) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := recovery.NewQueue(a.kv, a.logger)
	if err != nil {
		return err
	}

	cfg := recovery.Config{
		Interval:    a.cfg.Recovery.Interval,
		BatchSize:   a.cfg.Recovery.BatchSize,
		MaxAttempts: a.cfg.Recovery.MaxAttempts,
	}
	if batch > 0 {
		cfg.BatchSize = batch
	}

	sweeper, err := recovery.NewSweeper(a.store, a.chain, queue, a.registry, cfg, a.logger)
	if err != nil {
		return err
	}

	var stats recovery.Stats
	if tenant != "" {
		stats, err = sweeper.SweepTenant(ctx, tenant)
	} else {
		stats, err = sweeper.Sweep(ctx)
	}
	if err != nil {
		return err
	}

	fmt.Printf("found: %d\nrecovered: %d\nfailed: %d\n",
		stats.Found, stats.Recovered, stats.Failed)
	return nil
}
