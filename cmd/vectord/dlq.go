package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/vectord/internal/dispatch"
	"github.com/fyrsmithlabs/vectord/internal/retry"
)

func newDLQCmd(configPath *string) *cobra.Command {
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect and manage the dead-letter queue",
	}

	dlq.AddCommand(&cobra.Command{
		Use:   "list <tenant>",
		Short: "List a tenant's dead-lettered tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQList(cmd.Context(), *configPath, args[0])
		},
	})

	dlq.AddCommand(&cobra.Command{
		Use:   "purge <tenant>",
		Short: "Remove a tenant's dead letters older than the retention window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDLQPurge(cmd.Context(), *configPath, args[0])
		},
	})

	return dlq
}

// dlqScheduler builds a retry scheduler for queue inspection; the
// process function is never invoked by list or purge.
func dlqScheduler(a *app) (*retry.Scheduler, error) {
	return retry.NewScheduler(a.kv,
		func(ctx context.Context, task *dispatch.Task) error { return nil },
		retry.Config{
			BaseDelay:           a.cfg.Retry.BaseDelay,
			MaxDelay:            a.cfg.Retry.MaxDelay,
			MaxRetries:          a.cfg.Retry.MaxRetries,
			DeadLetterRetention: a.cfg.Retry.DeadLetterRetention,
		}, a.logger)
}

func runDLQList(ctx context.Context, configPath, tenant string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := dlqScheduler(a)
	if err != nil {
		return err
	}

	letters, err := scheduler.DeadLetters(ctx, tenant)
	if err != nil {
		return err
	}

	if len(letters) == 0 {
		fmt.Printf("no dead letters for tenant %s\n", tenant)
		return nil
	}
	for _, dl := range letters {
		fmt.Printf("%s  retries=%d  moved=%s  error=%s\n",
			dl.Task.ContentID,
			dl.Task.RetryCount,
			dl.MovedAt.Format("2006-01-02T15:04:05Z"),
			dl.FinalError)
	}
	return nil
}

func runDLQPurge(ctx context.Context, configPath, tenant string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler, err := dlqScheduler(a)
	if err != nil {
		return err
	}

	purged, err := scheduler.PurgeExpired(ctx, tenant)
	if err != nil {
		return err
	}
	fmt.Printf("%d dead letters purged\n", purged)
	return nil
}
