package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate [tenant...]",
		Short: "Re-encode legacy JSON vector records to the binary format",
		Long: `Migrate re-encodes legacy JSON vector records to the binary format.

With no arguments every known tenant is migrated; otherwise only the
named tenants are.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), *configPath, args)
		},
	}
}

func runMigrate(ctx context.Context, configPath string, tenants []string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(tenants) == 0 {
		tenants, err = a.registry.ListTenants(ctx)
		if err != nil {
			return err
		}
	}

	total := 0
	for _, t := range tenants {
		n, err := a.store.MigrateTenant(ctx, t)
		total += n
		if err != nil {
			return fmt.Errorf("migrating tenant %s after %d records: %w", t, total, err)
		}
		fmt.Printf("%s: %d records migrated\n", t, n)
	}
	fmt.Printf("total: %d records migrated\n", total)
	return nil
}
