package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/alem-hub/academy-identity/internal/app"
	"github.com/alem-hub/academy-identity/internal/infrastructure/persistence/postgres"
)

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATE
// ══════════════════════════════════════════════════════════════════════════════

func (c *cli) migrateCmd() *cobra.Command {
	cc := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cc.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cc *cobra.Command, args []string) error {
				return c.withMigrator(cc.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					n, err := m.Migrate(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintf(c.out, "applied %d migration(s)\n", n)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rollback",
			Short: "Revert the last applied migration",
			Args:  cobra.NoArgs,
			RunE: func(cc *cobra.Command, args []string) error {
				return c.withMigrator(cc.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					if err := m.Rollback(ctx); err != nil {
						return err
					}
					fmt.Fprintln(c.out, "rolled back")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cc *cobra.Command, args []string) error {
				return c.withMigrator(cc.Context(), func(ctx context.Context, m *postgres.Migrator) error {
					migrations, err := m.Status(ctx)
					if err != nil {
						return err
					}
					return writeStatus(c, migrations)
				})
			},
		},
	)
	return cc
}

// withMigrator connects to PostgreSQL only; migrations do not need Redis.
func (c *cli) withMigrator(ctx context.Context, fn func(ctx context.Context, m *postgres.Migrator) error) error {
	cfg, log, err := c.load()
	if err != nil {
		return err
	}
	conn, err := app.ConnectDB(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(ctx, postgres.NewMigrator(conn))
}

func writeStatus(c *cli, migrations []postgres.Migration) error {
	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
	for _, m := range migrations {
		status, at := "pending", "-"
		if m.IsApplied {
			status = "applied"
			at = m.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", m.Version, m.Name, status, at)
	}
	return tw.Flush()
}
