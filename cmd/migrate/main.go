package main

import (
	"PerpLiquidator/internal/config"
	"PerpLiquidator/internal/observability"
	"PerpLiquidator/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("migrate")

	withMigrator := func(run func(ctx context.Context, m *persistence.Migrator) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			db, err := sql.Open("postgres", cfg.PostgresURL)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()
			return run(cmd.Context(), persistence.NewMigrator(db, cfg.MigrationsDir))
		}
	}

	root := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the event log and projection schema",
		Long: "Environment:\n" +
			"  PERP_POSTGRES_DSN    Postgres connection string\n" +
			"  PERP_MIGRATIONS_DIR  path to migrations directory (default: migrations)",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				n, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Int("applied", n).Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: withMigrator(func(ctx context.Context, m *persistence.Migrator) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}
