package main

import (
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noah-isme/bugreport-api/pkg/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(func(db *sqlx.DB, logr *zap.Logger) error {
				if err := database.MigrateUp(db.DB); err != nil {
					return err
				}
				logr.Info("migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n <= 0 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withDB(func(db *sqlx.DB, logr *zap.Logger) error {
				if err := database.MigrateDown(db.DB, steps); err != nil {
					return err
				}
				logr.Info("migrations rolled back", zap.Int("steps", steps))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDB(func(db *sqlx.DB, logr *zap.Logger) error {
				version, dirty, err := database.MigrationStatus(db.DB)
				if err != nil {
					return err
				}
				latest, err := database.LatestVersion()
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version=%d latest=%d dirty=%t\n", version, latest, dirty)
				return nil
			})
		},
	})

	return cmd
}

// withDB runs fn against a fresh Postgres connection.
func withDB(fn func(db *sqlx.DB, logr *zap.Logger) error) error {
	cfg, logr, err := bootstrap()
	if err != nil {
		return err
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	return fn(db, logr)
}
