package main

import (
	"context"

	"attendance-bot/internal/config"
	"attendance-bot/internal/database"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func migrateCmd(cfg **config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), *cfg, func(db *database.DB) error {
				if err := db.RunMigrations(cmd.Context()); err != nil {
					return err
				}
				zap.L().Info("Migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), *cfg, func(db *database.DB) error {
				return db.MigrationStatus(cmd.Context())
			})
		},
	})

	return cmd
}

func withDB(ctx context.Context, cfg *config.Config, fn func(*database.DB) error) (err error) {
	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	return fn(db)
}
