package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/CaioWing/Fiscus/internal/repository/postgres"
)

func newMigrateCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if err := postgres.RunMigrations(cfg.DB.DSN()); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			version, dirty, err := postgres.MigrationVersion(cfg.DB.DSN())
			if err != nil {
				return err
			}
			log.Info("migrations completed", "version", version, "dirty", dirty)
			return nil
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load()
			if err != nil {
				return err
			}
			if err := postgres.RollbackMigrations(cfg.DB.DSN(), steps); err != nil {
				return fmt.Errorf("rollback: %w", err)
			}
			log.Info("migrations rolled back", "steps", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")

	cmd.AddCommand(down)
	return cmd
}
