package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"expenses/internal/cli"
	"expenses/internal/storage"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to the SQLite store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			logger := cli.SetupLogger(cfg.LogLevel)

			version, err := storage.RunMigrations(cfg.SQLiteDBPath)
			if err != nil {
				return fmt.Errorf("migrate %s: %w", cfg.SQLiteDBPath, err)
			}
			logger.Info("Database is up to date", "path", cfg.SQLiteDBPath, "version", version)
			return nil
		},
	}
}
