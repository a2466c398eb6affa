package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"expenses/internal/amqp"
	"expenses/internal/cli"
	"expenses/internal/storage"
	"expenses/internal/worker"
)

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Consume expense change events from the AMQP queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cli.LoadEnvFile()
			cfg, err := cli.LoadAndValidateConfig()
			if err != nil {
				return err
			}
			logger := cli.SetupLogger(cfg.LogLevel)
			if cfg.AMQPURL == "" {
				return errors.New("AMQP_URL is not set")
			}

			ctx, cancel := cli.ShutdownContext(cmd.Context(), logger)
			defer cancel()

			var store worker.ExpenseGetter
			if cfg.DataBackend == "sqlite" {
				repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, storage.Options{})
				if err != nil {
					return fmt.Errorf("open sqlite store: %w", err)
				}
				defer repo.Close()
				store = repo
			}

			client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
			if err != nil {
				return fmt.Errorf("connect to AMQP: %w", err)
			}
			defer client.Close()

			w := worker.NewEventWorker(store, logger)
			logger.Info("Consuming expense events", "queue", cfg.AMQPQueue, "store_checks", store != nil)

			err = client.ConsumeExpenseEvents(ctx, w.HandleEvent)
			stats := w.Stats()
			logger.Info("Event consumer stopped", "processed", stats.Processed, "missing", stats.Missing)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
