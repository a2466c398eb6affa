package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"expenses/internal/backend"
	"expenses/internal/cli"
	"expenses/internal/core"
	apphttp "expenses/internal/http"
	"expenses/internal/middleware/ratelimit"
	"expenses/internal/services"
	"expenses/internal/settings"
)

const shutdownTimeout = 30 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cli.LoadEnvFile()
	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		return err
	}
	logger := cli.SetupLogger(cfg.LogLevel)

	ctx, cancel := cli.ShutdownContext(parent, logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	result, err := backend.NewFactory(logger.Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	defaultCurrency, err := core.ParseCurrency(cfg.DefaultCurrency)
	if err != nil {
		return err
	}
	prefs, err := settings.Load(ctx, result.Store, defaultCurrency)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	scope, err := services.ParseConversionScope(cfg.ConversionScope)
	if err != nil {
		return err
	}

	var events services.EventPublisher
	if result.Events != nil {
		events = result.Events
	}

	tracker := services.NewTracker(services.TrackerDeps{
		Store:    result.Store,
		Settings: prefs,
		Events:   events,
		Scope:    scope,
		Filter:   core.CurrentMonth(time.Now()),
	})
	tracker.Start(ctx)
	defer tracker.Stop()

	var opts []apphttp.Option
	if cfg.WriteRateLimit > 0 {
		limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.WriteRateLimit})
		defer limiter.Stop()
		opts = append(opts, apphttp.WithWriteLimit(limiter))
	}

	srv := apphttp.NewServer(":"+cfg.Port, tracker, result.Ready, logger, opts...)
	srv.MaxHeaderBytes = 1 << 16
	// Ends open event streams when shutdown starts.
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting expenses server",
			"port", cfg.Port,
			"backend", cfg.DataBackend,
			"currency", prefs.Currency(),
			"conversion_scope", scope,
			"events_enabled", events != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", "error", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
