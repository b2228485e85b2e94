package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nugget/datalookup/internal/api"
	"github.com/nugget/datalookup/internal/buildinfo"
	"github.com/nugget/datalookup/internal/config"
	"github.com/nugget/datalookup/internal/connwatch"
	"github.com/nugget/datalookup/internal/telemetry"
)

// shutdownTimeout bounds draining in-flight requests on exit.
const shutdownTimeout = 15 * time.Second

func newServeCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cmd, opts.configPath)
		},
	}
}

// runServe is the primary operating mode: it loads config, connects to
// the database and model backend, starts the API server, and blocks
// until SIGINT or SIGTERM.
//
// The shutdown sequence is:
//  1. The signal cancels the context
//  2. The HTTP server drains in-flight requests
//  3. Watchers stop, spans are flushed, and connections close via defers
func runServe(ctx context.Context, cmd *cobra.Command, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel) // checked by Validate
	logger := config.NewLogger(cmd.OutOrStdout(), level, true)
	logger.Info("starting datalookup",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"built", buildinfo.BuildTime,
		"config", cfgPath,
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     buildinfo.Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	watch := connwatch.NewManager(logger)
	defer watch.Stop()
	watch.Watch(ctx, connwatch.Service{
		Name:  connwatch.ServiceLLM,
		Probe: connwatch.PingProbe(connwatch.ServiceLLM, a.client),
		OnChange: func(ready bool, err error) {
			if !ready {
				logger.Warn("model backend down; questions will fail until it recovers", "error", err)
			}
		},
	})
	watch.Watch(ctx, connwatch.Service{
		Name:  connwatch.ServiceDatabase,
		Probe: connwatch.PingProbe(connwatch.ServiceDatabase, a.db),
	})

	scfg := api.Config{
		Address:       cfg.Listen.Addr(),
		Agent:         a.agent,
		Watch:         watch,
		MaxConcurrent: cfg.MaxConcurrent,
		Logger:        logger,
	}
	if a.audit != nil {
		scfg.Audit = a.audit
	}
	srv := api.NewServer(scfg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return <-errCh
}
