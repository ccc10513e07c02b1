// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/authcore/internal/config"
	"github.com/holomush/authcore/internal/httpapi"
	"github.com/holomush/authcore/internal/observability"
	"github.com/holomush/authcore/internal/store"
)

const shutdownTimeout = 10 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth API",
		Long: `Serve the auth API over HTTP, run the retention sweep in the
background and expose metrics and health probes.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, true)
			if err != nil {
				return err
			}
			return runServe(cmd, cfg, autoMigrate)
		},
	}

	config.RegisterFlags(cmd.Flags())
	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", false, "apply pending migrations before serving")

	return cmd
}

func runServe(cmd *cobra.Command, cfg *config.Config, autoMigrate bool) error {
	logger := setupLogger(cmd, cfg)

	flush, err := initSentry(cfg)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if autoMigrate {
		if err := migrateUp(cfg.Secrets.DatabaseURL); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	pool, err := store.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		return err
	}

	var (
		registry  = prometheus.NewRegistry()
		obsServer *observability.Server
		metrics   *observability.Metrics
	)
	if cfg.MetricsAddr != "" {
		obsServer = observability.NewServer(cfg.MetricsAddr, pool.Ping, logger)
		registry = obsServer.Registry()
		metrics = obsServer.Metrics()
	}

	application, err := newApp(cfg, pool, registry, logger)
	if err != nil {
		pool.Close()
		return err
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if err := obsServer.Stop(shutdownCtx); err != nil {
				logger.Warn("error stopping observability server", "error", err)
			}
		}()
	}

	application.sweeper.Start(ctx)

	handler := httpapi.NewHandler(application.service,
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(metrics),
		httpapi.WithTrustedProxies(cfg.TrustedProxyPrefixes()),
	)
	listener, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTPAddr).Wrap(err)
	}
	httpSrv := &http.Server{
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	cmd.Println("authd started")
	logger.Info("auth API listening", "addr", listener.Addr().String())

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping auth API", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// monitorServerErrors cancels ctx when a background server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, name string, logger *slog.Logger) {
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok && err != nil {
			logger.Error("server failed", "server", name, "error", err)
			cancel()
		}
	}
}
