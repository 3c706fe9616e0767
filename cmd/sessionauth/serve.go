// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/sessionauth/internal/auth"
	"github.com/holomush/sessionauth/internal/auth/memory"
	"github.com/holomush/sessionauth/internal/config"
	"github.com/holomush/sessionauth/internal/gate"
	"github.com/holomush/sessionauth/internal/logging"
	"github.com/holomush/sessionauth/internal/observability"
	"github.com/holomush/sessionauth/internal/web"
	"github.com/holomush/sessionauth/pkg/errutil"
)

const (
	serviceName     = "sessionauth"
	shutdownTimeout = 5 * time.Second
	readTimeout     = 10 * time.Second
)

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server exposing registration, login, password reset
and the guarded /api/v1 routes, plus the metrics and health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return oops.Code("SERVE_CONFIG_INVALID").Wrap(err)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

// runServeWithDeps runs the server until a signal arrives, ctx is cancelled
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	deps = deps.withDefaults()

	level, err := logging.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	logger := logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Server.LogFormat,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	})

	scheme, err := cfg.Scheme()
	if err != nil {
		return err
	}
	logger.Info("starting sessionauth",
		"addr", cfg.Server.Addr,
		"scheme", scheme,
		"storage", cfg.Storage.Driver,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Server.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Server.MetricsAddr, ready.Load)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	backends, err := deps.BackendsFactory(ctx, cfg, logger)
	if err != nil {
		return oops.Code("SERVE_BACKENDS_FAILED").Wrap(err)
	}
	defer backends.Close()

	handler, err := buildHandler(cfg, scheme, backends, deps.Hasher, metrics, logger)
	if err != nil {
		return err
	}

	listener, err := deps.ListenerFactory("tcp", cfg.Server.Addr)
	if err != nil {
		return oops.Code("SERVE_LISTEN_FAILED").With("addr", cfg.Server.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
	}()

	if obsServer != nil {
		obsErrChan, err := obsServer.Start()
		if err != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer shutdownCancel()
			if stopErr := httpServer.Shutdown(shutdownCtx); stopErr != nil {
				logger.Warn("failed to stop HTTP server during cleanup", "error", stopErr)
			}
			return oops.Code("SERVE_METRICS_FAILED").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.Store(true)
	cmd.Printf("sessionauth listening on %s\n", listener.Addr())
	logger.Info("sessionauth ready", "addr", listener.Addr().String())

	var serveErr error
	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errChan:
		serveErr = oops.Code("SERVE_HTTP_FAILED").Wrap(err)
		errutil.LogError(logger, "HTTP server error", serveErr)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return serveErr
}

// buildHandler composes the session registry, service, gate and routes for
// the configured scheme.
func buildHandler(
	cfg *config.Config,
	scheme gate.Scheme,
	backends *Backends,
	hasher auth.PasswordHasher,
	metrics *observability.Metrics,
	logger *slog.Logger,
) (*web.Handler, error) {
	ttl := cfg.SessionTTL()

	registry, err := gate.NewSessionRegistry(scheme, memory.NewSessionStore(), backends.Durable, ttl,
		auth.WithLogger(logger),
		auth.WithObserver(metrics),
	)
	if err != nil {
		return nil, err
	}

	svc, err := auth.NewService(backends.Users, registry, hasher,
		auth.WithServiceLogger(logger),
		auth.WithServiceObserver(metrics),
	)
	if err != nil {
		return nil, err
	}

	authn, err := gate.NewAuthenticator(scheme, gate.Dependencies{
		Users:    backends.Users,
		Sessions: registry,
		Hasher:   hasher,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	g, err := gate.New(gate.Config{
		Scheme:          scheme,
		ProtectedPrefix: cfg.Auth.ProtectedPrefix,
		ExcludedPaths:   cfg.Auth.ExcludedPaths,
		CookieName:      cfg.Auth.CookieName,
	}, authn, gate.WithObserver(metrics), gate.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	cookieTTL := time.Duration(0)
	if scheme.Expires() {
		cookieTTL = ttl
	}
	return web.NewHandler(svc, g,
		web.WithLogger(logger),
		web.WithCookieTTL(cookieTTL),
		web.WithInstrumenter(metrics),
	)
}

// monitorServerErrors cancels ctx when errCh delivers an error, so a failed
// listener shuts the whole process down. It returns when the channel closes
// or ctx ends.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
