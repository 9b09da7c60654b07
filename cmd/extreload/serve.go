// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extreload/internal/artifact"
	"github.com/holomush/extreload/internal/broadcast"
	"github.com/holomush/extreload/internal/config"
	"github.com/holomush/extreload/internal/detector"
	"github.com/holomush/extreload/internal/distribution"
	"github.com/holomush/extreload/internal/logging"
	"github.com/holomush/extreload/internal/observability"
	"github.com/holomush/extreload/pkg/extension"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch an extension source file and serve it to attached clients",
		Long: `Start the dev server. It watches the artifact, serves its current
content and digest over HTTP, renders the browser loader at /bootstrap, and
pushes a change event over the WebSocket channel after every debounced write.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServeWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.RegisterServerFlags(cmd.Flags())

	return cmd
}

// runServeWithDeps runs the dev server with injectable dependencies.
// If deps is nil, default dependencies are used.
func runServeWithDeps(ctx context.Context, cmd *cobra.Command, deps *ServeDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &ServeDeps{}
	}
	if deps.ObservabilityServerFactory == nil {
		deps.ObservabilityServerFactory = func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, readinessChecker)
		}
	}
	if deps.Signals == nil {
		deps.Signals = shutdownSignals
	}

	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.ValidateServer(); err != nil {
		return oops.In("serve").Wrap(err)
	}
	if err := logging.SetDefault(serviceName, version, cfg.LogFormat, cfg.LogLevel); err != nil {
		return oops.In("serve").Wrap(err)
	}
	logger := slog.Default().With("component", "serve")

	art, err := artifact.New(cfg.Artifact)
	if err != nil {
		return oops.In("serve").With("artifact", cfg.Artifact).Wrap(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, ready.Load)
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return oops.In("serve").Hint("failed to start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	bc := broadcast.NewBroadcaster(broadcast.Options{
		Logger:  slog.Default().With("component", "broadcast"),
		Metrics: metrics,
	})

	det := detector.New(art, func(digest string) {
		n := bc.Broadcast(extension.NewChangeEvent(digest))
		logger.Info("artifact changed", "digest", digest, "clients", n)
	}, detector.Options{
		Debounce: cfg.Debounce,
		Logger:   slog.Default().With("component", "detector"),
		Metrics:  metrics,
	})

	boot := distribution.NewBootstrap(cfg.BootstrapTemplate, distribution.BootstrapSettings{
		Identity:       cfg.Identity,
		Strategy:       cfg.Strategy,
		Policy:         cfg.Policy,
		SettleDelay:    cfg.SettleDelay,
		PollInterval:   cfg.PollInterval,
		ReconnectDelay: cfg.ReconnectDelay,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := distribution.NewServer(cfg.Listen, distribution.Deps{
		Artifact:    art,
		Bootstrap:   boot,
		PushChannel: bc,
		Logger:      slog.Default().With("component", "distribution"),
	})
	srvErrChan, err := srv.Start()
	if err != nil {
		stopObservability(obsServer)
		return oops.In("serve").Hint("failed to start distribution server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, srvErrChan, "distribution")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if runErr := det.Run(ctx); runErr != nil {
			slog.Error("change detector failed, triggering shutdown", "error", runErr)
			cancel()
		}
	}()

	sigChan, stopSignals := deps.Signals()
	defer stopSignals()

	ready.Store(true)
	cmd.Printf("Serving %s on http://%s\n", art.Path(), srv.Addr())
	logger.Info("dev server ready",
		"identity", cfg.Identity,
		"artifact", art.Path(),
		"addr", srv.Addr(),
		"digest", art.Digest(),
	)
	if deps.Ready != nil {
		deps.Ready(srv.Addr())
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	ready.Store(false)
	cancel()
	det.Stop()
	wg.Wait()
	bc.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping distribution server", "error", err)
	}
	stopObservability(obsServer)

	logger.Info("shutdown complete")
	return nil
}

// shutdownSignals subscribes to SIGINT and SIGTERM.
func shutdownSignals() (<-chan os.Signal, func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	return sigChan, func() { signal.Stop(sigChan) }
}

func stopObservability(obs ObservabilityServer) {
	if obs == nil {
		return
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := obs.Stop(shutdownCtx); err != nil {
		slog.Warn("error stopping observability server", "error", err)
	}
}
