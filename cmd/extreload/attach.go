// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extreload/internal/config"
	"github.com/holomush/extreload/internal/hotswap"
	"github.com/holomush/extreload/internal/loader"
	"github.com/holomush/extreload/internal/logging"
	"github.com/holomush/extreload/internal/observability"
)

// NewAttachCmd creates the attach subcommand.
func NewAttachCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Register a stable extension proxy and follow a dev server",
		Long: `Register a proxy extension with the host once, then keep it bound to
the latest code served by the dev server. Each change swaps the running
implementation behind the proxy; the host never sees the extension
unregister.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAttachWithDeps(cmd.Context(), cmd, nil)
		},
	}

	config.RegisterClientFlags(cmd.Flags())

	return cmd
}

// runAttachWithDeps runs the client with injectable dependencies.
// If deps is nil, default dependencies are used.
func runAttachWithDeps(ctx context.Context, cmd *cobra.Command, deps *AttachDeps) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &AttachDeps{}
	}
	if deps.HostFactory == nil {
		deps.HostFactory = func(logger *slog.Logger) hotswap.Host {
			return hotswap.NewLogHost(logger)
		}
	}
	if deps.DialerFactory == nil {
		deps.DialerFactory = func(serverURL string) hotswap.Dialer {
			return hotswap.NewWebSocketDialer(serverURL)
		}
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
	if err := cfg.ValidateClient(); err != nil {
		return oops.In("attach").Wrap(err)
	}
	if err := logging.SetDefault(serviceName, version, cfg.LogFormat, cfg.LogLevel); err != nil {
		return oops.In("attach").Wrap(err)
	}
	logger := slog.Default().With("component", "attach", "identity", cfg.Identity)

	strategy, err := hotswap.NewStrategy(cfg.Strategy)
	if err != nil {
		return oops.In("attach").Wrap(err)
	}

	proxy := hotswap.NewStableProxy(cfg.Identity, hotswap.ProxyOptions{
		Strategy:    strategy,
		DisplayName: cfg.DisplayName,
		Logger:      slog.Default().With("component", "proxy"),
	})

	var host hotswap.Host
	if cfg.Headless {
		logger.Info("running headless, redraws are skipped")
	} else {
		host = deps.HostFactory(slog.Default().With("component", "host"))
		if err := hotswap.Attach(host, proxy); err != nil {
			return oops.In("attach").Wrap(err)
		}
		logger.Info("extension registered", "strategy", strategy.Name())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var connected atomic.Pointer[hotswap.ConnectionManager]
	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.MetricsAddr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.MetricsAddr, func() bool {
			mgr := connected.Load()
			return mgr != nil && mgr.Connected()
		})
		obsErrChan, startErr := obsServer.Start()
		if startErr != nil {
			return oops.In("attach").Hint("failed to start observability server").Wrap(startErr)
		}
		go monitorServerErrors(ctx, cancel, obsErrChan, "observability")
		metrics = obsServer.Metrics()
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	source := hotswap.NewHTTPSource(cfg.ServerURL, &http.Client{})
	ld := loader.New(loader.Options{
		Timeout: cfg.LoadTimeout,
		Logger:  slog.Default().With("component", "loader"),
	})
	orch := hotswap.NewOrchestrator(proxy, source, ld, host, hotswap.OrchestratorOptions{
		SettleDelay:    cfg.SettleDelay,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         slog.Default().With("component", "orchestrator"),
		Metrics:        metrics,
	})
	mgr := hotswap.NewConnectionManager(deps.DialerFactory(cfg.ServerURL), orch, hotswap.ConnectionOptions{
		Policy:         cfg.Policy,
		PollInterval:   cfg.PollInterval,
		ReconnectDelay: cfg.ReconnectDelay,
		DialTimeout:    cfg.RequestTimeout,
		Logger:         slog.Default().With("component", "connection"),
		Metrics:        metrics,
	})
	connected.Store(mgr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		//nolint:errcheck // Run only returns on cancellation
		mgr.Run(ctx)
	}()

	sigChan, stopSignals := deps.Signals()
	defer stopSignals()

	cmd.Printf("Attached %s to %s\n", cfg.Identity, cfg.ServerURL)
	logger.Info("client ready",
		"server_url", cfg.ServerURL,
		"policy", cfg.Policy,
		"headless", cfg.Headless,
	)
	if deps.Attached != nil {
		deps.Attached(orch, mgr)
	}

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	<-done
	orch.Wait()
	stopObservability(obsServer)

	logger.Info("shutdown complete", "applied_digest", orch.LastAppliedDigest())
	return nil
}
