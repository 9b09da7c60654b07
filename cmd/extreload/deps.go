// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/holomush/extreload/internal/hotswap"
	"github.com/holomush/extreload/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// Signals delivers shutdown signals.
	// Default: SIGINT and SIGTERM via signal.Notify
	Signals func() (<-chan os.Signal, func())

	// Ready is called once the distribution server is listening, with its
	// bound address.
	// Default: no-op
	Ready func(addr string)
}

// AttachDeps contains injectable dependencies for the attach command.
// All fields with nil values will use their default implementations.
type AttachDeps struct {
	// HostFactory creates the host the proxy registers with.
	// Default: hotswap.NewLogHost
	HostFactory func(logger *slog.Logger) hotswap.Host

	// DialerFactory creates the push-channel dialer for a server URL.
	// Default: hotswap.NewWebSocketDialer
	DialerFactory func(serverURL string) hotswap.Dialer

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, readinessChecker observability.ReadinessChecker) ObservabilityServer

	// Signals delivers shutdown signals.
	// Default: SIGINT and SIGTERM via signal.Notify
	Signals func() (<-chan os.Signal, func())

	// Attached is called with the running orchestrator and connection
	// manager once the client is wired.
	// Default: no-op
	Attached func(orch *hotswap.Orchestrator, mgr *hotswap.ConnectionManager)
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
