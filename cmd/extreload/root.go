// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/holomush/extreload/internal/config"
	"github.com/holomush/extreload/internal/xdg"
)

const serviceName = "extreload"

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the extreload CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extreload",
		Short: "Live hot-swap for host-registered editor extensions",
		Long: `extreload watches an extension source file and pushes every change to
attached clients, which swap the running implementation without the host
ever seeing the extension unregister.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/extreload/config.yaml if present)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewAttachCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the config file and merges it with fs.
func loadConfig(fs *pflag.FlagSet) (config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile()
	}
	return config.Load(path, fs) //nolint:wrapcheck // config errors are already coded
}

// monitorServerErrors cancels ctx when a server reports a serve error.
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
