// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/extreload/internal/config"
)

// NewConfigCmd creates the config subcommand, which prints the effective
// configuration after merging the config file with flags.
func NewConfigCmd() *cobra.Command {
	var validate string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration that serve and attach would run with, after
merging built-in defaults, the config file and any flags given here.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			switch validate {
			case "":
			case "serve":
				if err := cfg.ValidateServer(); err != nil {
					return oops.In("config").Wrap(err)
				}
			case "attach":
				if err := cfg.ValidateClient(); err != nil {
					return oops.In("config").Wrap(err)
				}
			default:
				return oops.In("config").With("validate", validate).Errorf("validate must be 'serve' or 'attach', got %q", validate)
			}
			out, err := config.Dump(cfg)
			if err != nil {
				return err //nolint:wrapcheck // already wrapped by config
			}
			cmd.Print(string(out))
			return nil
		},
	}

	config.RegisterServerFlags(cmd.Flags())
	cmd.Flags().String("server-url", config.DefaultServerURL, "base URL of the dev server")
	cmd.Flags().Duration("request-timeout", config.DefaultRequestTimeout, "bound on each version/code request and channel dial")
	cmd.Flags().Duration("load-timeout", config.DefaultLoadTimeout, "bound on evaluating a fetched payload")
	cmd.Flags().Bool("headless", false, "run without a host (redraws are skipped)")
	cmd.Flags().StringVar(&validate, "validate", "", "also validate for 'serve' or 'attach'")

	return cmd
}
