// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	yamlv3 "gopkg.in/yaml.v3"
)

// RegisterServerFlags adds the `serve` flags to fs with their defaults.
func RegisterServerFlags(fs *pflag.FlagSet) {
	d := Default()
	registerCommonFlags(fs, d)
	fs.String("artifact", d.Artifact, "path of the extension source to watch and serve")
	fs.String("listen", d.Listen, "HTTP/WebSocket listen address")
	fs.String("bootstrap-template", "", "loader template file (default: built-in)")
	fs.Duration("debounce", d.Debounce, "window over which file writes collapse into one change event")
	registerClientKnobs(fs, d)
}

// RegisterClientFlags adds the `attach` flags to fs with their defaults.
func RegisterClientFlags(fs *pflag.FlagSet) {
	d := Default()
	registerCommonFlags(fs, d)
	fs.String("server-url", d.ServerURL, "base URL of the dev server")
	fs.Duration("request-timeout", d.RequestTimeout, "bound on each version/code request and channel dial")
	fs.Duration("load-timeout", d.LoadTimeout, "bound on evaluating a fetched payload")
	fs.Bool("headless", false, "run without a host (redraws are skipped)")
	registerClientKnobs(fs, d)
}

func registerCommonFlags(fs *pflag.FlagSet, d Config) {
	fs.String("identity", d.Identity, "target extension identity")
	fs.String("display-name", d.DisplayName, "extension display name")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")
}

func registerClientKnobs(fs *pflag.FlagSet, d Config) {
	fs.String("strategy", d.Strategy, "refresh strategy (placeholder or rotation)")
	fs.String("policy", d.Policy, "reconnection policy (poll or retry)")
	fs.Duration("poll-interval", d.PollInterval, "version poll interval while the channel is down (poll policy)")
	fs.Duration("reconnect-delay", d.ReconnectDelay, "delay between channel reconnect attempts (retry policy)")
	fs.Duration("settle-delay", d.SettleDelay, "pause between the two redraws of a refresh (0 disables)")
}

// Load builds a Config from the YAML file at path (skipped when empty) and
// the flags in fs. The file must pass ValidateSchema. Flags set explicitly
// override the file; unset flags only supply defaults for keys the file
// leaves out.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, oops.In("config").Code("CONFIG_LOAD").With("path", path).Hint("failed to read config file").Wrap(err)
		}
		if err := ValidateSchema(raw); err != nil {
			return Config{}, oops.In("config").With("path", path).Wrap(err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_LOAD").With("path", path).Hint("failed to read config file").Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_LOAD").Hint("failed to read flags").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.In("config").Code("CONFIG_LOAD").Hint("failed to decode config").Wrap(err)
	}
	return cfg, nil
}

// Dump renders cfg as YAML, for `extreload config`.
func Dump(cfg Config) ([]byte, error) {
	out, err := yamlv3.Marshal(dumpView(cfg))
	if err != nil {
		return nil, oops.In("config").Wrap(err)
	}
	return out, nil
}

// dumpView renders durations as strings; yaml.v3 would print nanoseconds.
func dumpView(cfg Config) map[string]any {
	m := map[string]any{
		"identity":        cfg.Identity,
		"display_name":    cfg.DisplayName,
		"artifact":        cfg.Artifact,
		"listen":          cfg.Listen,
		"server_url":      cfg.ServerURL,
		"debounce":        cfg.Debounce.String(),
		"poll_interval":   cfg.PollInterval.String(),
		"reconnect_delay": cfg.ReconnectDelay.String(),
		"settle_delay":    cfg.SettleDelay.String(),
		"request_timeout": cfg.RequestTimeout.String(),
		"load_timeout":    cfg.LoadTimeout.String(),
		"strategy":        cfg.Strategy,
		"policy":          cfg.Policy,
		"log_format":      cfg.LogFormat,
		"log_level":       cfg.LogLevel,
		"headless":        cfg.Headless,
	}
	if cfg.BootstrapTemplate != "" {
		m["bootstrap_template"] = cfg.BootstrapTemplate
	}
	if cfg.MetricsAddr != "" {
		m["metrics_addr"] = cfg.MetricsAddr
	}
	return m
}
