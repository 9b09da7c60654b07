// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads extreload settings from defaults, an optional YAML file
// and command-line flags, in that order of precedence.
package config

import (
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Refresh strategy names.
const (
	StrategyPlaceholder = "placeholder"
	StrategyRotation    = "rotation"
)

// Reconnection policy names.
const (
	PolicyPoll  = "poll"
	PolicyRetry = "retry"
)

// Defaults.
const (
	DefaultIdentity       = "my-extension"
	DefaultDisplayName    = "My Extension"
	DefaultArtifact       = "src/extension.js"
	DefaultListen         = "127.0.0.1:8000"
	DefaultServerURL      = "http://127.0.0.1:8000"
	DefaultDebounce       = 100 * time.Millisecond
	DefaultPollInterval   = 1000 * time.Millisecond
	DefaultReconnectDelay = 2000 * time.Millisecond
	DefaultSettleDelay    = 50 * time.Millisecond
	DefaultRequestTimeout = 5 * time.Second
	DefaultLoadTimeout    = 2 * time.Second
	DefaultStrategy       = StrategyPlaceholder
	DefaultPolicy         = PolicyRetry
	DefaultLogFormat      = "json"
	DefaultLogLevel       = "info"
)

// Config holds every runtime setting of the dev server and the attach client.
type Config struct {
	Identity          string        `koanf:"identity"`
	DisplayName       string        `koanf:"display_name"`
	Artifact          string        `koanf:"artifact"`
	Listen            string        `koanf:"listen"`
	ServerURL         string        `koanf:"server_url"`
	BootstrapTemplate string        `koanf:"bootstrap_template"`
	Debounce          time.Duration `koanf:"debounce"`
	PollInterval      time.Duration `koanf:"poll_interval"`
	ReconnectDelay    time.Duration `koanf:"reconnect_delay"`
	SettleDelay       time.Duration `koanf:"settle_delay"`
	RequestTimeout    time.Duration `koanf:"request_timeout"`
	LoadTimeout       time.Duration `koanf:"load_timeout"`
	Strategy          string        `koanf:"strategy"`
	Policy            string        `koanf:"policy"`
	LogFormat         string        `koanf:"log_format"`
	LogLevel          string        `koanf:"log_level"`
	MetricsAddr       string        `koanf:"metrics_addr"`
	Headless          bool          `koanf:"headless"`
}

// Default returns a Config populated with the built-in defaults.
func Default() Config {
	return Config{
		Identity:       DefaultIdentity,
		DisplayName:    DefaultDisplayName,
		Artifact:       DefaultArtifact,
		Listen:         DefaultListen,
		ServerURL:      DefaultServerURL,
		Debounce:       DefaultDebounce,
		PollInterval:   DefaultPollInterval,
		ReconnectDelay: DefaultReconnectDelay,
		SettleDelay:    DefaultSettleDelay,
		RequestTimeout: DefaultRequestTimeout,
		LoadTimeout:    DefaultLoadTimeout,
		Strategy:       DefaultStrategy,
		Policy:         DefaultPolicy,
		LogFormat:      DefaultLogFormat,
		LogLevel:       DefaultLogLevel,
	}
}

func (c *Config) validateCommon() error {
	errb := oops.In("config").Code("INVALID_CONFIG")
	if strings.TrimSpace(c.Identity) == "" {
		return errb.Errorf("identity is required")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return errb.With("log_format", c.LogFormat).Errorf("log-format must be 'json' or 'text', got %q", c.LogFormat)
	}
	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return errb.With("metrics_addr", c.MetricsAddr).Wrapf(err, "invalid metrics-addr")
		}
	}
	return nil
}

// ValidateServer checks the settings used by `extreload serve`.
func (c *Config) ValidateServer() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	errb := oops.In("config").Code("INVALID_CONFIG")
	if c.Artifact == "" {
		return errb.Errorf("artifact is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return errb.With("listen", c.Listen).Wrapf(err, "invalid listen address")
	}
	if c.Debounce < 0 {
		return errb.With("debounce", c.Debounce.String()).Errorf("debounce must not be negative")
	}
	return c.validateClientKnobs()
}

// ValidateClient checks the settings used by `extreload attach`.
func (c *Config) ValidateClient() error {
	if err := c.validateCommon(); err != nil {
		return err
	}
	errb := oops.In("config").Code("INVALID_CONFIG")
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return errb.With("server_url", c.ServerURL).Wrapf(err, "invalid server-url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errb.With("server_url", c.ServerURL).Errorf("server-url must be http or https")
	}
	if c.RequestTimeout <= 0 {
		return errb.Errorf("request-timeout must be positive")
	}
	if c.LoadTimeout <= 0 {
		return errb.Errorf("load-timeout must be positive")
	}
	return c.validateClientKnobs()
}

// validateClientKnobs covers settings the server also forwards to the
// browser loader through /bootstrap.
func (c *Config) validateClientKnobs() error {
	errb := oops.In("config").Code("INVALID_CONFIG")
	switch c.Strategy {
	case StrategyPlaceholder, StrategyRotation:
	default:
		return errb.With("strategy", c.Strategy).Errorf("strategy must be %q or %q", StrategyPlaceholder, StrategyRotation)
	}
	switch c.Policy {
	case PolicyPoll, PolicyRetry:
	default:
		return errb.With("policy", c.Policy).Errorf("policy must be %q or %q", PolicyPoll, PolicyRetry)
	}
	if c.PollInterval <= 0 {
		return errb.Errorf("poll-interval must be positive")
	}
	if c.ReconnectDelay <= 0 {
		return errb.Errorf("reconnect-delay must be positive")
	}
	if c.SettleDelay < 0 {
		return errb.Errorf("settle-delay must not be negative")
	}
	return nil
}
