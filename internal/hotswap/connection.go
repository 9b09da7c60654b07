// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/extreload/internal/observability"
	"github.com/holomush/extreload/pkg/errutil"
	"github.com/holomush/extreload/pkg/extension"
)

// Reconnection policies.
const (
	PolicyPoll  = "poll"
	PolicyRetry = "retry"
)

// Defaults for ConnectionOptions.
const (
	DefaultPollInterval   = time.Second
	DefaultReconnectDelay = 2 * time.Second
)

// Channel is an established push channel.
type Channel interface {
	// Read blocks for the next message. Any error means the channel is gone.
	Read(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens push channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// Checker runs update checks; *Orchestrator satisfies it.
type Checker interface {
	CheckUpdate(ctx context.Context, force bool) (Outcome, error)
}

// ConnectionOptions tunes a ConnectionManager.
type ConnectionOptions struct {
	Policy         string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	// DialTimeout bounds each dial attempt.
	DialTimeout time.Duration
	Logger      *slog.Logger
	Metrics     *observability.Metrics
}

// ConnectionManager keeps the push channel up and turns channel activity into
// update checks. Every successful (re)connection runs a forced check, since
// events sent while disconnected are never replayed.
type ConnectionManager struct {
	dialer    Dialer
	checker   Checker
	opts      ConnectionOptions
	connected atomic.Bool
}

// NewConnectionManager creates a manager. An unknown policy falls back to
// retry.
func NewConnectionManager(dialer Dialer, checker Checker, opts ConnectionOptions) *ConnectionManager {
	if opts.Policy != PolicyPoll {
		opts.Policy = PolicyRetry
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &ConnectionManager{dialer: dialer, checker: checker, opts: opts}
}

// Connected reports whether the push channel is currently up.
func (m *ConnectionManager) Connected() bool {
	return m.connected.Load()
}

// Run maintains the channel until ctx is cancelled. It returns nil on
// cancellation; there is no other way out.
func (m *ConnectionManager) Run(ctx context.Context) error {
	ch, err := m.dial(ctx)
	for {
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			errutil.LogWarn(m.opts.Logger, "push channel unavailable", err)
			ch, err = m.reconnect(ctx)
			if err != nil {
				return nil //nolint:nilerr // reconnect only fails when ctx is done
			}
		}

		m.serve(ctx, ch)
		if ctx.Err() != nil {
			return nil
		}
		m.opts.Logger.Warn("push channel lost", "policy", m.opts.Policy)
		ch, err = m.reconnect(ctx)
		if err != nil {
			return nil //nolint:nilerr // reconnect only fails when ctx is done
		}
	}
}

// reconnect applies the configured policy until a channel is up or ctx ends.
func (m *ConnectionManager) reconnect(ctx context.Context) (Channel, error) {
	if m.opts.Policy == PolicyPoll {
		return m.pollUntilConnected(ctx)
	}
	return m.retryUntilConnected(ctx)
}

// retryUntilConnected redials at a constant delay and never checks for
// updates while disconnected.
func (m *ConnectionManager) retryUntilConnected(ctx context.Context) (Channel, error) {
	if err := sleep(ctx, m.opts.ReconnectDelay); err != nil {
		return nil, oops.In("hotswap").Wrap(err)
	}
	var ch Channel
	backoff := retry.NewConstant(m.opts.ReconnectDelay)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		c, err := m.dial(ctx)
		if err != nil {
			m.opts.Logger.Debug("reconnect attempt failed", "error", err)
			return retry.RetryableError(err)
		}
		ch = c
		return nil
	})
	if err != nil {
		return nil, oops.In("hotswap").Wrap(err)
	}
	return ch, nil
}

// pollUntilConnected checks for updates every poll interval and tries the
// channel again after each check.
func (m *ConnectionManager) pollUntilConnected(ctx context.Context) (Channel, error) {
	ticker := time.NewTicker(m.opts.PollInterval)
	defer ticker.Stop()
	m.opts.Logger.Info("falling back to polling", "interval", m.opts.PollInterval)
	for {
		select {
		case <-ctx.Done():
			return nil, oops.In("hotswap").Wrap(ctx.Err())
		case <-ticker.C:
		}
		//nolint:errcheck // outcome is logged by the orchestrator
		m.checker.CheckUpdate(ctx, false)
		if ch, err := m.dial(ctx); err == nil {
			return ch, nil
		}
	}
}

// serve runs a connected channel until it fails.
func (m *ConnectionManager) serve(ctx context.Context, ch Channel) {
	m.setConnected(true)
	defer m.setConnected(false)
	defer func() { _ = ch.Close() }()

	m.opts.Logger.Info("push channel connected")
	//nolint:errcheck // outcome is logged by the orchestrator
	m.checker.CheckUpdate(ctx, true)

	for {
		msg, err := ch.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				m.opts.Logger.Debug("push channel read failed", "error", err)
			}
			return
		}
		var ev extension.ChangeEvent
		if err := json.Unmarshal(msg, &ev); err != nil || ev.Kind != extension.KindChange {
			m.opts.Logger.Warn("ignoring malformed push message", "message", string(msg))
			continue
		}
		m.opts.Logger.Debug("change event received", "digest", ev.Digest)
		//nolint:errcheck // outcome is logged by the orchestrator
		m.checker.CheckUpdate(ctx, false)
	}
}

func (m *ConnectionManager) dial(ctx context.Context) (Channel, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	defer cancel()
	ch, err := m.dialer.Dial(ctx)
	if err != nil {
		return nil, oops.In("hotswap").Code(CodeNetworkUnavailable).Wrapf(err, "dial push channel")
	}
	return ch, nil
}

func (m *ConnectionManager) setConnected(up bool) {
	m.connected.Store(up)
	m.opts.Metrics.SetChannelConnected(up)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
