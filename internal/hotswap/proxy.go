// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package hotswap keeps a host-registered extension alive while the behavior
// behind it is replaced: the stable proxy the host holds, the update
// orchestrator that swaps implementations, the refresh strategies that make
// the host redraw, and the push-channel connection manager.
package hotswap

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// TransitionState is whether a swap is in progress.
type TransitionState int32

// Transition states.
const (
	Steady TransitionState = iota
	Transitioning
)

func (s TransitionState) String() string {
	if s == Transitioning {
		return "transitioning"
	}
	return "steady"
}

// ConnectingDisplayName is shown until the first update is applied.
const ConnectingDisplayName = "Connecting..."

// ForceReloadLabel is the label of the control action.
const ForceReloadLabel = "Force reload"

// implBox lets an interface value live behind an atomic.Pointer.
type implBox struct {
	impl extension.Implementation
}

// ProxyOptions configures a StableProxy.
type ProxyOptions struct {
	Strategy Strategy
	// DisplayName labels the minimal descriptor served when the current
	// implementation cannot describe itself. Defaults to the identity.
	DisplayName string
	Logger      *slog.Logger
}

// StableProxy is the one object registered with the host. Its identity never
// changes; the implementation behind it is swapped with a single pointer store.
type StableProxy struct {
	identity    string
	displayName string
	strategy    Strategy
	logger      *slog.Logger
	impl        atomic.Pointer[implBox]
	token       atomic.Pointer[string]
	forceReload atomic.Pointer[func()]
}

// NewStableProxy creates a proxy for identity. Until the first Rebind it
// serves an empty "connecting" descriptor.
func NewStableProxy(identity string, opts ProxyOptions) *StableProxy {
	if opts.Strategy == nil {
		opts.Strategy = PlaceholderStrategy{}
	}
	if opts.DisplayName == "" {
		opts.DisplayName = identity
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	p := &StableProxy{
		identity:    identity,
		displayName: opts.DisplayName,
		strategy:    opts.Strategy,
		logger:      opts.Logger,
	}
	p.impl.Store(&implBox{impl: connecting{identity: identity}})
	return p
}

// Identity returns the configured identity.
func (p *StableProxy) Identity() string { return p.identity }

// Strategy returns the refresh strategy in use.
func (p *StableProxy) Strategy() Strategy { return p.strategy }

// State reports whether a swap is in progress.
func (p *StableProxy) State() TransitionState {
	if p.token.Load() != nil {
		return Transitioning
	}
	return Steady
}

// Current returns the implementation currently answering calls.
func (p *StableProxy) Current() extension.Implementation {
	return p.impl.Load().impl
}

// Rebind makes impl current. Only the orchestrator calls this, after a
// successful capture.
func (p *StableProxy) Rebind(impl extension.Implementation) {
	p.impl.Store(&implBox{impl: impl})
}

// BeginTransition switches to the transient descriptor for token.
func (p *StableProxy) BeginTransition(token string) {
	p.token.Store(&token)
}

// EndTransition returns to the steady descriptor.
func (p *StableProxy) EndTransition() {
	p.token.Store(nil)
}

// OnForceReload sets the callback run when the host invokes the control action.
// fn runs on the invoking goroutine and must not block.
func (p *StableProxy) OnForceReload(fn func()) {
	p.forceReload.Store(&fn)
}

// Descriptor is what the host caches. The identity is always the configured
// one, whatever the implementation reports.
func (p *StableProxy) Descriptor() extension.CapabilityDescriptor {
	steady := p.steadyDescriptor(p.Current())
	if tok := p.token.Load(); tok != nil {
		desc := p.strategy.Transient(steady, *tok)
		desc.Identity = p.identity
		return desc
	}
	return steady
}

// steadyDescriptor decorates impl's descriptor with the control action. A
// failing implementation still yields a usable descriptor.
func (p *StableProxy) steadyDescriptor(impl extension.Implementation) extension.CapabilityDescriptor {
	desc, err := impl.Descriptor()
	if err != nil {
		p.logger.Warn("implementation descriptor failed, serving minimal descriptor",
			"identity", p.identity, "error", err)
		desc = extension.CapabilityDescriptor{DisplayName: p.displayName}
	}
	desc = desc.Clone()
	desc.Identity = p.identity
	desc.Actions = append(desc.Actions,
		extension.ActionDescriptor{Kind: extension.ActionSeparator},
		extension.ActionDescriptor{
			Opcode:     ForceReloadOpcode,
			Kind:       extension.ActionCommand,
			Label:      ForceReloadLabel,
			HandlerRef: ForceReloadOpcode,
		},
	)
	return desc
}

// Invoke dispatches an action the host triggered. Control opcodes are handled
// here; everything else is resolved against the current implementation's
// descriptor and delegated to it.
func (p *StableProxy) Invoke(ctx context.Context, opcode string, args map[string]any) (any, error) {
	switch opcode {
	case ForceReloadOpcode:
		if fn := p.forceReload.Load(); fn != nil && *fn != nil {
			(*fn)()
		}
		return nil, nil
	case LoadingOpcode:
		p.logger.Warn("hot reload in progress, action ignored", "identity", p.identity)
		return nil, nil
	}

	impl := p.Current()
	desc, err := impl.Descriptor()
	if err != nil {
		return nil, oops.In("hotswap").Code(CodeUnknownAction).With("opcode", opcode).Wrap(err)
	}
	action, ok := desc.Action(opcode)
	if !ok {
		action, ok = desc.Action(p.strategy.Canonical(opcode))
	}
	if !ok {
		return nil, oops.In("hotswap").Code(CodeUnknownAction).With("opcode", opcode).
			Errorf("unknown action %q", opcode)
	}
	return impl.Invoke(ctx, action.Handler(), args) //nolint:wrapcheck // implementation errors pass through to the host
}

// connecting stands in before the first update lands.
type connecting struct {
	identity string
}

func (c connecting) Descriptor() (extension.CapabilityDescriptor, error) {
	return extension.CapabilityDescriptor{Identity: c.identity, DisplayName: ConnectingDisplayName}, nil
}

func (c connecting) Invoke(_ context.Context, handlerRef string, _ map[string]any) (any, error) {
	return nil, oops.In("hotswap").Code(CodeUnknownAction).With("handler", handlerRef).
		Errorf("no implementation loaded yet")
}
