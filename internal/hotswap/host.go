// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"log/slog"
	"reflect"
	"sync"

	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// Extension is the surface a host sees after registration.
type Extension interface {
	Identity() string
	Descriptor() extension.CapabilityDescriptor
	Invoke(ctx context.Context, opcode string, args map[string]any) (any, error)
}

// Host is the registration and redraw API of the editor embedding the
// extension. Hosts cache the descriptor and only redraw when Refresh is
// called and the descriptor they get back differs from the cached one.
type Host interface {
	// Unsandboxed reports whether privileged registration is allowed.
	Unsandboxed() bool
	// Register hands ext to the host. Called exactly once.
	Register(ext Extension) error
	// Refresh asks the host to re-query the descriptor and redraw.
	Refresh(ctx context.Context) error
}

// RedrawAcker is implemented by hosts that can report when a redraw has been
// applied. When present it replaces the settle delay.
type RedrawAcker interface {
	RefreshAndWait(ctx context.Context) error
}

// Attach registers p with h. A sandboxed host cannot accept the proxy, which
// is a startup error rather than a runtime condition.
func Attach(h Host, p *StableProxy) error {
	if h == nil {
		return oops.In("hotswap").Code(CodeHostUnavailable).Errorf("no host to attach to")
	}
	if !h.Unsandboxed() {
		return oops.In("hotswap").Code(CodeHostSandboxed).
			Hint("run the host in unsandboxed mode").
			Errorf("host does not allow unsandboxed extensions")
	}
	if err := h.Register(p); err != nil {
		return oops.In("hotswap").With("identity", p.Identity()).Wrapf(err, "register extension")
	}
	return nil
}

// LogHost is a headless host: it caches descriptors the way an editor does
// and logs each redraw instead of rendering it.
type LogHost struct {
	mu      sync.Mutex
	logger  *slog.Logger
	ext     Extension
	cached  *extension.CapabilityDescriptor
	history []extension.CapabilityDescriptor
}

// NewLogHost creates a headless host.
func NewLogHost(logger *slog.Logger) *LogHost {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogHost{logger: logger}
}

// Unsandboxed always reports true.
func (h *LogHost) Unsandboxed() bool { return true }

// Register caches the initial descriptor.
func (h *LogHost) Register(ext Extension) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ext != nil {
		return oops.In("hotswap").With("identity", ext.Identity()).Errorf("extension already registered")
	}
	h.ext = ext
	h.store(ext.Descriptor())
	h.logger.Info("extension registered", "identity", ext.Identity())
	return nil
}

// Refresh re-queries the descriptor and records a redraw if it changed.
func (h *LogHost) Refresh(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.ext == nil {
		return oops.In("hotswap").Errorf("refresh before register")
	}
	desc := h.ext.Descriptor()
	if h.cached != nil && reflect.DeepEqual(*h.cached, desc) {
		h.logger.Debug("descriptor unchanged, redraw skipped", "identity", desc.Identity)
		return nil
	}
	h.store(desc)
	h.logger.Info("redraw",
		"identity", desc.Identity,
		"name", desc.DisplayName,
		"opcodes", desc.Opcodes())
	return nil
}

func (h *LogHost) store(desc extension.CapabilityDescriptor) {
	c := desc.Clone()
	h.cached = &c
	h.history = append(h.history, c)
}

// History returns every descriptor the host has drawn, oldest first.
func (h *LogHost) History() []extension.CapabilityDescriptor {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]extension.CapabilityDescriptor, len(h.history))
	copy(out, h.history)
	return out
}

// Current returns the descriptor the host is showing.
func (h *LogHost) Current() (extension.CapabilityDescriptor, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cached == nil {
		return extension.CapabilityDescriptor{}, false
	}
	return h.cached.Clone(), true
}
