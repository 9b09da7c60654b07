// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// Control opcodes owned by the proxy rather than the implementation.
const (
	ForceReloadOpcode = "__forceReload__"
	LoadingOpcode     = "__loading__"
)

// Placeholder presentation while an update is in flight.
const (
	LoadingDisplayName = "Hot reloading..."
	LoadingLabel       = "Fetching new code..."
)

// LoadingTheme is the orange palette of the placeholder descriptor.
var LoadingTheme = extension.ColorTheme{Primary: "#FF5500", Secondary: "#E64D00", Tertiary: "#CC4400"}

// Strategy decides what the host sees while a swap is in progress so that it
// notices the change and discards its cached descriptor.
type Strategy interface {
	Name() string
	// Transient is the descriptor shown while transitioning. steady is the
	// decorated descriptor of the implementation still in place.
	Transient(steady extension.CapabilityDescriptor, token string) extension.CapabilityDescriptor
	// Canonical maps an opcode the host may hold onto back to its real name.
	Canonical(opcode string) string
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case PlaceholderStrategy{}.Name():
		return PlaceholderStrategy{}, nil
	case RotationStrategy{}.Name():
		return RotationStrategy{}, nil
	default:
		return nil, oops.In("hotswap").With("strategy", name).Errorf("unknown refresh strategy %q", name)
	}
}

// NewToken derives a per-update token from the update time. Tokens are ULIDs,
// which keeps them unique across updates started in the same millisecond.
func NewToken(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), rand.Reader).String()
}

// PlaceholderStrategy swaps the whole descriptor for a single sentinel action.
type PlaceholderStrategy struct{}

// Name implements Strategy.
func (PlaceholderStrategy) Name() string { return "placeholder" }

// Transient implements Strategy.
func (PlaceholderStrategy) Transient(steady extension.CapabilityDescriptor, _ string) extension.CapabilityDescriptor {
	return extension.CapabilityDescriptor{
		Identity:    steady.Identity,
		DisplayName: LoadingDisplayName,
		Theme:       LoadingTheme,
		Actions: []extension.ActionDescriptor{{
			Opcode:     LoadingOpcode,
			Kind:       extension.ActionCommand,
			Label:      LoadingLabel,
			HandlerRef: LoadingOpcode,
		}},
	}
}

// Canonical implements Strategy.
func (PlaceholderStrategy) Canonical(opcode string) string { return opcode }

// RotationStrategy renames every real opcode for the duration of the swap so
// the host treats them as new actions, then restores the canonical names.
type RotationStrategy struct{}

// Name implements Strategy.
func (RotationStrategy) Name() string { return "rotation" }

// Transient implements Strategy.
func (RotationStrategy) Transient(steady extension.CapabilityDescriptor, token string) extension.CapabilityDescriptor {
	out := steady.Clone()
	for i, a := range out.Actions {
		if !a.Invocable() || a.Opcode == ForceReloadOpcode {
			continue
		}
		out.Actions[i].HandlerRef = a.Handler()
		out.Actions[i].Opcode = a.Opcode + "_" + token
	}
	return out
}

// Canonical implements Strategy. Only a trailing "_<ULID>" is stripped, so
// opcodes that merely contain underscores are left alone.
func (RotationStrategy) Canonical(opcode string) string {
	i := strings.LastIndexByte(opcode, '_')
	if i < 0 || len(opcode)-i-1 != ulid.EncodedSize {
		return opcode
	}
	if _, err := ulid.ParseStrict(opcode[i+1:]); err != nil {
		return opcode
	}
	return opcode[:i]
}
