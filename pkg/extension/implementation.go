// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package extension

import "context"

// Implementation is the behavior behind a registered extension. It is replaced
// wholesale on every successful update and never mutated in place.
type Implementation interface {
	// Descriptor returns the capability descriptor as the implementation
	// reports it.
	Descriptor() (CapabilityDescriptor, error)

	// Invoke runs the named handler with the host-supplied arguments.
	Invoke(ctx context.Context, handlerRef string, args map[string]any) (any, error)
}
