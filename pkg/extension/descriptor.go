// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package extension defines the descriptor an extension hands to its host and
// the wire messages exchanged between the dev server and attached clients.
package extension

// ActionKind identifies how the host renders an action.
type ActionKind string

// Action kinds understood by the host.
const (
	ActionCommand     ActionKind = "command"
	ActionReporter    ActionKind = "reporter"
	ActionBoolean     ActionKind = "boolean"
	ActionHat         ActionKind = "hat"
	ActionLoop        ActionKind = "loop"
	ActionConditional ActionKind = "conditional"

	// Display kinds carry no opcode and are never invoked through the proxy.
	ActionSeparator ActionKind = "separator"
	ActionLabel     ActionKind = "label"
	ActionButton    ActionKind = "button"
)

// IsValid reports whether k is a known action kind.
func (k ActionKind) IsValid() bool {
	switch k {
	case ActionCommand, ActionReporter, ActionBoolean, ActionHat, ActionLoop, ActionConditional,
		ActionSeparator, ActionLabel, ActionButton:
		return true
	default:
		return false
	}
}

// IsDisplay reports whether k only decorates the palette.
func (k ActionKind) IsDisplay() bool {
	return k == ActionSeparator || k == ActionLabel || k == ActionButton
}

// ColorTheme is the block palette shown by the host (color1..color3).
type ColorTheme struct {
	Primary   string `json:"color1,omitempty"`
	Secondary string `json:"color2,omitempty"`
	Tertiary  string `json:"color3,omitempty"`
}

// Argument describes one input slot of an action.
type Argument struct {
	Type         string `json:"type"`
	DefaultValue any    `json:"defaultValue,omitempty"`
}

// ActionDescriptor is one palette entry. Opcode is unique within a
// descriptor; display entries (separators, labels, buttons) carry none.
type ActionDescriptor struct {
	Opcode     string              `json:"opcode,omitempty"`
	Kind       ActionKind          `json:"blockType"`
	Label      string              `json:"text,omitempty"`
	HandlerRef string              `json:"func,omitempty"`
	Arguments  map[string]Argument `json:"arguments,omitempty"`
}

// IsSeparator reports whether the action is a visual divider.
func (a ActionDescriptor) IsSeparator() bool {
	return a.Kind == ActionSeparator
}

// Invocable reports whether the action dispatches by opcode.
func (a ActionDescriptor) Invocable() bool {
	return !a.Kind.IsDisplay()
}

// Handler returns the handler name the action dispatches to. Actions without an
// explicit handler dispatch to a method named after their opcode.
func (a ActionDescriptor) Handler() string {
	if a.HandlerRef != "" {
		return a.HandlerRef
	}
	return a.Opcode
}

// CapabilityDescriptor is what the host caches per registration or refresh.
type CapabilityDescriptor struct {
	Identity    string             `json:"id"`
	DisplayName string             `json:"name"`
	Theme       ColorTheme         `json:"theme"`
	Actions     []ActionDescriptor `json:"blocks"`
}

// Clone returns a deep copy so callers can decorate a descriptor without
// mutating the one an implementation returned.
func (d CapabilityDescriptor) Clone() CapabilityDescriptor {
	out := d
	out.Actions = make([]ActionDescriptor, len(d.Actions))
	for i, a := range d.Actions {
		if a.Arguments != nil {
			args := make(map[string]Argument, len(a.Arguments))
			for k, v := range a.Arguments {
				args[k] = v
			}
			a.Arguments = args
		}
		out.Actions[i] = a
	}
	return out
}

// Opcodes returns the opcodes of all invocable actions, in order.
func (d CapabilityDescriptor) Opcodes() []string {
	ops := make([]string, 0, len(d.Actions))
	for _, a := range d.Actions {
		if !a.Invocable() {
			continue
		}
		ops = append(ops, a.Opcode)
	}
	return ops
}

// Action looks up an action by opcode.
func (d CapabilityDescriptor) Action(opcode string) (ActionDescriptor, bool) {
	for _, a := range d.Actions {
		if a.Invocable() && a.Opcode == opcode {
			return a, true
		}
	}
	return ActionDescriptor{}, false
}
