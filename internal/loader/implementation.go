// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// separatorMarker is how a payload lists a divider among its blocks.
const separatorMarker = "---"

// jsImplementation is a captured payload object. A goja runtime is not safe
// for concurrent use, so every call into it holds mu.
type jsImplementation struct {
	mu      sync.Mutex
	vm      *goja.Runtime
	obj     *goja.Object
	timeout time.Duration
}

// Descriptor calls getInfo and converts the result.
func (j *jsImplementation) Descriptor() (desc extension.CapabilityDescriptor, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	defer recoverInto(&err, "getInfo")

	getInfo, ok := goja.AssertFunction(j.obj.Get("getInfo"))
	if !ok {
		return extension.CapabilityDescriptor{}, oops.In("loader").Errorf("getInfo is not a function")
	}

	var info goja.Value
	callErr := withDeadline(context.Background(), j.vm, j.timeout, func() error {
		var err error
		info, err = getInfo(j.obj)
		return err //nolint:wrapcheck // wrapped below
	})
	if callErr != nil {
		return extension.CapabilityDescriptor{}, oops.In("loader").With("handler", "getInfo").Wrap(callErr)
	}

	raw, ok := info.Export().(map[string]any)
	if !ok {
		return extension.CapabilityDescriptor{}, oops.In("loader").Errorf("getInfo returned %s, expected an object", jsValueString(info))
	}
	return descriptorFromInfo(raw)
}

// Invoke calls handlerRef on the captured object with args as its first
// parameter. A returned promise must already be settled when the call returns.
func (j *jsImplementation) Invoke(ctx context.Context, handlerRef string, args map[string]any) (result any, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	defer recoverInto(&err, handlerRef)

	fn, ok := goja.AssertFunction(j.obj.Get(handlerRef))
	if !ok {
		return nil, oops.In("loader").With("handler", handlerRef).Errorf("handler %q is not a function", handlerRef)
	}
	if args == nil {
		args = map[string]any{}
	}

	var out goja.Value
	callErr := withDeadline(ctx, j.vm, j.timeout, func() error {
		var err error
		out, err = fn(j.obj, j.vm.ToValue(args))
		return err //nolint:wrapcheck // wrapped below
	})
	if callErr != nil {
		return nil, oops.In("loader").With("handler", handlerRef).Wrap(callErr)
	}
	if out == nil || goja.IsUndefined(out) || goja.IsNull(out) {
		return nil, nil
	}

	if p, ok := out.Export().(*goja.Promise); ok {
		switch p.State() {
		case goja.PromiseStateFulfilled:
			return exportValue(p.Result()), nil
		case goja.PromiseStateRejected:
			return nil, oops.In("loader").With("handler", handlerRef).Errorf("handler rejected: %s", jsValueString(p.Result()))
		default:
			return nil, oops.In("loader").With("handler", handlerRef).Errorf("handler returned a promise that did not settle")
		}
	}
	return out.Export(), nil
}

func exportValue(v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func recoverInto(err *error, handler string) {
	if r := recover(); r != nil {
		*err = oops.In("loader").With("handler", handler).Errorf("handler panicked: %v", r)
	}
}

// descriptorFromInfo converts an exported getInfo object.
func descriptorFromInfo(info map[string]any) (extension.CapabilityDescriptor, error) {
	desc := extension.CapabilityDescriptor{
		Identity:    stringField(info, "id"),
		DisplayName: stringField(info, "name"),
		Theme: extension.ColorTheme{
			Primary:   stringField(info, "color1"),
			Secondary: stringField(info, "color2"),
			Tertiary:  stringField(info, "color3"),
		},
	}
	if desc.Identity == "" {
		return extension.CapabilityDescriptor{}, oops.In("loader").Errorf("getInfo result has no id")
	}

	blocks, _ := info["blocks"].([]any)
	seen := make(map[string]bool, len(blocks))
	for i, b := range blocks {
		switch v := b.(type) {
		case string:
			if v == separatorMarker {
				desc.Actions = append(desc.Actions, extension.ActionDescriptor{Kind: extension.ActionSeparator})
				continue
			}
			return extension.CapabilityDescriptor{}, oops.In("loader").With("index", i).Errorf("unexpected block %q", v)
		case map[string]any:
			action, err := actionFromBlock(v)
			if err != nil {
				return extension.CapabilityDescriptor{}, oops.In("loader").With("index", i).Wrap(err)
			}
			if !action.Invocable() {
				desc.Actions = append(desc.Actions, action)
				continue
			}
			if action.Opcode == "" {
				return extension.CapabilityDescriptor{}, oops.In("loader").With("index", i).Errorf("block has no opcode")
			}
			if seen[action.Opcode] {
				return extension.CapabilityDescriptor{}, oops.In("loader").With("opcode", action.Opcode).Errorf("duplicate opcode %q", action.Opcode)
			}
			seen[action.Opcode] = true
			desc.Actions = append(desc.Actions, action)
		default:
			return extension.CapabilityDescriptor{}, oops.In("loader").With("index", i).Errorf("unexpected block of type %T", b)
		}
	}
	return desc, nil
}

func actionFromBlock(b map[string]any) (extension.ActionDescriptor, error) {
	a := extension.ActionDescriptor{
		Opcode:     stringField(b, "opcode"),
		Kind:       normalizeKind(stringField(b, "blockType")),
		Label:      stringField(b, "text"),
		HandlerRef: stringField(b, "func"),
	}
	if !a.Kind.IsValid() {
		return extension.ActionDescriptor{}, oops.With("blockType", string(a.Kind)).Errorf("unsupported block type %q", a.Kind)
	}
	if raw, ok := b["arguments"].(map[string]any); ok && len(raw) > 0 {
		a.Arguments = make(map[string]extension.Argument, len(raw))
		for name, v := range raw {
			argSpec, _ := v.(map[string]any)
			a.Arguments[name] = extension.Argument{
				Type:         stringField(argSpec, "type"),
				DefaultValue: argSpec["defaultValue"],
			}
		}
	}
	return a, nil
}

func normalizeKind(k string) extension.ActionKind {
	switch k {
	case "":
		return extension.ActionCommand
	case "Boolean":
		return extension.ActionBoolean
	case "event":
		return extension.ActionHat
	default:
		return extension.ActionKind(strings.ToLower(k))
	}
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
