// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dop251/goja"
)

// blockTypes mirrors Scratch.BlockType.
var blockTypes = map[string]string{
	"BOOLEAN":     "Boolean",
	"BUTTON":      "button",
	"COMMAND":     "command",
	"CONDITIONAL": "conditional",
	"EVENT":       "event",
	"HAT":         "hat",
	"LABEL":       "label",
	"LOOP":        "loop",
	"REPORTER":    "reporter",
}

// argumentTypes mirrors Scratch.ArgumentType.
var argumentTypes = map[string]string{
	"ANGLE":   "angle",
	"BOOLEAN": "Boolean",
	"COLOR":   "color",
	"COSTUME": "costume",
	"IMAGE":   "image",
	"MATRIX":  "matrix",
	"NOTE":    "note",
	"NUMBER":  "number",
	"SOUND":   "sound",
	"STRING":  "string",
}

// installGlobals exposes the subset of the host API an extension payload
// touches at load time. register is the capture callback; nothing reaches a
// real host from here.
func installGlobals(vm *goja.Runtime, register func(goja.FunctionCall) goja.Value, logger *slog.Logger) error {
	extensions := vm.NewObject()
	if err := extensions.Set("register", register); err != nil {
		return err //nolint:wrapcheck // wrapped by Load
	}
	if err := extensions.Set("unsandboxed", true); err != nil {
		return err //nolint:wrapcheck // wrapped by Load
	}

	scratch := vm.NewObject()
	for k, v := range map[string]any{
		"extensions":   extensions,
		"BlockType":    blockTypes,
		"ArgumentType": argumentTypes,
		"translate":    translate,
	} {
		if err := scratch.Set(k, v); err != nil {
			return err //nolint:wrapcheck // wrapped by Load
		}
	}
	if err := vm.Set("Scratch", scratch); err != nil {
		return err //nolint:wrapcheck // wrapped by Load
	}

	console := vm.NewObject()
	logger = logger.With("source", "payload")
	for name, level := range map[string]slog.Level{
		"log":   slog.LevelInfo,
		"info":  slog.LevelInfo,
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		lvl := level
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = jsValueString(a)
			}
			logger.Log(context.Background(), lvl, strings.Join(parts, " "))
			return goja.Undefined()
		}); err != nil {
			return err //nolint:wrapcheck // wrapped by Load
		}
	}
	return vm.Set("console", console) //nolint:wrapcheck // wrapped by Load
}

// translate accepts either a plain string or a {default: string} message.
func translate(call goja.FunctionCall) goja.Value {
	arg := call.Argument(0)
	if obj, ok := arg.(*goja.Object); ok {
		if def := obj.Get("default"); def != nil && !goja.IsUndefined(def) {
			return def
		}
	}
	return arg
}
