// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package loader evaluates a fetched extension payload in an isolated goja
// runtime and captures the single object it registers.
package loader

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dop251/goja"
	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/errutil"
	"github.com/holomush/extreload/pkg/extension"
)

// DefaultTimeout bounds payload evaluation and each handler call.
const DefaultTimeout = 2 * time.Second

// Failure reasons attached to load errors under errutil.ReasonKey.
const (
	ReasonThrew        = "threw"
	ReasonTimeout      = "timeout"
	ReasonNoRegister   = "no_registration"
	ReasonMultiple     = "multiple_registrations"
	ReasonInvalidValue = "invalid_registration"
)

// Options configures a Loader.
type Options struct {
	// Timeout bounds evaluation of the payload and every later handler call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Loader turns payload bytes into an extension.Implementation.
type Loader struct {
	opts Options
}

// New creates a Loader.
func New(opts Options) *Loader {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{opts: opts}
}

// scope records registrations made while one payload runs. It belongs to a
// single runtime and is discarded with it.
type scope struct {
	captured []*goja.Object
	invalid  bool
}

func (s *scope) register(call goja.FunctionCall) goja.Value {
	obj, ok := call.Argument(0).(*goja.Object)
	if !ok {
		s.invalid = true
		return goja.Undefined()
	}
	s.captured = append(s.captured, obj)
	return goja.Undefined()
}

// Load evaluates payload in a fresh runtime. The payload must call
// Scratch.extensions.register exactly once with an object exposing getInfo.
// Exceptions, panics, timeouts and any other registration count fail the load;
// nothing captured by a failed load escapes.
func (l *Loader) Load(ctx context.Context, payload []byte) (impl extension.Implementation, err error) {
	vm := goja.New()
	sc := &scope{}
	if err := installGlobals(vm, sc.register, l.opts.Logger); err != nil {
		return nil, oops.In("loader").Wrap(err)
	}

	defer func() {
		if r := recover(); r != nil {
			impl = nil
			err = oops.In("loader").With(errutil.ReasonKey, ReasonThrew).Errorf("payload panicked: %v", r)
		}
	}()

	runErr := withDeadline(ctx, vm, l.opts.Timeout, func() error {
		_, err := vm.RunScript("extension.js", string(payload))
		return err //nolint:wrapcheck // classified by the caller
	})
	if runErr != nil {
		return nil, classify(runErr)
	}

	switch {
	case sc.invalid:
		return nil, oops.In("loader").With(errutil.ReasonKey, ReasonInvalidValue).Errorf("register called with a non-object")
	case len(sc.captured) == 0:
		return nil, oops.In("loader").With(errutil.ReasonKey, ReasonNoRegister).Errorf("payload did not register an extension")
	case len(sc.captured) > 1:
		return nil, oops.In("loader").With(errutil.ReasonKey, ReasonMultiple).With("count", len(sc.captured)).
			Errorf("payload registered %d extensions, expected exactly one", len(sc.captured))
	}

	obj := sc.captured[0]
	if _, ok := goja.AssertFunction(obj.Get("getInfo")); !ok {
		return nil, oops.In("loader").With(errutil.ReasonKey, ReasonInvalidValue).Errorf("registered object has no getInfo method")
	}
	return &jsImplementation{vm: vm, obj: obj, timeout: l.opts.Timeout}, nil
}

// withDeadline runs fn with the runtime interrupted when ctx ends or timeout
// elapses, whichever is first.
func withDeadline(ctx context.Context, vm *goja.Runtime, timeout time.Duration, fn func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		vm.ClearInterrupt()
	}()
	return fn()
}

func classify(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return oops.In("loader").With(errutil.ReasonKey, ReasonTimeout).Wrapf(err, "payload evaluation interrupted")
	}
	return oops.In("loader").With(errutil.ReasonKey, ReasonThrew).Wrapf(err, "payload threw")
}

// jsValueString renders a JS value for logs and error messages.
func jsValueString(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	if goja.IsNull(v) {
		return "null"
	}
	return v.String()
}
