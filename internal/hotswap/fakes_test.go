// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/holomush/extreload/pkg/extension"
)

// fakeImpl is an implementation with a fixed descriptor that records calls.
type fakeImpl struct {
	name    string
	desc    extension.CapabilityDescriptor
	descErr error

	mu    sync.Mutex
	calls []string
}

func newFakeImpl(name string, opcodes ...string) *fakeImpl {
	desc := extension.CapabilityDescriptor{Identity: "reported-" + name, DisplayName: name}
	for _, op := range opcodes {
		desc.Actions = append(desc.Actions, extension.ActionDescriptor{Opcode: op, Kind: extension.ActionCommand, Label: op})
	}
	return &fakeImpl{name: name, desc: desc}
}

func (f *fakeImpl) Descriptor() (extension.CapabilityDescriptor, error) {
	if f.descErr != nil {
		return extension.CapabilityDescriptor{}, f.descErr
	}
	return f.desc.Clone(), nil
}

func (f *fakeImpl) Invoke(_ context.Context, handlerRef string, _ map[string]any) (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handlerRef)
	return f.name + ":" + handlerRef, nil
}

func (f *fakeImpl) invoked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeSource serves a digest and payload. When gate is set, Code blocks until
// it is closed.
type fakeSource struct {
	mu         sync.Mutex
	digest     string
	payload    []byte
	versionErr error
	codeErr    error
	gate       chan struct{}
	entered    chan struct{}

	versions atomic.Int32
	codes    atomic.Int32
}

func (s *fakeSource) set(digest, payload string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.digest, s.payload = digest, []byte(payload)
}

func (s *fakeSource) Version(context.Context) (string, error) {
	s.versions.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.digest, s.versionErr
}

func (s *fakeSource) Code(ctx context.Context) ([]byte, error) {
	s.codes.Add(1)
	s.mu.Lock()
	gate, entered := s.gate, s.entered
	s.mu.Unlock()
	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codeErr != nil {
		return nil, s.codeErr
	}
	return s.payload, nil
}

// fakeLoader maps payload text to implementations.
type fakeLoader struct {
	mu    sync.Mutex
	impls map[string]extension.Implementation
	loads atomic.Int32
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{impls: map[string]extension.Implementation{}}
}

func (l *fakeLoader) add(payload string, impl extension.Implementation) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.impls[payload] = impl
}

func (l *fakeLoader) Load(_ context.Context, payload []byte) (extension.Implementation, error) {
	l.loads.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	impl, ok := l.impls[string(payload)]
	if !ok {
		return nil, errors.New("payload threw: ReferenceError")
	}
	return impl, nil
}

// ackHost is a LogHost that can acknowledge redraws.
type ackHost struct {
	*LogHost
	acks atomic.Int32
}

func (h *ackHost) RefreshAndWait(ctx context.Context) error {
	h.acks.Add(1)
	return h.Refresh(ctx)
}

// sandboxedHost refuses privileged registration.
type sandboxedHost struct{ *LogHost }

func (sandboxedHost) Unsandboxed() bool { return false }

// fakeChecker records CheckUpdate calls.
type fakeChecker struct {
	mu    sync.Mutex
	calls []bool
}

func (c *fakeChecker) CheckUpdate(_ context.Context, force bool) (Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, force)
	return OutcomeUpToDate, nil
}

func (c *fakeChecker) recorded() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.calls...)
}

// fakeChannel delivers queued messages until closed.
type fakeChannel struct {
	msgs   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{msgs: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case m := <-c.msgs:
		return m, nil
	case <-c.closed:
		return nil, errors.New("channel closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeChannel) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out channels while up is set.
type fakeDialer struct {
	mu       sync.Mutex
	up       bool
	channels []*fakeChannel
	dials    atomic.Int32
}

func (d *fakeDialer) setUp(up bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.up = up
}

func (d *fakeDialer) Dial(context.Context) (Channel, error) {
	d.dials.Add(1)
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.up {
		return nil, errors.New("connection refused")
	}
	ch := newFakeChannel()
	d.channels = append(d.channels, ch)
	return ch, nil
}

func (d *fakeDialer) latest() *fakeChannel {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.channels) == 0 {
		return nil
	}
	return d.channels[len(d.channels)-1]
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.channels)
}
