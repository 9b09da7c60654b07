// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package loader

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/extreload/pkg/errutil"
	"github.com/holomush/extreload/pkg/extension"
)

const counterExtension = `
class Counter {
  constructor() { this.n = 0; }
  getInfo() {
    return {
      id: 'counter',
      name: 'Counter',
      color1: '#4C97FF',
      blocks: [
        { opcode: 'bump', blockType: Scratch.BlockType.COMMAND, text: 'bump by [BY]',
          arguments: { BY: { type: Scratch.ArgumentType.NUMBER, defaultValue: 1 } } },
        '---',
        { opcode: 'value', blockType: Scratch.BlockType.REPORTER, text: 'value' },
        { opcode: 'isZero', blockType: Scratch.BlockType.BOOLEAN, text: 'is zero?', func: 'checkZero' },
      ],
    };
  }
  bump(args) { this.n += Number(args.BY); }
  value() { return this.n; }
  checkZero() { return this.n === 0; }
  async later() { return 'done'; }
  boom() { throw new Error('kaboom'); }
}
Scratch.extensions.register(new Counter());
`

func TestLoad_CapturesSingleRegistration(t *testing.T) {
	impl, err := New(Options{}).Load(context.Background(), []byte(counterExtension))
	require.NoError(t, err)

	desc, err := impl.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "counter", desc.Identity)
	assert.Equal(t, "Counter", desc.DisplayName)
	assert.Equal(t, "#4C97FF", desc.Theme.Primary)
	assert.Equal(t, []string{"bump", "value", "isZero"}, desc.Opcodes())
	require.Len(t, desc.Actions, 4)
	assert.True(t, desc.Actions[1].IsSeparator())
	assert.Equal(t, extension.ActionCommand, desc.Actions[0].Kind)
	assert.Equal(t, "number", desc.Actions[0].Arguments["BY"].Type)
	assert.Equal(t, extension.ActionBoolean, desc.Actions[3].Kind)
	assert.Equal(t, "checkZero", desc.Actions[3].Handler())
}

func TestLoad_InvokeKeepsState(t *testing.T) {
	ctx := context.Background()
	impl, err := New(Options{}).Load(ctx, []byte(counterExtension))
	require.NoError(t, err)

	_, err = impl.Invoke(ctx, "bump", map[string]any{"BY": 3})
	require.NoError(t, err)
	got, err := impl.Invoke(ctx, "value", nil)
	require.NoError(t, err)
	assert.EqualValues(t, 3, got)

	zero, err := impl.Invoke(ctx, "checkZero", nil)
	require.NoError(t, err)
	assert.Equal(t, false, zero)
}

func TestLoad_InvokeSettledPromise(t *testing.T) {
	ctx := context.Background()
	impl, err := New(Options{}).Load(ctx, []byte(counterExtension))
	require.NoError(t, err)

	got, err := impl.Invoke(ctx, "later", nil)
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestLoad_InvokeErrors(t *testing.T) {
	ctx := context.Background()
	impl, err := New(Options{}).Load(ctx, []byte(counterExtension))
	require.NoError(t, err)

	_, err = impl.Invoke(ctx, "boom", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	_, err = impl.Invoke(ctx, "missing", nil)
	require.Error(t, err)
}

func TestLoad_Failures(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		reason  string
	}{
		{"throws", `throw new Error('syntax is fine, logic is not');`, ReasonThrew},
		{"syntax error", `class {`, ReasonThrew},
		{"never registers", `const x = 1;`, ReasonNoRegister},
		{"registers twice", counterExtension + "\nScratch.extensions.register(new Counter());", ReasonMultiple},
		{"registers a primitive", `Scratch.extensions.register(42);`, ReasonInvalidValue},
		{"object without getInfo", `Scratch.extensions.register({});`, ReasonInvalidValue},
		{"registers then throws", counterExtension + "\nthrow new Error('late');", ReasonThrew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			impl, err := New(Options{}).Load(context.Background(), []byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, impl)
			errutil.AssertErrorReason(t, err, tt.reason)
		})
	}
}

func TestLoad_TimeoutInterruptsRunawayPayload(t *testing.T) {
	start := time.Now()
	_, err := New(Options{Timeout: 50 * time.Millisecond}).Load(context.Background(), []byte(`for(;;){}`))
	require.Error(t, err)
	errutil.AssertErrorReason(t, err, ReasonTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLoad_CancelledContextInterrupts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := New(Options{Timeout: 10 * time.Second}).Load(ctx, []byte(`while(true){}`))
	require.Error(t, err)
	errutil.AssertErrorReason(t, err, ReasonTimeout)
}

func TestLoad_ExposesHostGlobals(t *testing.T) {
	payload := `
if (!Scratch.extensions.unsandboxed) throw new Error('sandboxed');
console.log('loading', Scratch.translate({default: 'hi'}));
class E { getInfo() { return { id: 'e', name: Scratch.translate('E'), blocks: [] }; } }
Scratch.extensions.register(new E());
`
	impl, err := New(Options{}).Load(context.Background(), []byte(payload))
	require.NoError(t, err)
	desc, err := impl.Descriptor()
	require.NoError(t, err)
	assert.Equal(t, "E", desc.DisplayName)
	assert.Empty(t, desc.Actions)
}

func TestDescriptor_RejectsMalformedInfo(t *testing.T) {
	tests := map[string]string{
		"no id":            `{ name: 'x', blocks: [] }`,
		"duplicate opcode": `{ id: 'x', blocks: [{opcode: 'a'}, {opcode: 'a'}] }`,
		"missing opcode":   `{ id: 'x', blocks: [{text: 'a'}] }`,
		"unknown type":     `{ id: 'x', blocks: [{opcode: 'a', blockType: 'xml'}] }`,
		"not an object":    `'nope'`,
	}
	for name, info := range tests {
		t.Run(name, func(t *testing.T) {
			payload := "Scratch.extensions.register({ getInfo() { return " + info + "; } });"
			impl, err := New(Options{}).Load(context.Background(), []byte(payload))
			require.NoError(t, err)
			_, err = impl.Descriptor()
			require.Error(t, err)
		})
	}
}

func TestDescriptor_DisplayBlocks(t *testing.T) {
	payload := `
class Docs {
  getInfo() {
    return { id: 'docs', name: 'Docs', blocks: [
      { blockType: Scratch.BlockType.LABEL, text: 'Basics' },
      { opcode: 'ping', blockType: Scratch.BlockType.COMMAND, text: 'ping' },
      { opcode: 'repeat', blockType: Scratch.BlockType.LOOP, text: 'repeat' },
      { func: 'openDocs', blockType: Scratch.BlockType.BUTTON, text: 'Open docs' },
    ] };
  }
  ping() {}
  repeat() {}
  openDocs() {}
}
Scratch.extensions.register(new Docs());
`
	impl, err := New(Options{}).Load(context.Background(), []byte(payload))
	require.NoError(t, err)
	desc, err := impl.Descriptor()
	require.NoError(t, err)

	require.Len(t, desc.Actions, 4)
	assert.Equal(t, extension.ActionLabel, desc.Actions[0].Kind)
	assert.Equal(t, "Basics", desc.Actions[0].Label)
	assert.Equal(t, extension.ActionLoop, desc.Actions[2].Kind)
	assert.Equal(t, extension.ActionButton, desc.Actions[3].Kind)
	assert.Equal(t, "openDocs", desc.Actions[3].HandlerRef)
	assert.Equal(t, []string{"ping", "repeat"}, desc.Opcodes())
}
