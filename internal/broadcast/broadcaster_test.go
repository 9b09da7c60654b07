// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package broadcast

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/holomush/extreload/pkg/extension"
)

type fakeSender struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	block  chan struct{}
	closed bool
}

func (f *fakeSender) Send(data []byte) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("broken pipe")
	}
	f.msgs = append(f.msgs, data)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) received() []extension.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]extension.ChangeEvent, 0, len(f.msgs))
	for _, m := range f.msgs {
		var ev extension.ChangeEvent
		if err := json.Unmarshal(m, &ev); err == nil {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestBroadcaster_FansOutToAllClients(t *testing.T) {
	defer goleak.VerifyNone(t)

	bc := NewBroadcaster(Options{})
	defer bc.Close()

	s1, s2 := &fakeSender{}, &fakeSender{}
	bc.Add(s1)
	bc.Add(s2)
	require.Equal(t, 2, bc.Count())

	assert.Equal(t, 2, bc.Broadcast(extension.NewChangeEvent("d1")))

	for _, s := range []*fakeSender{s1, s2} {
		require.Eventually(t, func() bool { return len(s.received()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, extension.ChangeEvent{Kind: extension.KindChange, Digest: "d1"}, s.received()[0])
	}
}

func TestBroadcaster_PreservesPerConnectionOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	bc := NewBroadcaster(Options{QueueSize: 8})
	defer bc.Close()

	s := &fakeSender{}
	bc.Add(s)
	for _, d := range []string{"a", "b", "c"} {
		bc.Broadcast(extension.NewChangeEvent(d))
	}

	require.Eventually(t, func() bool { return len(s.received()) == 3 }, time.Second, 5*time.Millisecond)
	got := s.received()
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].Digest, got[1].Digest, got[2].Digest})
}

func TestBroadcaster_FailedClientDoesNotAffectOthers(t *testing.T) {
	defer goleak.VerifyNone(t)

	bc := NewBroadcaster(Options{})
	defer bc.Close()

	bad, good := &fakeSender{fail: true}, &fakeSender{}
	bc.Add(bad)
	bc.Add(good)

	bc.Broadcast(extension.NewChangeEvent("d1"))

	require.Eventually(t, func() bool { return len(good.received()) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, bad.isClosed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, bc.Count(), "failed connection is dropped")
}

func TestBroadcaster_FullQueueDropsWithoutBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	bc := NewBroadcaster(Options{QueueSize: 1})

	slow := &fakeSender{block: make(chan struct{})}
	fast := &fakeSender{}
	bc.Add(slow)
	bc.Add(fast)

	done := make(chan struct{})
	go func() {
		for range 5 {
			bc.Broadcast(extension.NewChangeEvent("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a slow client")
	}

	require.Eventually(t, func() bool { return len(fast.received()) >= 1 }, time.Second, 5*time.Millisecond)
	close(slow.block)
	bc.Close()
}

func TestBroadcaster_RemoveIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	bc := NewBroadcaster(Options{})
	s := &fakeSender{}
	c := bc.Add(s)

	bc.Remove(c)
	bc.Remove(c)
	bc.Remove(nil)

	assert.Equal(t, 0, bc.Count())
	assert.True(t, s.isClosed())
	bc.Close()
}

func TestBroadcaster_AddAfterCloseIsRejected(t *testing.T) {
	bc := NewBroadcaster(Options{})
	bc.Close()

	s := &fakeSender{}
	assert.Nil(t, bc.Add(s))
	assert.True(t, s.isClosed())
}

func TestBroadcaster_WebSocketEndToEnd(t *testing.T) {
	bc := NewBroadcaster(Options{})
	srv := httptest.NewServer(bc)
	defer srv.Close()
	defer bc.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	defer func() { _ = conn.Close() }()

	require.Eventually(t, func() bool { return bc.Count() == 1 }, time.Second, 5*time.Millisecond)
	bc.Broadcast(extension.NewChangeEvent("d42"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev extension.ChangeEvent
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, "d42", ev.Digest)
	assert.Equal(t, extension.KindChange, ev.Kind)

	_ = conn.Close()
	require.Eventually(t, func() bool { return bc.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
