// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package broadcast

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"
)

const writeWait = 5 * time.Second

// upgrader accepts any origin: the host editor is served from a different
// origin than the dev server.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsSender adapts a gorilla connection to Sender.
type wsSender struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return oops.In("broadcast").Wrap(err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return oops.In("broadcast").Wrap(err)
	}
	return nil
}

func (s *wsSender) Close() error {
	s.mu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	s.mu.Unlock()
	//nolint:wrapcheck // close error is only logged by the caller
	return s.conn.Close()
}

// ServeHTTP upgrades the request to the push channel and holds it open until
// the peer goes away. The protocol defines no client messages; anything the
// peer sends is discarded.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		b.opts.Logger.Warn("push channel upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := b.Add(&wsSender{conn: conn})
	if c == nil {
		return
	}

	for {
		if _, _, err := conn.NextReader(); err != nil {
			b.Remove(c)
			return
		}
	}
}
