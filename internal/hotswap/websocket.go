// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/holomush/extreload/pkg/extension"
)

// WebSocketDialer dials the distribution server's push channel.
type WebSocketDialer struct {
	url    string
	dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer for the push channel of the server at
// baseURL (http or https).
func NewWebSocketDialer(baseURL string) *WebSocketDialer {
	return &WebSocketDialer{url: extension.PushURL(baseURL), dialer: websocket.DefaultDialer}
}

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Channel, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.url, http.Header{})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, oops.In("hotswap").With("url", d.url).Wrap(err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

// Read returns the next text message. Cancelling ctx closes the connection so
// a blocked read returns.
func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { _ = c.conn.Close() })
	defer stop()
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, oops.In("hotswap").Wrap(err)
		}
		if kind == websocket.TextMessage {
			return data, nil
		}
	}
}

func (c *wsChannel) Close() error {
	//nolint:wrapcheck // close error is discarded by the caller
	return c.conn.Close()
}
