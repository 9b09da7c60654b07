// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package broadcast fans change events out to push-channel connections.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/holomush/extreload/internal/observability"
	"github.com/holomush/extreload/pkg/extension"
)

// DefaultQueueSize bounds the per-connection backlog.
const DefaultQueueSize = 16

// Sender writes one serialized event to a connection.
type Sender interface {
	Send(data []byte) error
	Close() error
}

// Options tunes the broadcaster.
type Options struct {
	QueueSize int
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// Client is one registered connection.
type Client struct {
	ID     string
	sender Sender
	queue  chan []byte
	done   chan struct{}
	once   sync.Once
}

// Done is closed when the client has been removed.
func (c *Client) Done() <-chan struct{} { return c.done }

// Broadcaster distributes change events to every open connection. Delivery is
// fire-and-forget: a slow or failed connection is dropped without affecting
// the others, and nothing is retried.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[string]*Client
	closed  bool
	opts    Options
	wg      sync.WaitGroup
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster(opts Options) *Broadcaster {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Broadcaster{
		clients: make(map[string]*Client),
		opts:    opts,
	}
}

// Add registers s and starts its writer. Events are written in broadcast order.
// Returns nil if the broadcaster is closed; s is closed in that case.
func (b *Broadcaster) Add(s Sender) *Client {
	c := &Client{
		ID:     ulid.Make().String(),
		sender: s,
		queue:  make(chan []byte, b.opts.QueueSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = s.Close()
		return nil
	}
	b.clients[c.ID] = c
	n := len(b.clients)
	b.wg.Add(1)
	b.mu.Unlock()

	b.opts.Metrics.SetPushConnections(n)
	b.opts.Logger.Info("push client connected", "client_id", c.ID, "clients", n)

	go b.writeLoop(c)
	return c
}

// Remove unregisters c and closes its connection. Safe to call repeatedly.
func (b *Broadcaster) Remove(c *Client) {
	if c == nil {
		return
	}
	b.mu.Lock()
	_, ok := b.clients[c.ID]
	delete(b.clients, c.ID)
	n := len(b.clients)
	b.mu.Unlock()

	c.once.Do(func() {
		close(c.done)
		if err := c.sender.Close(); err != nil {
			b.opts.Logger.Debug("error closing push client", "client_id", c.ID, "error", err)
		}
	})

	if ok {
		b.opts.Metrics.SetPushConnections(n)
		b.opts.Logger.Info("push client disconnected", "client_id", c.ID, "clients", n)
	}
}

// Broadcast serializes ev once and queues it on every connection. It never
// blocks on a connection; returns the number of connections it was queued on.
func (b *Broadcaster) Broadcast(ev extension.ChangeEvent) int {
	data, err := json.Marshal(ev)
	if err != nil {
		b.opts.Logger.Error("failed to encode change event", "error", err)
		return 0
	}

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		targets = append(targets, c)
	}
	b.mu.RUnlock()

	queued := 0
	for _, c := range targets {
		select {
		case <-c.done:
			continue
		default:
		}
		select {
		case c.queue <- data:
			queued++
		default:
			b.opts.Metrics.RecordPushSendFailure()
			b.opts.Logger.Warn("change event dropped: client queue full", "client_id", c.ID)
		}
	}

	b.opts.Metrics.RecordBroadcast()
	b.opts.Logger.Debug("change event broadcast", "digest", ev.Digest, "clients", queued)
	return queued
}

// Count returns the number of open connections.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close removes every connection, rejects new ones and waits for writers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	b.closed = true
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		b.Remove(c)
	}
	b.wg.Wait()
}

func (b *Broadcaster) writeLoop(c *Client) {
	defer b.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if err := c.sender.Send(data); err != nil {
				b.opts.Metrics.RecordPushSendFailure()
				b.opts.Logger.Warn("push send failed", "client_id", c.ID, "error", err)
				b.Remove(c)
				return
			}
		}
	}
}
