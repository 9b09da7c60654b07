// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package detector turns file-system notifications for the artifact into
// debounced change events.
//
// The detector never checks whether the digest actually changed: every
// debounced burst of writes produces one emission. Clients decide whether
// there is work to do.
package detector

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/oops"

	"github.com/holomush/extreload/internal/artifact"
	"github.com/holomush/extreload/internal/observability"
)

// DefaultDebounce is the coalescing window used when Options leaves it unset.
const DefaultDebounce = 100 * time.Millisecond

// Emitter receives the digest computed when a debounce window closes.
type Emitter func(digest string)

// Options tunes the detector.
type Options struct {
	// Debounce is the window opened by the first notification of a quiet
	// period. Zero uses DefaultDebounce; a negative value disables
	// coalescing and emits on every notification.
	Debounce time.Duration
	Logger   *slog.Logger
	Metrics  *observability.Metrics
}

func (o *Options) defaults() {
	if o.Debounce == 0 {
		o.Debounce = DefaultDebounce
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Notifications int64 `json:"notifications"`
	Emitted       int64 `json:"emitted"`
	WatchErrors   int64 `json:"watch_errors"`
}

// Detector debounces artifact writes. It is safe for concurrent use.
type Detector struct {
	artifact *artifact.Artifact
	emit     Emitter
	opts     Options

	mu      sync.Mutex
	armed   bool
	timer   *time.Timer
	stopped bool

	notifications atomic.Int64
	emitted       atomic.Int64
	watchErrors   atomic.Int64
}

// New creates a Detector for a. emit is called from a timer goroutine.
func New(a *artifact.Artifact, emit Emitter, opts Options) *Detector {
	opts.defaults()
	return &Detector{artifact: a, emit: emit, opts: opts}
}

// Stats returns the current counters.
func (d *Detector) Stats() Stats {
	return Stats{
		Notifications: d.notifications.Load(),
		Emitted:       d.emitted.Load(),
		WatchErrors:   d.watchErrors.Load(),
	}
}

// Notify records one write. The first call in a quiet period arms the
// debounce timer; calls while it is armed are coalesced into that emission.
func (d *Detector) Notify() {
	d.notifications.Add(1)

	if d.opts.Debounce < 0 {
		d.fire()
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || d.armed {
		return
	}
	d.armed = true
	d.timer = time.AfterFunc(d.opts.Debounce, d.onTimer)
}

func (d *Detector) onTimer() {
	d.mu.Lock()
	d.armed = false
	d.timer = nil
	stopped := d.stopped
	d.mu.Unlock()

	if stopped {
		return
	}
	d.fire()
}

// fire recomputes the digest and emits. The digest may already be stale by
// the time clients act on it; they re-query /version anyway.
func (d *Detector) fire() {
	digest := d.artifact.Digest()
	d.emitted.Add(1)
	d.opts.Metrics.RecordArtifactChange()

	d.opts.Logger.Info("artifact updated",
		"file", d.artifact.Name(),
		"size", artifact.HumanSize(d.artifact.Size()),
		"digest", digest,
		"time", time.Now().Format(time.TimeOnly),
	)

	if d.emit != nil {
		d.emit(digest)
	}
}

// Stop cancels a pending emission and ignores further notifications.
func (d *Detector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.armed = false
}

// Run watches the artifact's directory until ctx is cancelled. Watching the
// directory rather than the file keeps rename-and-replace saves visible.
func (d *Detector) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return oops.In("detector").Hint("failed to create file watcher").Wrap(err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			d.opts.Logger.Debug("error closing file watcher", "error", closeErr)
		}
	}()

	dir := filepath.Dir(d.artifact.Path())
	if err := watcher.Add(dir); err != nil {
		return oops.In("detector").With("dir", dir).Hint("failed to watch artifact directory").Wrap(err)
	}

	d.opts.Logger.Info("watching artifact",
		"path", d.artifact.Path(),
		"debounce", d.opts.Debounce,
	)

	for {
		select {
		case <-ctx.Done():
			d.Stop()
			d.opts.Logger.Info("stopped watching artifact")
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !d.relevant(ev) {
				continue
			}
			d.opts.Logger.Debug("artifact event", "op", ev.Op.String())
			d.Notify()

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			d.watchErrors.Add(1)
			d.opts.Logger.Warn("file watcher error", "error", werr)
		}
	}
}

func (d *Detector) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != d.artifact.Path() {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}
