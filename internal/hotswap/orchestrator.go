// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package hotswap

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/extreload/internal/artifact"
	"github.com/holomush/extreload/internal/observability"
	"github.com/holomush/extreload/pkg/errutil"
)

// DefaultRequestTimeout bounds each request when OrchestratorOptions leaves it unset.
const DefaultRequestTimeout = 5 * time.Second

// Outcome is the result of one CheckUpdate call.
type Outcome string

// Outcomes.
const (
	OutcomeApplied  Outcome = "applied"
	OutcomeUpToDate Outcome = "up_to_date"
	OutcomeQueued   Outcome = "queued"
	OutcomeFailed   Outcome = "failed"
)

// OrchestratorOptions tunes an Orchestrator.
type OrchestratorOptions struct {
	// SettleDelay separates the transient redraw from the final one when the
	// host cannot acknowledge redraws. Best effort only. Zero or negative
	// skips the pause.
	SettleDelay time.Duration
	// RequestTimeout bounds each version and code request.
	RequestTimeout time.Duration
	Logger         *slog.Logger
	Metrics        *observability.Metrics
	Tracer         trace.Tracer
	Now            func() time.Time
}

// Orchestrator runs update cycles against a StableProxy. Cycles never
// interleave: a call made while one is running is folded into a single
// follow-up cycle.
type Orchestrator struct {
	proxy  *StableProxy
	source Source
	loader ModuleLoader
	host   Host
	opts   OrchestratorOptions

	mu           sync.Mutex
	running      bool
	pending      bool
	pendingForce bool

	lastApplied atomic.Pointer[string]
	async       sync.WaitGroup
}

// NewOrchestrator wires an orchestrator. host may be nil (headless); redraws
// are then skipped. The proxy's control action is bound to ForceReload.
func NewOrchestrator(proxy *StableProxy, source Source, loader ModuleLoader, host Host, opts OrchestratorOptions) *Orchestrator {
	if opts.SettleDelay < 0 {
		opts.SettleDelay = 0
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("github.com/holomush/extreload/internal/hotswap")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	o := &Orchestrator{proxy: proxy, source: source, loader: loader, host: host, opts: opts}
	empty := ""
	o.lastApplied.Store(&empty)
	proxy.OnForceReload(o.ForceReload)
	return o
}

// LastAppliedDigest returns the digest of the implementation in place, or ""
// before the first successful update.
func (o *Orchestrator) LastAppliedDigest() string {
	return *o.lastApplied.Load()
}

// ForceReload starts a forced check in the background.
func (o *Orchestrator) ForceReload() {
	o.async.Add(1)
	go func() {
		defer o.async.Done()
		//nolint:errcheck // outcome is logged by the cycle
		o.CheckUpdate(context.Background(), true)
	}()
}

// Wait blocks until background reloads started by ForceReload have finished.
func (o *Orchestrator) Wait() {
	o.async.Wait()
}

// CheckUpdate compares the server version with the applied one and swaps the
// implementation when they differ or force is set. If a cycle is already
// running the request is queued and OutcomeQueued returned; queued requests
// collapse into one follow-up that runs as soon as the current cycle ends.
func (o *Orchestrator) CheckUpdate(ctx context.Context, force bool) (Outcome, error) {
	o.mu.Lock()
	if o.running {
		o.pending = true
		o.pendingForce = o.pendingForce || force
		o.mu.Unlock()
		o.opts.Metrics.RecordUpdate(string(OutcomeQueued), 0)
		o.opts.Logger.Debug("update already in flight, queued", "force", force)
		return OutcomeQueued, nil
	}
	o.running = true
	o.mu.Unlock()

	outcome, err := o.cycle(ctx, force)

	for {
		o.mu.Lock()
		if !o.pending {
			o.running = false
			o.mu.Unlock()
			break
		}
		next := o.pendingForce
		o.pending, o.pendingForce = false, false
		o.mu.Unlock()

		//nolint:errcheck // follow-up outcome is logged by the cycle
		o.cycle(ctx, next)
	}
	return outcome, err
}

// cycle is one pass of the update sequence. It is only ever entered by the
// goroutine holding the running flag.
func (o *Orchestrator) cycle(ctx context.Context, force bool) (outcome Outcome, err error) {
	started := o.opts.Now()
	ctx, span := o.opts.Tracer.Start(ctx, "Orchestrator.CheckUpdate",
		trace.WithAttributes(
			attribute.String("extension.identity", o.proxy.Identity()),
			attribute.Bool("force", force)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		o.opts.Metrics.RecordUpdate(string(outcome), o.opts.Now().Sub(started))
	}()

	digest, err := o.version(ctx)
	if err != nil {
		err = oops.In("hotswap").Code(CodeNetworkUnavailable).Wrapf(err, "query version")
		errutil.LogWarn(o.opts.Logger, "update check failed", err)
		return OutcomeFailed, err
	}

	last := o.LastAppliedDigest()
	if digest == last && !force {
		o.opts.Logger.Debug("extension up to date", "digest", digest)
		return OutcomeUpToDate, nil
	}

	o.proxy.BeginTransition(NewToken(started))
	o.redrawAndSettle(ctx)

	payload, err := o.code(ctx)
	if err != nil {
		o.rollback(ctx)
		err = oops.In("hotswap").Code(CodePayloadFetch).With("digest", digest).Wrapf(err, "fetch payload")
		errutil.LogWarn(o.opts.Logger, "update aborted, keeping current implementation", err)
		return OutcomeFailed, err
	}

	impl, err := o.loader.Load(ctx, payload)
	if err == nil {
		// A payload whose descriptor cannot be produced is as broken as one
		// that threw.
		_, err = impl.Descriptor()
	}
	if err != nil {
		o.rollback(ctx)
		err = oops.In("hotswap").Code(CodePayloadExecution).With("digest", digest).Wrapf(err, "load payload")
		errutil.LogWarn(o.opts.Logger, "update aborted, keeping current implementation", err)
		return OutcomeFailed, err
	}

	o.lastApplied.Store(&digest)
	o.proxy.Rebind(impl)
	o.proxy.EndTransition()
	o.redraw(ctx)

	o.opts.Logger.Info("extension updated",
		"identity", o.proxy.Identity(),
		"digest", digest,
		"previous_digest", last,
		"size", artifact.HumanSize(int64(len(payload))),
		"strategy", o.proxy.Strategy().Name(),
		"forced", force,
		"at", started.Format(time.TimeOnly))
	return OutcomeApplied, nil
}

func (o *Orchestrator) version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return o.source.Version(ctx) //nolint:wrapcheck // wrapped with a code by the caller
}

func (o *Orchestrator) code(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, o.opts.RequestTimeout)
	defer cancel()
	return o.source.Code(ctx) //nolint:wrapcheck // wrapped with a code by the caller
}

func (o *Orchestrator) rollback(ctx context.Context) {
	o.proxy.EndTransition()
	o.redraw(ctx)
}

// redrawAndSettle surfaces the transient descriptor and gives the host time to
// draw it before the next redraw lands.
func (o *Orchestrator) redrawAndSettle(ctx context.Context) {
	if o.host == nil {
		o.hostUnavailable()
		return
	}
	if acker, ok := o.host.(RedrawAcker); ok {
		if err := acker.RefreshAndWait(ctx); err != nil {
			o.opts.Logger.Warn("host redraw failed", "error", err)
		}
		return
	}
	o.redraw(ctx)
	if o.opts.SettleDelay <= 0 {
		return
	}
	t := time.NewTimer(o.opts.SettleDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (o *Orchestrator) redraw(ctx context.Context) {
	if o.host == nil {
		o.hostUnavailable()
		return
	}
	if err := o.host.Refresh(ctx); err != nil {
		o.opts.Logger.Warn("host redraw failed", "error", err)
	}
}

func (o *Orchestrator) hostUnavailable() {
	o.opts.Logger.Debug("no host attached, redraw skipped", "code", CodeHostUnavailable)
}
