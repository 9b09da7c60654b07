// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the extreload collectors. A nil *Metrics is valid and records
// nothing, so components can run without an observability server.
type Metrics struct {
	ArtifactChanges  prometheus.Counter
	Broadcasts       prometheus.Counter
	PushConnections  prometheus.Gauge
	PushSendFailures prometheus.Counter
	UpdateCycles     *prometheus.CounterVec
	UpdateDuration   *prometheus.HistogramVec
	ChannelState     prometheus.Gauge
}

// NewMetrics creates and registers the extreload collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ArtifactChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extreload_artifact_changes_total",
			Help: "Debounced artifact change notifications",
		}),
		Broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extreload_broadcasts_total",
			Help: "Change events fanned out to push-channel clients",
		}),
		PushConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extreload_push_connections",
			Help: "Open push-channel connections",
		}),
		PushSendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "extreload_push_send_failures_total",
			Help: "Change events that could not be queued or written to a connection",
		}),
		UpdateCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "extreload_update_cycles_total",
			Help: "Client update checks by outcome",
		}, []string{"outcome"}),
		UpdateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "extreload_update_duration_seconds",
			Help:    "Duration of update checks that ran a cycle, by outcome; queued calls are not observed",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"outcome"}),
		ChannelState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "extreload_channel_connected",
			Help: "1 while the client push channel is connected",
		}),
	}

	reg.MustRegister(
		m.ArtifactChanges,
		m.Broadcasts,
		m.PushConnections,
		m.PushSendFailures,
		m.UpdateCycles,
		m.UpdateDuration,
		m.ChannelState,
	)
	return m
}

// RecordArtifactChange counts one debounced change.
func (m *Metrics) RecordArtifactChange() {
	if m == nil {
		return
	}
	m.ArtifactChanges.Inc()
}

// RecordBroadcast counts one fan-out.
func (m *Metrics) RecordBroadcast() {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
}

// SetPushConnections sets the open connection gauge.
func (m *Metrics) SetPushConnections(n int) {
	if m == nil {
		return
	}
	m.PushConnections.Set(float64(n))
}

// RecordPushSendFailure counts one undelivered event.
func (m *Metrics) RecordPushSendFailure() {
	if m == nil {
		return
	}
	m.PushSendFailures.Inc()
}

// RecordUpdate counts one update check and, for checks that ran a cycle
// (elapsed > 0), observes its duration under the same outcome.
func (m *Metrics) RecordUpdate(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.UpdateCycles.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.UpdateDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
	}
}

// SetChannelConnected reports the client push channel state.
func (m *Metrics) SetChannelConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ChannelState.Set(1)
		return
	}
	m.ChannelState.Set(0)
}
