// Package monitoring exposes prometheus metrics for the coordination core.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the core records into. A nil *Metrics is
// safe to call, so tests can pass nothing.
type Metrics struct {
	CommandsExecuted  *prometheus.CounterVec
	AnomaliesDetected *prometheus.CounterVec
	TranscriptionCost prometheus.Counter
	TranscribeCacheHits prometheus.Counter
	WSConnections     prometheus.Gauge
	Resyncs           prometheus.Counter
	SweepBumps        prometheus.Counter
}

// New registers collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CommandsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expediter_commands_total",
			Help: "Commands executed, by action, source and outcome.",
		}, []string{"action", "source", "outcome"}),
		AnomaliesDetected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "expediter_anomalies_total",
			Help: "Anomalies detected, by type and severity.",
		}, []string{"type", "severity"}),
		TranscriptionCost: factory.NewCounter(prometheus.CounterOpts{
			Name: "expediter_transcription_cost_dollars",
			Help: "Accumulated transcription spend.",
		}),
		TranscribeCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "expediter_transcription_cache_hits_total",
			Help: "Transcriptions served from the audio fingerprint cache.",
		}),
		WSConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "expediter_ws_connections",
			Help: "Currently connected websocket displays.",
		}),
		Resyncs: factory.NewCounter(prometheus.CounterOpts{
			Name: "expediter_resyncs_total",
			Help: "Full-state resyncs performed after reconnect.",
		}),
		SweepBumps: factory.NewCounter(prometheus.CounterOpts{
			Name: "expediter_sweep_bumps_total",
			Help: "Routing records force-bumped by the stale sweep.",
		}),
	}
}

// Command records one executed command.
func (m *Metrics) Command(action, source string, success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.CommandsExecuted.WithLabelValues(action, source, outcome).Inc()
}

// Anomaly records one detected anomaly.
func (m *Metrics) Anomaly(kind, severity string) {
	if m == nil {
		return
	}
	m.AnomaliesDetected.WithLabelValues(kind, severity).Inc()
}

// Spend records transcription cost.
func (m *Metrics) Spend(dollars float64) {
	if m == nil {
		return
	}
	m.TranscriptionCost.Add(dollars)
}

// CacheHit records a fingerprint cache hit.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.TranscribeCacheHits.Inc()
}

// SweepBump records one forced transition by the stale sweep.
func (m *Metrics) SweepBump() {
	if m == nil {
		return
	}
	m.SweepBumps.Inc()
}

// Resync records one full-state resync.
func (m *Metrics) Resync() {
	if m == nil {
		return
	}
	m.Resyncs.Inc()
}

// ConnectionOpened / ConnectionClosed track the websocket gauge.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
