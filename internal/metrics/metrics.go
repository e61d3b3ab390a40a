// Package metrics exports orchestrator counters to Prometheus.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "roomcast"

type Metrics struct {
	sessionsOpened     *prometheus.CounterVec
	sessionsActive     *prometheus.GaugeVec
	negotiationErrors  *prometheus.CounterVec
	candidatesBuffered prometheus.Counter
	surfacesActive     prometheus.Gauge
	qualityApply       *prometheus.CounterVec
	signalDropped      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions opened, by transport kind.",
		}, []string{"kind"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Currently open sessions, by transport kind.",
		}, []string{"kind"}),
		negotiationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "negotiation_errors_total",
			Help:      "Failed negotiation steps, by operation.",
		}, []string{"op"}),
		candidatesBuffered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_buffered_total",
			Help:      "Remote ICE candidates buffered before a remote description.",
		}),
		surfacesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "surfaces_active",
			Help:      "Bound renderable surfaces.",
		}),
		qualityApply: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quality_apply_total",
			Help:      "Quality field applications, by field and result.",
		}, []string{"field", "result"}),
		signalDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_dropped_total",
			Help:      "Signaling envelopes dropped, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.sessionsOpened,
			m.sessionsActive,
			m.negotiationErrors,
			m.candidatesBuffered,
			m.surfacesActive,
			m.qualityApply,
			m.signalDropped,
		)
	}
	return m
}

func (m *Metrics) SessionOpened(kind string) {
	if m == nil {
		return
	}
	m.sessionsOpened.WithLabelValues(kind).Inc()
	m.sessionsActive.WithLabelValues(kind).Inc()
}

func (m *Metrics) SessionClosed(kind string) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(kind).Dec()
}

func (m *Metrics) NegotiationError(op string) {
	if m == nil {
		return
	}
	m.negotiationErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) CandidateBuffered() {
	if m == nil {
		return
	}
	m.candidatesBuffered.Inc()
}

func (m *Metrics) SurfaceBound() {
	if m == nil {
		return
	}
	m.surfacesActive.Inc()
}

func (m *Metrics) SurfaceReleased() {
	if m == nil {
		return
	}
	m.surfacesActive.Dec()
}

func (m *Metrics) QualityApplied(field string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.qualityApply.WithLabelValues(field, result).Inc()
}

func (m *Metrics) SignalDropped(kind string) {
	if m == nil {
		return
	}
	m.signalDropped.WithLabelValues(kind).Inc()
}
