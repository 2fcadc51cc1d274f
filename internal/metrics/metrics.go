// Package metrics exposes pipeline and delivery metrics in Prometheus format.
// All methods are safe on a nil *Metrics so components can run unobserved.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "signalpush"

type Metrics struct {
	registry *prometheus.Registry

	inbound     *prometheus.CounterVec
	extractions *prometheus.CounterVec
	fallbacks   *prometheus.CounterVec
	aiCalls     *prometheus.HistogramVec
	degraded    prometheus.Gauge
	deliveries  *prometheus.CounterVec
	followups   *prometheus.CounterVec
	inFlight    prometheus.Gauge
}

// New creates a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		inbound: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_messages_total",
			Help:      "Chat messages received, by source.",
		}, []string{"source"}),
		extractions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "results_total",
			Help:      "Extraction results by path (ai_text, ai_image, heuristic).",
		}, []string{"path"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "fallbacks_total",
			Help:      "Falls back to the heuristic, by reason.",
		}, []string{"reason"}),
		aiCalls: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "ai_call_duration_seconds",
			Help:      "Latency of generation calls by stage and result.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}, []string{"stage", "result"}),
		degraded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "degraded",
			Help:      "1 when AI extraction is disabled for the process.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dispatches_total",
			Help:      "Dispatch outcomes by backend.",
		}, []string{"backend", "outcome"}),
		followups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "followups_total",
			Help:      "Follow-up sends by backend and result.",
		}, []string{"backend", "result"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "followup_tasks",
			Help:      "Follow-up sequences currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.inbound, m.extractions, m.fallbacks, m.aiCalls, m.degraded,
		m.deliveries, m.followups, m.inFlight,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Inbound(source string) {
	if m == nil {
		return
	}
	m.inbound.WithLabelValues(source).Inc()
}

func (m *Metrics) Extraction(path string) {
	if m == nil {
		return
	}
	m.extractions.WithLabelValues(path).Inc()
}

func (m *Metrics) Fallback(reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveAICall(stage, result string, latencyMs int64) {
	if m == nil {
		return
	}
	m.aiCalls.WithLabelValues(stage, result).Observe((time.Duration(latencyMs) * time.Millisecond).Seconds())
}

func (m *Metrics) SetDegraded(on bool) {
	if m == nil {
		return
	}
	if on {
		m.degraded.Set(1)
	} else {
		m.degraded.Set(0)
	}
}

func (m *Metrics) Dispatch(backend, outcome string) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(backend, outcome).Inc()
}

func (m *Metrics) Followup(backend, result string) {
	if m == nil {
		return
	}
	m.followups.WithLabelValues(backend, result).Inc()
}

func (m *Metrics) FollowupStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) FollowupFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}
