// Package metrics holds the Prometheus instruments for the controller and
// edge node processes.
//
// Controller metrics:
//   - edgepolicy_controller_connections_total: handled connections by result
//   - edgepolicy_controller_decisions_total: decided profiles
//   - edgepolicy_controller_decision_fallbacks_total: payloads with unreadable metrics
//   - edgepolicy_controller_active_handlers: handlers currently running
//   - edgepolicy_controller_handler_duration_seconds: time from accept to close
//   - edgepolicy_controller_profile_table_entries: known edge nodes
//   - edgepolicy_controller_traffic_bytes_total: sealed simulated-traffic bytes drained
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"edgepolicy/internal/model"
)

const namespace = "edgepolicy"

// Connection results.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultRejected = "rejected"
	ResultEmpty    = "empty"
)

type ControllerMetrics struct {
	connections     *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	fallbacks       prometheus.Counter
	activeHandlers  prometheus.Gauge
	handlerDuration prometheus.Histogram
	tableEntries    prometheus.Gauge
	trafficBytes    prometheus.Counter
}

func NewControllerMetrics(reg prometheus.Registerer) *ControllerMetrics {
	m := &ControllerMetrics{
		connections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "connections_total",
				Help:      "Telemetry connections handled, by result.",
			},
			[]string{"result"},
		),
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "controller",
				Name:      "decisions_total",
				Help:      "Profiles assigned to edge nodes.",
			},
			[]string{"profile"},
		),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "decision_fallbacks_total",
			Help:      "Payloads whose metrics were missing or unreadable.",
		}),
		activeHandlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "active_handlers",
			Help:      "Connection handlers currently running.",
		}),
		handlerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "handler_duration_seconds",
			Help:      "Time spent handling one telemetry connection.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		tableEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "profile_table_entries",
			Help:      "Edge nodes present in the profile table.",
		}),
		trafficBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "traffic_bytes_total",
			Help:      "Sealed simulated-traffic bytes received from edge nodes.",
		}),
	}
	reg.MustRegister(
		m.connections,
		m.decisions,
		m.fallbacks,
		m.activeHandlers,
		m.handlerDuration,
		m.tableEntries,
		m.trafficBytes,
	)
	return m
}

// All methods tolerate a nil receiver so metrics stay optional.

func (m *ControllerMetrics) ConnectionHandled(result string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(result).Inc()
}

func (m *ControllerMetrics) Decision(p model.Profile, fallback bool) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(p.Token()).Inc()
	if fallback {
		m.fallbacks.Inc()
	}
}

func (m *ControllerMetrics) HandlerStarted() {
	if m == nil {
		return
	}
	m.activeHandlers.Inc()
}

func (m *ControllerMetrics) HandlerDone(d time.Duration) {
	if m == nil {
		return
	}
	m.activeHandlers.Dec()
	m.handlerDuration.Observe(d.Seconds())
}

func (m *ControllerMetrics) TableSize(n int) {
	if m == nil {
		return
	}
	m.tableEntries.Set(float64(n))
}

func (m *ControllerMetrics) TrafficBytes(n int) {
	if m == nil {
		return
	}
	m.trafficBytes.Add(float64(n))
}

// Handler exposes the registry in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}
