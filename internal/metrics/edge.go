package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"edgepolicy/internal/model"
)

// Cycle results.
const (
	CycleOK        = "ok"
	CycleTransport = "transport_error"
	CycleRejected  = "rejected"
	CycleProtocol  = "protocol_error"
	CycleApply     = "apply_error"
	CycleSample    = "sample_error"
)

type EdgeMetrics struct {
	cycles         *prometheus.CounterVec
	applies        *prometheus.CounterVec
	currentProfile *prometheus.GaugeVec
	cpu            prometheus.Gauge
	ram            prometheus.Gauge
}

func NewEdgeMetrics(reg prometheus.Registerer) *EdgeMetrics {
	m := &EdgeMetrics{
		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "edge",
				Name:      "cycles_total",
				Help:      "Telemetry cycles run, by result.",
			},
			[]string{"result"},
		),
		applies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "edge",
				Name:      "firewall_applies_total",
				Help:      "Firewall profile applications, by profile and outcome.",
			},
			[]string{"profile", "outcome"},
		),
		currentProfile: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "edge",
				Name:      "current_profile",
				Help:      "1 for the profile currently in effect, 0 otherwise.",
			},
			[]string{"profile"},
		),
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "edge",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage.",
		}),
		ram: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "edge",
			Name:      "ram_percent",
			Help:      "Last sampled RAM usage.",
		}),
	}
	reg.MustRegister(m.cycles, m.applies, m.currentProfile, m.cpu, m.ram)
	return m
}

func (m *EdgeMetrics) Cycle(result string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(result).Inc()
}

func (m *EdgeMetrics) Sample(cpu, ram float64) {
	if m == nil {
		return
	}
	m.cpu.Set(cpu)
	m.ram.Set(ram)
}

func (m *EdgeMetrics) Applied(p model.Profile, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
	}
	m.applies.WithLabelValues(p.Token(), outcome).Inc()
}

func (m *EdgeMetrics) SetProfile(current model.Profile) {
	if m == nil {
		return
	}
	for _, p := range model.AllProfiles() {
		v := 0.0
		if p == current {
			v = 1
		}
		m.currentProfile.WithLabelValues(p.Token()).Set(v)
	}
}
