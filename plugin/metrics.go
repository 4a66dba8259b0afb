package plugin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the bridge.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	reloads    *prometheus.CounterVec
	state      prometheus.Gauge
}

// NewMetrics creates the bridge collectors and registers them with reg.
// A nil reg leaves the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goplug",
				Subsystem: "bridge",
				Name:      "operations_total",
				Help:      "Bridge operations by operation and result status.",
			},
			[]string{"operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "goplug",
				Subsystem: "bridge",
				Name:      "operation_duration_seconds",
				Help:      "Time spent inside the interpreter per operation.",
				Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "goplug",
				Subsystem: "bridge",
				Name:      "reloads_total",
				Help:      "Entry module reloads triggered by a newer modification time.",
			},
			[]string{"result"},
		),
		state: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "goplug",
				Subsystem: "bridge",
				Name:      "module_state",
				Help:      "Lifecycle state of the entry module (0 uninitialized, 1 failed, 2 ready).",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.operations, m.duration, m.reloads, m.state)
	}
	return m
}

func (m *Metrics) observe(op string, status Status, d time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, status.String()).Inc()
	m.duration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *Metrics) reload(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.reloads.WithLabelValues(result).Inc()
}

func (m *Metrics) setState(s State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}
