package stress

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "shmatomic"

// Metrics are the Prometheus collectors updated by the runner.
type Metrics struct {
	ops      *prometheus.CounterVec
	retries  *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	workers  prometheus.Gauge
	passed   *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Atomic operations performed, by scenario.",
		}, []string{"scenario"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "retries_total",
			Help:      "Failed compare-exchange attempts and lock spins, by scenario.",
		}, []string{"scenario"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "failures_total",
			Help:      "Scenario runs that failed.",
		}, []string{"scenario"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "scenario_duration_seconds",
			Help:      "Wall time of a scenario run.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
		}, []string{"scenario"}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_workers",
			Help:      "Workers currently running.",
		}),
		passed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "scenario_passed",
			Help:      "1 if the last run of the scenario passed, 0 otherwise.",
		}, []string{"scenario"}),
	}
	if reg != nil {
		reg.MustRegister(m.ops, m.retries, m.failures, m.duration, m.workers, m.passed)
	}
	return m
}

func (m *Metrics) workerStarted() {
	if m != nil {
		m.workers.Inc()
	}
}

func (m *Metrics) workerDone() {
	if m != nil {
		m.workers.Dec()
	}
}

func (m *Metrics) observe(r Result) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(r.Scenario).Add(float64(r.Ops))
	m.retries.WithLabelValues(r.Scenario).Add(float64(r.Retries))
	m.duration.WithLabelValues(r.Scenario).Observe(r.Elapsed.Seconds())
	if r.Passed() {
		m.passed.WithLabelValues(r.Scenario).Set(1)
		return
	}
	m.failures.WithLabelValues(r.Scenario).Inc()
	m.passed.WithLabelValues(r.Scenario).Set(0)
}
