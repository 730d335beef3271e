package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the job counters exported at /metrics.
type Metrics struct {
	submitted *prometheus.CounterVec
	finished  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	active    prometheus.Gauge
	gatherer  prometheus.Gatherer
}

// New registers the job collectors on reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_jobs_submitted_total",
			Help: "Job submissions by task type and outcome.",
		}, []string{"task", "outcome"}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_jobs_finished_total",
			Help: "Finished jobs by task type and terminal status.",
		}, []string{"task", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadflow_job_duration_seconds",
			Help:    "Wall time of job runs.",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"task"}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadflow_jobs_active",
			Help: "Jobs currently pending or running.",
		}),
		gatherer: reg,
	}
	reg.MustRegister(m.submitted, m.finished, m.duration, m.active)
	return m
}

func (m *Metrics) Submitted(task, outcome string) {
	m.submitted.WithLabelValues(task, outcome).Inc()
}

func (m *Metrics) Started() { m.active.Inc() }

func (m *Metrics) Finished(task, status string, took time.Duration) {
	m.active.Dec()
	m.finished.WithLabelValues(task, status).Inc()
	m.duration.WithLabelValues(task).Observe(took.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
