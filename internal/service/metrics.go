package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

// jobDurationBuckets are the histogram bucket boundaries in seconds named
// by the job engine's metrics surface: powers of two from 1s to ~6 days.
var jobDurationBuckets = []float64{
	1, 2, 4, 8, 16, 32, 64, 128, 256, 512,
	1024, 2048, 4096, 8192, 16384, 32768, 65536, 131072, 262144, 524288,
}

// Metrics holds the two stable-named Prometheus collectors every Service
// exposes: a gauge tracking per-type job counts by state, and a histogram
// of job durations by terminal status.
type Metrics struct {
	JobsTotal *prometheus.GaugeVec
	JobTimes  *prometheus.HistogramVec
}

// NewMetrics constructs Metrics and registers its collectors with
// registry. Pass prometheus.DefaultRegisterer to expose them on the
// default /metrics handler, or a fresh prometheus.NewRegistry() in tests
// to avoid collisions between Service instances.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oada_jobs_total",
			Help: "Current count of jobs per service/type/state.",
		}, []string{"service", "type", "state"}),
		JobTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_times",
			Help:    "Job execution duration in seconds, by service/type/status.",
			Buckets: jobDurationBuckets,
		}, []string{"service", "type", "status"}),
	}
	registry.MustRegister(m.JobsTotal, m.JobTimes)
	return m
}

// jobStates are the gauge states initialized to zero when a worker type
// is registered, so dashboards don't show a gap before the first job of
// that type arrives.
var jobStates = []string{"queued", "running", "success", "failure"}

// InitLabels zero-initializes every gauge state for (service, jobType),
// as required when a worker is registered via Service.On.
func (m *Metrics) InitLabels(service, jobType string) {
	for _, state := range jobStates {
		m.JobsTotal.WithLabelValues(service, jobType, state).Add(0)
	}
}

// IncQueued increments the queued gauge for (service, jobType).
func (m *Metrics) IncQueued(service, jobType string) {
	m.JobsTotal.WithLabelValues(service, jobType, "queued").Inc()
}

// StartRunning transitions a job from queued to running in the gauge.
func (m *Metrics) StartRunning(service, jobType string) {
	m.JobsTotal.WithLabelValues(service, jobType, "queued").Dec()
	m.JobsTotal.WithLabelValues(service, jobType, "running").Inc()
}

// Finish decrements running, increments the terminal state counter, and
// observes the job's duration under its terminal status.
func (m *Metrics) Finish(service, jobType, status string, durationSeconds float64) {
	m.JobsTotal.WithLabelValues(service, jobType, "running").Dec()
	m.JobsTotal.WithLabelValues(service, jobType, status).Inc()
	m.JobTimes.WithLabelValues(service, jobType, status).Observe(durationSeconds)
}
