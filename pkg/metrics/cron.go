package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// CronJobMetrics counts scheduled job runs by outcome and times them.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	m := &CronJobMetrics{now: time.Now}
	if reg == nil {
		return m
	}
	m.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_cron_job_runs_total",
		Help: "Cron job executions by outcome.",
	}, []string{"job", "outcome"})
	m.duration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_cron_job_duration_seconds",
		Help:    "Cron job run time.",
		Buckets: []float64{.05, .1, .5, 1, 5, 15, 60, 300},
	}, []string{"job"})
	m.lastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_cron_job_last_success_timestamp_seconds",
		Help: "Unix time of the last successful run.",
	}, []string{"job"})
	reg.MustRegister(m.runs, m.duration, m.lastSuccess)
	return m
}

// Track runs fn and records its duration and outcome. fn's error is returned
// untouched.
func (m *CronJobMetrics) Track(job string, fn func() error) error {
	if m == nil || m.runs == nil {
		return fn()
	}
	job = normalizeLabel(job)
	start := m.now()
	err := fn()
	m.duration.WithLabelValues(job).Observe(m.now().Sub(start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(job, outcomeFailure).Inc()
		return err
	}
	m.runs.WithLabelValues(job, outcomeSuccess).Inc()
	m.lastSuccess.WithLabelValues(job).Set(float64(m.now().Unix()))
	return nil
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
