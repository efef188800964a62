package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SagaMetrics tracks saga outcomes and per-step latency.
type SagaMetrics struct {
	finished *prometheus.CounterVec
	steps    *prometheus.HistogramVec
}

func NewSagaMetrics(reg prometheus.Registerer) *SagaMetrics {
	if reg == nil {
		return &SagaMetrics{}
	}
	finished := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_saga_finished_total",
		Help: "Sagas that reached a terminal state.",
	}, []string{"state"})
	steps := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_saga_step_duration_seconds",
		Help:    "Duration of saga steps against remote services.",
		Buckets: prometheus.DefBuckets,
	}, []string{"service", "action", "success"})
	reg.MustRegister(finished, steps)
	return &SagaMetrics{finished: finished, steps: steps}
}

// ObserveFinal counts a saga that reached state.
func (m *SagaMetrics) ObserveFinal(state string) {
	if m == nil || m.finished == nil {
		return
	}
	m.finished.WithLabelValues(normalizeLabel(state)).Inc()
}

func (m *SagaMetrics) ObserveStep(service, action string, success bool, d time.Duration) {
	if m == nil || m.steps == nil {
		return
	}
	outcome := "false"
	if success {
		outcome = "true"
	}
	m.steps.WithLabelValues(normalizeLabel(service), normalizeLabel(action), outcome).Observe(d.Seconds())
}
