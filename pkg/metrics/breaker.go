package metrics

import "github.com/prometheus/client_golang/prometheus"

// BreakerMetrics exposes circuit breaker state per remote service
// (0 closed, 1 half-open, 2 open).
type BreakerMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
}

func NewBreakerMetrics(reg prometheus.Registerer) *BreakerMetrics {
	if reg == nil {
		return &BreakerMetrics{}
	}
	state := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "catalog_breaker_state",
		Help: "Circuit breaker state per remote service.",
	}, []string{"name"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_breaker_transitions_total",
		Help: "Circuit breaker state changes.",
	}, []string{"name", "to"})
	reg.MustRegister(state, transitions)
	return &BreakerMetrics{state: state, transitions: transitions}
}

func (m *BreakerMetrics) SetState(name string, state int) {
	if m == nil || m.state == nil {
		return
	}
	m.state.WithLabelValues(normalizeLabel(name)).Set(float64(state))
}

func (m *BreakerMetrics) IncTransition(name, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(name), normalizeLabel(to)).Inc()
}
