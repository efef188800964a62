package metrics

import "github.com/prometheus/client_golang/prometheus"

// OutboxMetrics tracks the publisher loop.
type OutboxMetrics struct {
	published *prometheus.CounterVec
	retried   *prometheus.CounterVec
	failed    *prometheus.CounterVec
	backlog   prometheus.Gauge
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	published := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_outbox_published_total",
		Help: "Outbox rows delivered to the broker.",
	}, []string{"routing_key"})
	retried := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_outbox_retried_total",
		Help: "Outbox publish attempts that failed and will be retried.",
	}, []string{"routing_key"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_outbox_failed_total",
		Help: "Outbox rows moved to FAILED.",
	}, []string{"routing_key"})
	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_outbox_failed_backlog",
		Help: "Outbox rows currently in FAILED awaiting manual replay.",
	})
	reg.MustRegister(published, retried, failed, backlog)
	return &OutboxMetrics{published: published, retried: retried, failed: failed, backlog: backlog}
}

func (m *OutboxMetrics) IncPublished(routingKey string) {
	if m == nil || m.published == nil {
		return
	}
	m.published.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

func (m *OutboxMetrics) IncRetried(routingKey string) {
	if m == nil || m.retried == nil {
		return
	}
	m.retried.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

func (m *OutboxMetrics) IncFailed(routingKey string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(routingKey)).Inc()
}

// SetFailedBacklog records how many rows sit in FAILED.
func (m *OutboxMetrics) SetFailedBacklog(count int64) {
	if m == nil || m.backlog == nil {
		return
	}
	m.backlog.Set(float64(count))
}
