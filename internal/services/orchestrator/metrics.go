package orchestrator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type flowMetrics struct {
	flows    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var (
	flowMetricsOnce sync.Once
	flowRegistry    *flowMetrics
)

func defaultFlowMetrics() *flowMetrics {
	flowMetricsOnce.Do(func() {
		flowRegistry = &flowMetrics{
			flows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ckvault",
				Subsystem: "orchestrator",
				Name:      "flows_total",
				Help:      "Finished flows by action and outcome.",
			}, []string{"action", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ckvault",
				Subsystem: "orchestrator",
				Name:      "phase_failures_total",
				Help:      "Failed flows by action and the phase they failed in.",
			}, []string{"action", "phase"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ckvault",
				Subsystem: "orchestrator",
				Name:      "flow_duration_seconds",
				Help:      "Wall time from submission to a terminal phase.",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			}, []string{"action"}),
		}
		prometheus.MustRegister(flowRegistry.flows, flowRegistry.failures, flowRegistry.duration)
	})
	return flowRegistry
}

func (m *flowMetrics) observe(f Flow) {
	if m == nil {
		return
	}
	outcome := "done"
	if f.Phase == PhaseFailed {
		outcome = "failed"
		m.failures.WithLabelValues(string(f.Action), string(f.FailedAt)).Inc()
	}
	m.flows.WithLabelValues(string(f.Action), outcome).Inc()
	m.duration.WithLabelValues(string(f.Action)).Observe(f.UpdatedAt.Sub(f.StartedAt).Seconds())
}
