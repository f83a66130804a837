package tracker

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type pollMetrics struct {
	polls   *prometheus.CounterVec
	active  prometheus.Gauge
	pending *prometheus.GaugeVec
}

var (
	pollMetricsOnce sync.Once
	pollRegistry    *pollMetrics
)

func defaultPollMetrics() *pollMetrics {
	pollMetricsOnce.Do(func() {
		pollRegistry = &pollMetrics{
			polls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ckvault",
				Subsystem: "tracker",
				Name:      "polls_total",
				Help:      "Deposit refresh polls by outcome.",
			}, []string{"outcome"}),
			active: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "ckvault",
				Subsystem: "tracker",
				Name:      "active_tasks",
				Help:      "Deposit tracking tasks currently running.",
			}),
			pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "ckvault",
				Subsystem: "tracker",
				Name:      "expected_sats",
				Help:      "Satoshis pending confirmation per tracked account.",
			}, []string{"account"}),
		}
		prometheus.MustRegister(pollRegistry.polls, pollRegistry.active, pollRegistry.pending)
	})
	return pollRegistry
}
