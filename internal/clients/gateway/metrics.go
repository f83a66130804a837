package gateway

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type requestMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	requestMetricsOnce sync.Once
	requestRegistry    *requestMetrics
)

func defaultRequestMetrics() *requestMetrics {
	requestMetricsOnce.Do(func() {
		requestRegistry = &requestMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "ckvault",
				Subsystem: "gateway",
				Name:      "requests_total",
				Help:      "Gateway calls by service, method and outcome.",
			}, []string{"service", "method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "ckvault",
				Subsystem: "gateway",
				Name:      "request_duration_seconds",
				Help:      "Gateway call latency.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"service"}),
		}
		prometheus.MustRegister(requestRegistry.requests, requestRegistry.latency)
	})
	return requestRegistry
}

func (m *requestMetrics) observe(service, method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.requests.WithLabelValues(service, method, outcome).Inc()
	m.latency.WithLabelValues(service).Observe(elapsed.Seconds())
}
