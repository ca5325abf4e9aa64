package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	pollAttempts    prometheus.Histogram
	purchases       *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguin_api_requests_total",
			Help: "Kinguin gateway requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kinguin_api_request_duration_seconds",
			Help:    "Kinguin gateway request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		pollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kinguin_poll_attempts",
			Help:    "GetOrder calls used by one fulfillment poll.",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		}),
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kinguin_purchases_total",
			Help: "Purchases by final observed status.",
		}, []string{"status"}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.pollAttempts,
		m.purchases,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveRequest satisfies kinguin.Observer.
func (m *Metrics) ObserveRequest(op, outcome string, elapsed time.Duration) {
	m.requests.WithLabelValues(op, outcome).Inc()
	m.requestDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) ObservePoll(attempts int) {
	m.pollAttempts.Observe(float64(attempts))
}

func (m *Metrics) ObservePurchase(status string) {
	m.purchases.WithLabelValues(status).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
