package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry         *prometheus.Registry
	submissionsTotal *prometheus.CounterVec
	viewCallsTotal   *prometheus.CounterVec
	confirmationTime *prometheus.HistogramVec
	rateLimitedTotal prometheus.Counter
}

func newMetricsRegistry() *metricsRegistry {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowlink_submissions_total",
		Help: "State-changing escrow calls by method and outcome",
	}, []string{"method", "status"})

	views := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "escrowlink_view_calls_total",
		Help: "Read-only escrow calls by method and outcome",
	}, []string{"method", "status"})

	confirmation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "escrowlink_confirmation_seconds",
		Help:    "Time from submission to confirmation",
		Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
	}, []string{"method"})

	limited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "escrowlink_rate_limited_total",
		Help: "Submissions refused by the rate limiter",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, views, confirmation, limited)

	return &metricsRegistry{
		registry:         r,
		submissionsTotal: submissions,
		viewCallsTotal:   views,
		confirmationTime: confirmation,
		rateLimitedTotal: limited,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incSubmission(method, status string) {
	m.submissionsTotal.WithLabelValues(method, status).Inc()
}

func (m *metricsRegistry) incView(method, status string) {
	m.viewCallsTotal.WithLabelValues(method, status).Inc()
}

func (m *metricsRegistry) observeConfirmation(method string, elapsed time.Duration) {
	m.confirmationTime.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *metricsRegistry) incRateLimited() {
	m.rateLimitedTotal.Inc()
}
