package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the dedicated Prometheus registry for the service; only
// collectors registered here appear on /metrics.
var Registry = prometheus.NewRegistry()

var (
	HTTPRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prodplan_http_requests_total",
		Help: "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "code"})

	HTTPDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prodplan_http_request_duration_seconds",
		Help:    "HTTP request latency by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	PlanRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prodplan_plan_runs_total",
		Help: "Completed planning runs by solver mode and status.",
	}, []string{"mode", "status"})

	PlanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodplan_plan_run_duration_seconds",
		Help:    "Wall time of planning runs.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	PlanIterations = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "prodplan_plan_iterations",
		Help:    "Search iterations per planning run.",
		Buckets: prometheus.ExponentialBuckets(100, 4, 8),
	})

	WebhookDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "prodplan_webhook_deliveries_total",
		Help: "Webhook delivery attempts by event type and outcome.",
	}, []string{"event", "outcome"})
)

var registerOnce sync.Once

// RegisterDefault registers all collectors, plus the Go runtime and
// process collectors, on Registry. Safe to call from multiple
// entrypoints.
func RegisterDefault() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			PlanRuns,
			PlanDuration,
			PlanIterations,
			WebhookDeliveries,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
}

// Handler exposes Registry for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
