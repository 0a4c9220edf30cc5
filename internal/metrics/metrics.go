package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the API
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// Plans counts planning runs by outcome (ok, invalid, unplaceable, error)
	Plans = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plans_total", Help: "Planning runs by outcome."},
		[]string{"outcome"},
	)
	PlanTrucks = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "plan_trucks", Help: "Trucks per plan.", Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500}},
	)
	PlanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "plan_duration_seconds", Help: "Engine time per planning run.", Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5}},
	)
	// LinesSkipped counts ineligible lines by reason
	LinesSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "plan_lines_skipped_total", Help: "Order lines excluded from planning."},
		[]string{"reason"},
	)
	FillMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "fill_moves_total", Help: "Fragments moved by the fill pass, by phase."},
		[]string{"phase"},
	)
	// CombineRequests counts combine calls by outcome (ok or a rejection code)
	CombineRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "combine_requests_total", Help: "Manual combine requests by outcome."},
		[]string{"outcome"},
	)
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Outbound plan event deliveries by outcome (ok, retry, failed, dropped)."},
		[]string{"outcome"},
	)
)

// RegisterDefault registers collectors to the default registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(Plans, PlanTrucks, PlanDuration, LinesSkipped, FillMoves, CombineRequests, WebhookDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once

// ObservePlan records a successful planning run.
func ObservePlan(trucks int, skipReasons []string, fillPhases []string, took time.Duration) {
	Plans.WithLabelValues("ok").Inc()
	PlanTrucks.Observe(float64(trucks))
	PlanDuration.Observe(took.Seconds())
	for _, r := range skipReasons {
		LinesSkipped.WithLabelValues(r).Inc()
	}
	for _, p := range fillPhases {
		FillMoves.WithLabelValues(p).Inc()
	}
}
