// Package metrics holds the Prometheus instruments used across the submission
// pipeline. All collectors live in a package registry that Handler exposes.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadflow"

// Outcome labels shared by several collectors.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
	OutcomeHit     = "hit"
	OutcomeMiss    = "miss"
	OutcomeCreated = "created"
	OutcomeReused  = "reused"
)

var registry = prometheus.NewRegistry()

var (
	SubmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "submissions_total",
			Help:      "Submissions received, by intake result.",
		}, []string{"result"})

	DispatchRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_runs_total",
			Help:      "Dispatch runs finished, by outcome.",
		}, []string{"outcome"})

	DispatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Wall time of a full dispatch run, step delays included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		})

	StepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_steps_total",
			Help:      "Dispatch steps executed, by step and outcome.",
		}, []string{"step", "outcome"})

	GatewayRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Requests sent to the WhatsApp gateway, by operation and outcome.",
		}, []string{"operation", "outcome"})

	GatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_request_duration_seconds",
			Help:      "Latency of WhatsApp gateway requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"})

	ImageResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "image_resolutions_total",
			Help:      "Image reference lookups, by outcome.",
		}, []string{"outcome"})

	TicketsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tickets_total",
			Help:      "Ticket guard decisions, created or reused.",
		}, []string{"outcome"})

	ReplayedSubmissionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_submissions_total",
			Help:      "Submissions re-dispatched by the replay scheduler.",
		})

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_queue_depth",
			Help:      "Dispatch jobs waiting for a worker.",
		})

	ConnectedSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_sessions",
			Help:      "Gateway sessions currently reported as connected.",
		})

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests served, by method, route and status code.",
		}, []string{"method", "route", "status_code"})

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"})

	HTTPRequestsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_active",
			Help:      "HTTP requests currently being served.",
		})
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		SubmissionsTotal,
		DispatchRunsTotal,
		DispatchDuration,
		StepsTotal,
		GatewayRequestsTotal,
		GatewayRequestDuration,
		ImageResolutionsTotal,
		TicketsTotal,
		ReplayedSubmissionsTotal,
		QueueDepth,
		ConnectedSessions,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPRequestsActive,
	)
}

// Registry returns the registry holding every leadflow collector.
func Registry() *prometheus.Registry {
	return registry
}

// Handler serves the registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func RecordSubmission(result string) {
	SubmissionsTotal.WithLabelValues(result).Inc()
}

// RecordDispatch counts a finished run and observes its duration.
func RecordDispatch(outcome string, elapsed time.Duration) {
	DispatchRunsTotal.WithLabelValues(outcome).Inc()
	DispatchDuration.Observe(elapsed.Seconds())
}

func RecordStep(step, outcome string) {
	StepsTotal.WithLabelValues(step, outcome).Inc()
}

// RecordGatewayRequest counts one gateway call and observes its latency.
func RecordGatewayRequest(operation string, elapsed time.Duration, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	GatewayRequestsTotal.WithLabelValues(operation, outcome).Inc()
	GatewayRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func RecordImageResolution(found bool) {
	if found {
		ImageResolutionsTotal.WithLabelValues(OutcomeHit).Inc()
		return
	}
	ImageResolutionsTotal.WithLabelValues(OutcomeMiss).Inc()
}

func RecordTicket(created bool) {
	if created {
		TicketsTotal.WithLabelValues(OutcomeCreated).Inc()
		return
	}
	TicketsTotal.WithLabelValues(OutcomeReused).Inc()
}

// RecordHTTPRequest counts one served request and observes its latency
func RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
