// Package metrics exposes Prometheus collectors for the frontier service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	frontierAdmissionsTotal      *prometheus.CounterVec
	frontierLeaseRequestsTotal   *prometheus.CounterVec
	frontierLeasedJobsTotal      prometheus.Counter
	frontierAcksTotal            *prometheus.CounterVec
	frontierCompletionsTotal     prometheus.Counter
	frontierLinkAdmissionErrors  prometheus.Counter
	frontierProvisionFailures    prometheus.Counter
	frontierPurgesTotal          *prometheus.CounterVec
	frontierCrawlsSubmittedTotal prometheus.Counter
	httpRequestsTotal            *prometheus.CounterVec
	httpRequestDurationSeconds   *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		frontierAdmissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_admissions_total",
				Help: "Admission decisions, labeled by outcome and rejection reason.",
			},
			[]string{"outcome", "reason"},
		)

		frontierLeaseRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_lease_requests_total",
				Help: "Lease calls against crawl queues, labeled by result (jobs, empty, error).",
			},
			[]string{"result"},
		)

		frontierLeasedJobsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_leased_jobs_total",
				Help: "Total number of jobs handed out to workers.",
			},
		)

		frontierAcksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_acks_total",
				Help: "Job acknowledgements, labeled by result (ok, not_found, error).",
			},
			[]string{"result"},
		)

		frontierCompletionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_page_completions_total",
				Help: "Total number of pages recorded as completed.",
			},
		)

		frontierLinkAdmissionErrors = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_link_admission_errors_total",
				Help: "Discovered links whose admission failed with an error during completion.",
			},
		)

		frontierProvisionFailures = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_provision_failures_total",
				Help: "Crawl submissions rejected because queue provisioning failed.",
			},
		)

		frontierPurgesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "frontier_queue_purges_total",
				Help: "Queue purges issued by hard stops, labeled by result.",
			},
			[]string{"result"},
		)

		frontierCrawlsSubmittedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "frontier_crawls_submitted_total",
				Help: "Total number of crawls accepted.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAdmission counts one admission decision.
func ObserveAdmission(outcome, reason string) {
	Init()
	frontierAdmissionsTotal.WithLabelValues(outcome, reason).Inc()
}

// ObserveLease counts one lease call and the jobs it returned.
func ObserveLease(jobs int, err error) {
	Init()
	switch {
	case err != nil:
		frontierLeaseRequestsTotal.WithLabelValues("error").Inc()
	case jobs == 0:
		frontierLeaseRequestsTotal.WithLabelValues("empty").Inc()
	default:
		frontierLeaseRequestsTotal.WithLabelValues("jobs").Inc()
		frontierLeasedJobsTotal.Add(float64(jobs))
	}
}

// ObserveAck counts one acknowledgement.
func ObserveAck(result string) {
	Init()
	frontierAcksTotal.WithLabelValues(result).Inc()
}

// ObserveCompletion counts a completed page and its failed link admissions.
func ObserveCompletion(linkErrors int) {
	Init()
	frontierCompletionsTotal.Inc()
	if linkErrors > 0 {
		frontierLinkAdmissionErrors.Add(float64(linkErrors))
	}
}

// ObserveProvisionFailure counts a failed queue provisioning attempt.
func ObserveProvisionFailure() {
	Init()
	frontierProvisionFailures.Inc()
}

// ObservePurge counts one queue purge.
func ObservePurge(result string) {
	Init()
	frontierPurgesTotal.WithLabelValues(result).Inc()
}

// ObserveSubmission counts an accepted crawl.
func ObserveSubmission() {
	Init()
	frontierCrawlsSubmittedTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
