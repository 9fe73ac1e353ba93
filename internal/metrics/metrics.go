// Package metrics defines the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alias_http_requests_total",
			Help: "Total number of HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alias_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Realtime metrics
	RealtimeSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alias_realtime_subscribers",
			Help: "Number of open realtime subscriptions",
		},
	)

	RealtimeDroppedEvents = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alias_realtime_dropped_events_total",
			Help: "Realtime events dropped because a subscriber buffer was full",
		},
	)

	PresenceOnline = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "alias_presence_online",
			Help: "Number of users currently marked online",
		},
	)

	// Domain metrics
	MessagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alias_messages_sent_total",
			Help: "Total number of chat messages persisted",
		},
	)

	JobApplicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alias_job_applications_total",
			Help: "Job application attempts by outcome",
		},
		[]string{"outcome"},
	)

	LLMRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alias_llm_requests_total",
			Help: "LLM requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RealtimeSubscribers,
		RealtimeDroppedEvents,
		PresenceOnline,
		MessagesSentTotal,
		JobApplicationsTotal,
		LLMRequestsTotal,
	)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest records one finished request.
func ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Outcome labels a request as "ok" or "error".
func Outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
