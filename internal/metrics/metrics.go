// Package metrics provides Prometheus metrics for the relay service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailrelay",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailrelay",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// EmailsReceived counts inbound submissions that reached the parser
	EmailsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "emails_received_total",
			Help:      "Total number of inbound email submissions received",
		},
	)

	// EmailsSuppressed counts submissions skipped by the spam marker
	EmailsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "emails_suppressed_total",
			Help:      "Total number of submissions suppressed by the spam subject marker",
		},
	)

	// ParseFailures counts rejected submissions by reason
	ParseFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "parse_failures_total",
			Help:      "Total number of submissions rejected by the form parser, by reason",
		},
		[]string{"reason"},
	)

	// Deliveries counts webhook delivery attempts by outcome
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "deliveries_total",
			Help:      "Total number of webhook delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	// DeliveryDuration measures one webhook POST in seconds
	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "delivery_duration_seconds",
			Help:      "Webhook delivery duration in seconds",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)

	// AttachmentsDropped counts attachments excluded from delivery bodies
	// by the cumulative size cap
	AttachmentsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailrelay",
			Subsystem: "relay",
			Name:      "attachments_dropped_total",
			Help:      "Total number of attachments dropped from delivery bodies by the size cap",
		},
	)
)

// Delivery outcome label values.
const (
	OutcomeDelivered = "delivered"
	OutcomeFailed    = "failed"
	OutcomeNoRoute   = "no_route"
)

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		path := getRoutePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
