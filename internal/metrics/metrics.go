// Package metrics provides Prometheus instrumentation for the portfolio engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuoteCacheHits counts quote lookups served from cache within TTL.
	QuoteCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alphainsights_quote_cache_hits_total",
		Help: "Quote lookups served from cache",
	})

	// QuoteCacheMisses counts quote lookups that required an upstream call.
	QuoteCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alphainsights_quote_cache_misses_total",
		Help: "Quote lookups that went upstream",
	})

	// QuoteStaleServed counts lookups answered with an expired cached quote
	// because the upstream source was unavailable.
	QuoteStaleServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alphainsights_quote_stale_served_total",
		Help: "Quote lookups answered with a stale cached value",
	})

	// QuoteSourceFailures counts upstream market data failures.
	QuoteSourceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "alphainsights_quote_source_failures_total",
		Help: "Market data source call failures",
	})

	// AlertsTriggered counts alerts transitioned to triggered, by condition.
	AlertsTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alphainsights_alerts_triggered_total",
		Help: "Price alerts transitioned to triggered",
	}, []string{"condition"})

	// NotificationsDispatched counts notifications delivered, by type.
	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alphainsights_notifications_dispatched_total",
		Help: "Notifications delivered to connected users",
	}, []string{"type"})

	// NotificationsDropped counts notifications dropped because the user had
	// no active connection or the send failed.
	NotificationsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alphainsights_notifications_dropped_total",
		Help: "Notifications dropped (no connection or send failure)",
	}, []string{"type"})

	// ConnectedUsers tracks users with an active delivery channel.
	ConnectedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "alphainsights_connected_users",
		Help: "Users with an active notification channel",
	})

	// MonitorPassDuration tracks background loop pass duration by loop name.
	MonitorPassDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alphainsights_monitor_pass_duration_seconds",
		Help:    "Background monitor pass duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"loop"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alphainsights_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "alphainsights_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// WebSocket upgrade needs to hijack the connection.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
