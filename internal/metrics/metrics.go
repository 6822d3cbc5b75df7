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
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushgate_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	pushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_pushes_total",
			Help: "Total push requests by channel type and outcome",
		},
		[]string{"channel_type", "outcome"},
	)

	pushTargetsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_push_targets_total",
			Help: "Per-target delivery attempts by channel type and result",
		},
		[]string{"channel_type", "result"},
	)

	providerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pushgate_provider_request_duration_seconds",
			Help:    "Provider API round-trip latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	tokenCacheEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_token_cache_events_total",
			Help: "Access-token cache lookups by provider and result",
		},
		[]string{"provider", "result"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushgate_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"app_key"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordPush records one push request and its per-target counts.
func RecordPush(channelType string, success, failed int) {
	outcome := "success"
	switch {
	case failed > 0 && success == 0:
		outcome = "failed"
	case failed > 0:
		outcome = "partial"
	}
	pushesTotal.WithLabelValues(channelType, outcome).Inc()
	pushTargetsTotal.WithLabelValues(channelType, "success").Add(float64(success))
	pushTargetsTotal.WithLabelValues(channelType, "failed").Add(float64(failed))
}

// RecordProviderRequest records one provider API round trip.
func RecordProviderRequest(provider string, duration time.Duration) {
	providerRequestDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordTokenCache records a token cache lookup result (hit or miss).
func RecordTokenCache(provider, result string) {
	tokenCacheEvents.WithLabelValues(provider, result).Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(appKey string) {
	rateLimitRejections.WithLabelValues(appKey).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
