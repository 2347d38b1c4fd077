package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCounter counts all HTTP requests with labels
	RequestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDurationHistogram records request duration in seconds
	RequestDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// PaymentsFinished counts payments reaching a terminal status, by
	// status and by which confirmation path got there first.
	PaymentsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payments_finished_total",
			Help: "Payments that reached a terminal status",
		},
		[]string{"status", "source"},
	)

	// GatewayErrors counts failed push-payment initiations.
	GatewayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_errors_total",
			Help: "Push-payment initiations that were rejected or could not reach the gateway",
		},
		[]string{"reason"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Events published on the channel layer",
		},
		[]string{"kind"},
	)

	OpenConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_open_connections",
			Help: "Open WebSocket connections by topic kind",
		},
		[]string{"topic"},
	)
)

// Middleware records request counts and latency, labelled by chi's route
// pattern so that ids in paths do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		RequestCounter.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		RequestDurationHistogram.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
