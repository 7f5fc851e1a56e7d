// Package metrics provides Prometheus instrumentation for the staking engine.
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
	// StakesTotal counts principal mutations, partitioned by operation.
	StakesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_principal_ops_total",
		Help: "Total stake, unstake, and transfer operations",
	}, []string{"op"})

	// TotalPrincipal tracks the sum of all staked principal.
	TotalPrincipal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_total_principal",
		Help: "Sum of all staked principal",
	})

	// DistributionsTotal counts activations per reward asset.
	DistributionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_distributions_total",
		Help: "Total reward activations",
	}, []string{"asset"})

	// ClaimsTotal counts reward payouts per asset.
	ClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_claims_total",
		Help: "Total reward claims paid out",
	}, []string{"asset"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "staking_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "staking_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "staking_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// UnauthorizedTotal counts privileged calls rejected by the oracle.
	UnauthorizedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "staking_unauthorized_total",
		Help: "Privileged operations rejected by the authorization oracle",
	})
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
