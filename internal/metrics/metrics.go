// Package metrics provides Prometheus instrumentation for the trading cycle
// and the status API.
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
	// CyclesTotal counts finished cycles by outcome (ok, failed, skipped).
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revbot_cycles_total",
		Help: "Total number of trading cycles run",
	}, []string{"outcome"})

	// CycleDuration tracks wall time of a full cycle.
	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "revbot_cycle_duration_seconds",
		Help:    "Trading cycle duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	// OrdersPlaced counts submitted orders by kind (entry_long, entry_short, exit).
	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revbot_orders_placed_total",
		Help: "Total number of limit orders submitted",
	}, []string{"kind"})

	// OrderFailures counts rejected submissions.
	OrderFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revbot_order_failures_total",
		Help: "Limit orders rejected by the broker",
	})

	// TradesClosed counts closed round trips by exit reason.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revbot_trades_closed_total",
		Help: "Total number of closed trades",
	}, []string{"reason"})

	// RealizedPnL accumulates realized profit and loss in dollars.
	RealizedPnL = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revbot_realized_pnl_dollars",
		Help: "Realized profit and loss since process start",
	})

	// OpenPositions tracks the ledger size after the last cycle.
	OpenPositions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revbot_open_positions",
		Help: "Positions in the ledger after the last cycle",
	})

	// PendingOrders tracks the tracker size after the last cycle.
	PendingOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "revbot_pending_orders",
		Help: "Tracked pending orders after the last cycle",
	})

	// ReconcileDiscrepancies counts local/broker disagreements.
	ReconcileDiscrepancies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "revbot_reconcile_discrepancies_total",
		Help: "Local state corrected from the broker view",
	})

	// CycleErrors counts non-fatal cycle errors by kind.
	CycleErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revbot_cycle_errors_total",
		Help: "Non-fatal cycle errors by kind",
	}, []string{"kind"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "revbot_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "revbot_http_request_duration_seconds",
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
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Route pattern, not the raw path, to keep order IDs out of labels.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
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
