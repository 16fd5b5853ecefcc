// Package metrics provides Prometheus instrumentation for the Biskato platform.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "biskato",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// OrdersTotal counts order lifecycle transitions by outcome.
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "orders_total",
			Help:      "Total order transitions by outcome (placed, paid, released, refunded, split, cancelled).",
		},
		[]string{"outcome"},
	)

	// SettlementDuration observes time spent inside the atomic settlement transaction.
	SettlementDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "biskato",
		Name:      "settlement_duration_seconds",
		Help:      "Escrow settlement transaction duration in seconds.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	})

	// DisputesTotal counts dispute lifecycle events.
	DisputesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "disputes_total",
			Help:      "Total dispute events (opened, evidence_added, resolved_pay_seller, resolved_refund_buyer, resolved_partial_refund).",
		},
		[]string{"event"},
	)

	// OutboxDispatchTotal counts outbox event dispatches by result.
	OutboxDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "outbox_dispatch_total",
			Help:      "Total outbox event dispatches by result (delivered, retried, parked).",
		},
		[]string{"result"},
	)

	// OutboxPending tracks pending events awaiting dispatch.
	OutboxPending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato",
		Name:      "outbox_pending_events",
		Help:      "Number of outbox events awaiting dispatch.",
	})

	// NotificationsTotal counts notifications emitted by channel result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "notifications_total",
			Help:      "Total notifications emitted by result.",
		},
		[]string{"result"},
	)

	// ReconciliationDrift reports the absolute conservation drift found by the
	// last reconciliation sweep, in centimos.
	ReconciliationDrift = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato",
		Name:      "reconciliation_drift_centimos",
		Help:      "Absolute conservation drift found by the last reconciliation sweep.",
	})

	// ReconciliationRunsTotal counts reconciliation sweeps by result.
	ReconciliationRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "biskato",
			Name:      "reconciliation_runs_total",
			Help:      "Total reconciliation sweeps by result (clean, drift, error).",
		},
		[]string{"result"},
	)

	// AutoReleasedTotal counts orders force-released by the inactivity sweep.
	AutoReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "biskato",
		Name:      "orders_auto_released_total",
		Help:      "Total orders auto-released after the buyer inactivity window.",
	})

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "biskato", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OrdersTotal,
		SettlementDuration,
		DisputesTotal,
		OutboxDispatchTotal,
		OutboxPending,
		NotificationsTotal,
		ReconciliationDrift,
		ReconciliationRunsTotal,
		AutoReleasedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
