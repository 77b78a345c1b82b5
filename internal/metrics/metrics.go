// Package metrics provides Prometheus instrumentation for the walletguard
// engine.
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
			Namespace: "walletguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "walletguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// VerdictsTotal counts fraud verdicts by risk level and outcome.
	VerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletguard",
			Name:      "verdicts_total",
			Help:      "Total fraud verdicts by risk level and outcome.",
		},
		[]string{"level", "outcome"},
	)

	// RuleTriggered counts individual fraud rule hits.
	RuleTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletguard",
			Name:      "rule_hits_total",
			Help:      "Total fraud rule hits by rule.",
		},
		[]string{"rule"},
	)

	// TransactionsByStatus counts transaction state transitions.
	TransactionsByStatus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletguard",
			Name:      "transactions_total",
			Help:      "Total transaction resolutions by status.",
		},
		[]string{"status"},
	)

	// TransactionsSettled counts completed settlements.
	TransactionsSettled = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "walletguard",
		Name:      "transactions_settled_total",
		Help:      "Total transactions settled (balance moved).",
	})

	// AccountsFrozen counts auto-freezes by triggering reason.
	AccountsFrozen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletguard",
			Name:      "accounts_frozen_total",
			Help:      "Total automatic account freezes by reason.",
		},
		[]string{"reason"},
	)

	// AlertsRecorded counts alerts by severity.
	AlertsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "walletguard",
			Name:      "alerts_total",
			Help:      "Total fraud alerts recorded by severity.",
		},
		[]string{"severity"},
	)

	// PendingConfirmations tracks transactions currently awaiting a confirm.
	PendingConfirmations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletguard",
			Name:      "pending_confirmations",
			Help:      "Number of transactions currently pending confirmation.",
		},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "walletguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "walletguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		VerdictsTotal,
		RuleTriggered,
		TransactionsByStatus,
		TransactionsSettled,
		AccountsFrozen,
		AlertsRecorded,
		PendingConfirmations,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// RecordVerdict increments the verdict counter for one evaluation.
func RecordVerdict(level, outcome string) {
	VerdictsTotal.WithLabelValues(level, outcome).Inc()
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
