package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Bus handler metrics
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rosey_db_messages_total",
			Help: "Total bus messages handled by subject and outcome",
		},
		[]string{"subject", "outcome"},
	)

	HandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rosey_db_handler_duration_seconds",
			Help:    "Bus handler execution time in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"subject"},
	)

	// KV metrics
	KVSweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rosey_db_kv_sweeps_total",
			Help: "Total KV TTL sweep cycles completed",
		},
	)

	KVExpiredDeleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rosey_db_kv_expired_deleted_total",
			Help: "Total expired KV rows deleted by the sweeper",
		},
	)

	// Migration metrics
	MigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rosey_db_migrations_total",
			Help: "Total plugin migrations processed by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Bot-side outbound metrics
	OutboundProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rosey_outbound_messages_total",
			Help: "Total outbound messages processed by result",
		},
		[]string{"result"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(HandlerDuration)
	prometheus.MustRegister(KVSweepsTotal)
	prometheus.MustRegister(KVExpiredDeleted)
	prometheus.MustRegister(MigrationsTotal)
	prometheus.MustRegister(OutboundProcessed)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
