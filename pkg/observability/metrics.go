package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Dispatch metrics
	dispatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agenthost_dispatches_total",
			Help: "Total number of agent function dispatches",
		},
		[]string{"func", "mode", "status"},
	)

	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agenthost_dispatch_duration_seconds",
			Help:    "Agent function execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"func", "mode"},
	)

	// Pool metrics
	workersBusy = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_workers_busy",
			Help: "Number of worker slots currently executing a call",
		},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_queue_depth",
			Help: "Number of dispatches waiting for a free worker slot",
		},
	)

	// Registry and placeholder metrics
	agentsLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_agents_live",
			Help: "Number of live agent instances",
		},
	)

	placeholdersLive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_placeholders_live",
			Help: "Number of entries in the placeholder store",
		},
	)

	placeholdersExpired = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agenthost_placeholders_expired_total",
			Help: "Total number of placeholder entries dropped by expiry sweeps",
		},
	)

	// System metrics
	memoryUsage = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_memory_usage_bytes",
			Help: "Memory usage in bytes",
		},
	)

	goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agenthost_goroutines",
			Help: "Number of goroutines",
		},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			dispatchesTotal,
			dispatchDuration,
			workersBusy,
			queueDepth,
			agentsLive,
			placeholdersLive,
			placeholdersExpired,
			memoryUsage,
			goroutines,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordDispatch records one agent function dispatch.
// mode is "sync" or "async"; status is "ok" or "error".
func RecordDispatch(fn, mode, status string, duration time.Duration) {
	dispatchesTotal.WithLabelValues(fn, mode, status).Inc()
	dispatchDuration.WithLabelValues(fn, mode).Observe(duration.Seconds())
}

// AddWorkersBusy adjusts the busy worker gauge by delta.
func AddWorkersBusy(delta int) {
	workersBusy.Add(float64(delta))
}

// SetQueueDepth sets the pending dispatch gauge.
func SetQueueDepth(depth int) {
	queueDepth.Set(float64(depth))
}

// SetAgentsLive sets the live agent gauge.
func SetAgentsLive(count int) {
	agentsLive.Set(float64(count))
}

// SetPlaceholdersLive sets the placeholder store size gauge.
func SetPlaceholdersLive(count int) {
	placeholdersLive.Set(float64(count))
}

// AddPlaceholdersExpired records entries dropped by an expiry sweep.
func AddPlaceholdersExpired(count int) {
	placeholdersExpired.Add(float64(count))
}

// SetMemoryUsage sets the memory usage gauge
func SetMemoryUsage(bytes uint64) {
	memoryUsage.Set(float64(bytes))
}

// SetGoroutines sets the goroutines gauge
func SetGoroutines(count int) {
	goroutines.Set(float64(count))
}
