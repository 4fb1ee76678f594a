package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all the application metrics
type Metrics struct {
	// HTTP request metrics
	HTTPRequestTotal    *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Storage operation metrics
	StorageOperationTotal    *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Offline queue metrics
	QueueDepth        prometheus.Gauge
	QueueEnqueueTotal *prometheus.CounterVec
	SyncPassTotal     *prometheus.CounterVec
	SyncItemsApplied  prometheus.Counter

	// Read cache metrics
	CacheAccessTotal *prometheus.CounterVec

	// Event publishing metrics
	EventPublishTotal *prometheus.CounterVec
}

// Global metrics instance with mutex for thread safety
var (
	globalMetrics *Metrics
	metricsMutex  sync.Mutex
)

// NewMetrics creates a new Metrics instance with all required metrics
func NewMetrics() *Metrics {
	metricsMutex.Lock()
	defer metricsMutex.Unlock()

	// Return existing instance if already created
	if globalMetrics != nil {
		return globalMetrics
	}

	m := &Metrics{
		HTTPRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),

		StorageOperationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storage_operations_total",
			Help: "Total number of storage operations",
		}, []string{"operation", "status"}),

		StorageOperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "status"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Current number of items in the offline queue",
		}),

		QueueEnqueueTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_queue_enqueue_total",
			Help: "Total number of offline enqueue attempts",
		}, []string{"kind", "status"}),

		SyncPassTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "offline_sync_pass_total",
			Help: "Total number of offline sync passes",
		}, []string{"status"}),

		SyncItemsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "offline_sync_items_applied_total",
			Help: "Total number of queued items applied by sync passes",
		}),

		CacheAccessTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "read_cache_access_total",
			Help: "Total number of read cache accesses",
		}, []string{"result"}),

		EventPublishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_total",
			Help: "Total number of event publish operations",
		}, []string{"event_type", "status"}),
	}

	// Register metrics with the default registry
	registerMetrics(m)

	// Store as global instance
	globalMetrics = m

	return m
}

// registerMetrics registers all metrics with the default registry
func registerMetrics(m *Metrics) {
	// Try to register each metric, ignore if already registered
	registerOrGet(m.HTTPRequestTotal)
	registerOrGet(m.HTTPRequestDuration)
	registerOrGet(m.StorageOperationTotal)
	registerOrGet(m.StorageOperationDuration)
	registerOrGet(m.QueueDepth)
	registerOrGet(m.QueueEnqueueTotal)
	registerOrGet(m.SyncPassTotal)
	registerOrGet(m.SyncItemsApplied)
	registerOrGet(m.CacheAccessTotal)
	registerOrGet(m.EventPublishTotal)
}

// registerOrGet tries to register a metric, returns the existing one if already registered
func registerOrGet(c prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(c); err != nil {
		// If already registered, return the existing collector
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector
		}
	}
	return c
}
