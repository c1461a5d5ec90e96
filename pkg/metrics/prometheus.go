// Package metrics provides Prometheus metrics for the pixel reconstruction pipeline.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the reconstruction service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Event pipeline
	eventsProcessed  prometheus.Counter
	eventsFailed     prometheus.Counter
	eventsDuplicate  prometheus.Counter
	eventLatency     prometheus.Histogram
	moduleLatency    *prometheus.HistogramVec
	moduleErrors     *prometheus.CounterVec
	messagesDispatch *prometheus.CounterVec
	deliveries       *prometheus.CounterVec

	// Reconstruction
	clusters      *prometheus.CounterVec
	clusterSize   prometheus.Histogram
	hitsPerEvent  prometheus.Histogram
	conversions   *prometheus.CounterVec
	trimmedPixels *prometheus.CounterVec

	// Queue
	queueSize        prometheus.Gauge
	queueCapacity    prometheus.Gauge
	queueUtilization prometheus.Gauge
	queueEnqueued    prometheus.Counter
	queueDequeued    prometheus.Counter
	queueRejected    prometheus.Counter
	queueWait        prometheus.Histogram

	// Workers
	workerCount   prometheus.Gauge
	workerActive  prometheus.Gauge
	workerIdle    prometheus.Gauge
	workerLatency prometheus.Histogram
	workerErrors  prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryWriteLatency *prometheus.HistogramVec
	repositoryRows         *prometheus.CounterVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton used by Record* helpers

// customRegistry keeps the default Go collectors out of /metrics unless asked for.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // shared registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "pixreco",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(auto promauto.Factory, name, help string) prometheus.Counter {
	return auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.CounterVec {
	return auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(auto promauto.Factory, name, help string) prometheus.Gauge {
	return auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(auto promauto.Factory, name, help string, buckets []float64) prometheus.Histogram {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) histogramVec(auto promauto.Factory, name, help string, labels ...string) *prometheus.HistogramVec {
	return auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.eventsProcessed = m.counter(auto, "events_processed_total", "Events that completed every module")
	m.eventsFailed = m.counter(auto, "events_failed_total", "Events discarded after a module failure")
	m.eventsDuplicate = m.counter(auto, "events_duplicate_total", "Events rejected as already seen")
	m.eventLatency = m.histogram(auto, "event_latency_milliseconds", "Wall time of one event through the module chain", nil)
	m.moduleLatency = m.histogramVec(auto, "module_latency_milliseconds", "Module run time per event", "module")
	m.moduleErrors = m.counterVec(auto, "module_errors_total", "Fatal module failures", "module")
	m.messagesDispatch = m.counterVec(auto, "messages_dispatched_total", "Messages published on the bus", "kind")
	m.deliveries = m.counterVec(auto, "message_deliveries_total", "Subscriber invocations", "kind")

	m.clusters = m.counterVec(auto, "clusters_total", "Reconstructed clusters", "detector")
	m.clusterSize = m.histogram(auto, "cluster_size_pixels", "Pixels per reconstructed cluster",
		[]float64{1, 2, 3, 4, 6, 8, 12, 16, 24, 32, 64})
	m.hitsPerEvent = m.histogram(auto, "hits_per_event", "Pixel hits per detector per event",
		prometheus.ExponentialBuckets(1, 2, 12))
	m.conversions = m.counterVec(auto, "conversions_total", "Clusters associated with an interaction product", "detector")
	m.trimmedPixels = m.counterVec(auto, "trimmed_pixels_total", "Pixels dropped by seed-radius trimming", "detector")

	m.queueSize = m.gauge(auto, "queue_size", "Events waiting in the queue")
	m.queueCapacity = m.gauge(auto, "queue_capacity", "Queue capacity")
	m.queueUtilization = m.gauge(auto, "queue_utilization_ratio", "Queue size over capacity")
	m.queueEnqueued = m.counter(auto, "queue_enqueue_total", "Events enqueued")
	m.queueDequeued = m.counter(auto, "queue_dequeue_total", "Events dequeued")
	m.queueRejected = m.counter(auto, "queue_enqueue_errors_total", "Events rejected by the queue")
	m.queueWait = m.histogram(auto, "queue_wait_milliseconds", "Time an event spent queued", nil)

	m.workerCount = m.gauge(auto, "worker_count", "Configured workers")
	m.workerActive = m.gauge(auto, "worker_active_count", "Workers currently processing an event")
	m.workerIdle = m.gauge(auto, "worker_idle_count", "Workers waiting for an event")
	m.workerLatency = m.histogram(auto, "worker_processing_latency_milliseconds", "Worker time per event", nil)
	m.workerErrors = m.counter(auto, "worker_errors_total", "Events a worker failed to process")

	m.httpRequests = m.counterVec(auto, "http_requests_total", "HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec(auto, "http_request_duration_milliseconds", "HTTP request duration",
		"endpoint", "method", "status_code")

	m.repositoryWriteLatency = m.histogramVec(auto, "repository_write_latency_milliseconds", "Repository write latency", "table")
	m.repositoryRows = m.counterVec(auto, "repository_rows_total", "Rows written to the repository", "table")

	m.errorsByComponent = m.counterVec(auto, "errors_by_component_total", "Errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge(auto, "system_memory_usage_bytes", "Heap in use")
	m.systemGoroutineCount = m.gauge(auto, "system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram(auto, "system_gc_pause_time_milliseconds", "GC pause time",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// RecordEventProcessed counts a completed event.
func RecordEventProcessed() { globalManager.eventsProcessed.Inc() }

// RecordEventFailed counts a discarded event.
func RecordEventFailed() { globalManager.eventsFailed.Inc() }

// RecordEventDuplicate counts an event rejected by deduplication.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventLatency records the time one event took through the pipeline.
func RecordEventLatency(latencyMs float64) { globalManager.eventLatency.Observe(latencyMs) }

// RecordModuleLatency records one module run.
func RecordModuleLatency(module string, latencyMs float64) {
	globalManager.moduleLatency.WithLabelValues(module).Observe(latencyMs)
}

// RecordModuleError counts a fatal module failure.
func RecordModuleError(module string) { globalManager.moduleErrors.WithLabelValues(module).Inc() }

// RecordMessageDispatched counts a published message and the subscribers it reached.
func RecordMessageDispatched(kind string, deliveries int) {
	globalManager.messagesDispatch.WithLabelValues(kind).Inc()
	globalManager.deliveries.WithLabelValues(kind).Add(float64(deliveries))
}

// RecordClusters counts clusters reconstructed on a detector.
func RecordClusters(detector string, n int) {
	globalManager.clusters.WithLabelValues(detector).Add(float64(n))
}

// RecordClusterSize observes the pixel count of one cluster.
func RecordClusterSize(size int) { globalManager.clusterSize.Observe(float64(size)) }

// RecordHitsPerEvent observes the hit multiplicity of one detector in one event.
func RecordHitsPerEvent(n int) { globalManager.hitsPerEvent.Observe(float64(n)) }

// RecordConversion counts a cluster matched to an interaction product.
func RecordConversion(detector string) { globalManager.conversions.WithLabelValues(detector).Inc() }

// RecordTrimmedPixels counts pixels removed by trimming.
func RecordTrimmedPixels(detector string, n int) {
	if n > 0 {
		globalManager.trimmedPixels.WithLabelValues(detector).Add(float64(n))
	}
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueued.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeued.Inc() }

// RecordQueueEnqueueError increments the rejected-enqueue counter.
func RecordQueueEnqueueError() { globalManager.queueRejected.Inc() }

// RecordQueueWait records how long an event waited in the queue.
func RecordQueueWait(latencyMs float64) { globalManager.queueWait.Observe(latencyMs) }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActive.Set(float64(count)) }

// UpdateWorkerIdleCount sets the number of idle workers.
func UpdateWorkerIdleCount(count int) { globalManager.workerIdle.Set(float64(count)) }

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method string, statusCode int) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method string, statusCode int, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, strconv.Itoa(statusCode)).Observe(durationMs)
}

// RecordRepositoryWrite records one batch written to table.
func RecordRepositoryWrite(table string, rows int, latencyMs float64) {
	globalManager.repositoryWriteLatency.WithLabelValues(table).Observe(latencyMs)
	globalManager.repositoryRows.WithLabelValues(table).Add(float64(rows))
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing the package-level helpers.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
