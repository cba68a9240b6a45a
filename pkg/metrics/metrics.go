package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal    prometheus.CounterVec
	HTTPRequestDuration  prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     prometheus.HistogramVec

	// Job processing metrics
	JobsProcessedTotal    prometheus.CounterVec
	JobProcessingDuration prometheus.HistogramVec
	JobProcessingErrors   prometheus.CounterVec
	JobSizeBytes          prometheus.HistogramVec

	// Queue metrics
	QueueSize                prometheus.GaugeVec
	QueueProcessingDuration  prometheus.HistogramVec
	QueueItemsProcessedTotal prometheus.CounterVec
	QueueItemsFailedTotal    prometheus.CounterVec

	// System metrics
	ActiveWorkers    prometheus.Gauge
	MemoryUsageBytes prometheus.Gauge
	DiskUsageBytes   prometheus.GaugeVec
	CacheHitRatio    prometheus.Gauge

	// Orchestration-specific metrics
	MergeLatchOutcomeTotal prometheus.CounterVec
	PageRetriesTotal       prometheus.CounterVec
}

// New creates a new metrics instance
func New(namespace, subsystem string) *Metrics {
	return &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),

		HTTPRequestDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),

		HTTPRequestsInFlight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		HTTPResponseSize: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "http_response_size_bytes",
				Help:      "Size of HTTP responses in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "endpoint"},
		),

		// Job processing metrics
		JobsProcessedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "jobs_processed_total",
				Help:      "Total number of jobs processed, by job type and terminal status",
			},
			[]string{"job_type", "status"},
		),

		JobProcessingDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_processing_duration_seconds",
				Help:      "Duration of a single work-item handler invocation",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"job_type"},
		),

		JobProcessingErrors: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_processing_errors_total",
				Help:      "Total number of job handler errors, by job type and error kind",
			},
			[]string{"job_type", "error_type"},
		),

		JobSizeBytes: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "job_result_size_bytes",
				Help:      "Size of produced markdown results in bytes",
				Buckets:   prometheus.ExponentialBuckets(256, 2, 16),
			},
			[]string{"job_type"},
		),

		// Queue metrics
		QueueSize: *promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_size",
				Help:      "Current size of the work queue, by sub-queue (pending, delayed, dead_letter)",
			},
			[]string{"queue_name"},
		),

		QueueProcessingDuration: *promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_processing_duration_seconds",
				Help:      "Duration of queue item processing in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"queue_name"},
		),

		QueueItemsProcessedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_items_processed_total",
				Help:      "Total number of queue items processed",
			},
			[]string{"queue_name", "status"},
		),

		QueueItemsFailedTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "queue_items_failed_total",
				Help:      "Total number of failed queue items",
			},
			[]string{"queue_name", "error_type"},
		),

		// System metrics
		ActiveWorkers: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "active_workers",
				Help:      "Current number of active workers",
			},
		),

		MemoryUsageBytes: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "memory_usage_bytes",
				Help:      "Current memory usage in bytes",
			},
		),

		DiskUsageBytes: *promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "disk_usage_bytes",
				Help:      "Current disk usage in bytes",
			},
			[]string{"path"},
		),

		CacheHitRatio: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "cache_hit_ratio",
				Help:      "Result cache hit ratio (0-1)",
			},
		),

		// Orchestration-specific metrics
		MergeLatchOutcomeTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "merge_latch_outcome_total",
				Help:      "Merge-latch CAS outcomes, won or lost, per main job completion race",
			},
			[]string{"outcome"},
		),

		PageRetriesTotal: *promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "page_retries_total",
				Help:      "Total number of page retry requests",
			},
			[]string{"result"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	m.HTTPResponseSize.WithLabelValues(method, endpoint).Observe(float64(responseSize))
}

// RecordJobProcessing records a work-item handler's outcome.
func (m *Metrics) RecordJobProcessing(jobType, status string, duration time.Duration, resultSizeBytes int64) {
	m.JobsProcessedTotal.WithLabelValues(jobType, status).Inc()
	m.JobProcessingDuration.WithLabelValues(jobType).Observe(duration.Seconds())
	if resultSizeBytes > 0 {
		m.JobSizeBytes.WithLabelValues(jobType).Observe(float64(resultSizeBytes))
	}
}

// RecordJobError records a handler error.
func (m *Metrics) RecordJobError(jobType, errorType string) {
	m.JobProcessingErrors.WithLabelValues(jobType, errorType).Inc()
}

// RecordQueueOperation records queue operation metrics
func (m *Metrics) RecordQueueOperation(queueName, status string, duration time.Duration) {
	m.QueueItemsProcessedTotal.WithLabelValues(queueName, status).Inc()
	m.QueueProcessingDuration.WithLabelValues(queueName).Observe(duration.Seconds())
}

// RecordQueueError records queue processing error
func (m *Metrics) RecordQueueError(queueName, errorType string) {
	m.QueueItemsFailedTotal.WithLabelValues(queueName, errorType).Inc()
}

// SetQueueSize sets current queue size
func (m *Metrics) SetQueueSize(queueName string, size float64) {
	m.QueueSize.WithLabelValues(queueName).Set(size)
}

// SetActiveWorkers sets the number of active workers
func (m *Metrics) SetActiveWorkers(count float64) {
	m.ActiveWorkers.Set(count)
}

// SetMemoryUsage sets current memory usage
func (m *Metrics) SetMemoryUsage(bytes float64) {
	m.MemoryUsageBytes.Set(bytes)
}

// SetDiskUsage sets current disk usage
func (m *Metrics) SetDiskUsage(path string, bytes float64) {
	m.DiskUsageBytes.WithLabelValues(path).Set(bytes)
}

// SetCacheHitRatio sets cache hit ratio
func (m *Metrics) SetCacheHitRatio(ratio float64) {
	m.CacheHitRatio.Set(ratio)
}

// RecordMergeLatch records whether this call won or lost the merge-latch CAS.
func (m *Metrics) RecordMergeLatch(won bool) {
	outcome := "lost"
	if won {
		outcome = "won"
	}
	m.MergeLatchOutcomeTotal.WithLabelValues(outcome).Inc()
}

// RecordPageRetry records a page retry request outcome.
func (m *Metrics) RecordPageRetry(result string) {
	m.PageRetriesTotal.WithLabelValues(result).Inc()
}

// Global metrics instance
var globalMetrics *Metrics

// Init initializes global metrics
func Init(namespace, subsystem string) {
	globalMetrics = New(namespace, subsystem)
}

// Get returns the global metrics instance
func Get() *Metrics {
	if globalMetrics == nil {
		globalMetrics = New("docmark", "orchestrator")
	}
	return globalMetrics
}

// RecordCacheOperation implements pkg/cache's CacheMetrics interface so the
// result cache can report through the same registry.
func (m *Metrics) RecordCacheOperation(operation, result string, latency time.Duration, size int64) {
	m.QueueItemsProcessedTotal.WithLabelValues("result_cache:"+operation, result).Inc()
	m.QueueProcessingDuration.WithLabelValues("result_cache:" + operation).Observe(latency.Seconds())
}

// RecordEventPublished implements pkg/events' EventMetrics interface.
func (m *Metrics) RecordEventPublished(eventType string, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.QueueItemsProcessedTotal.WithLabelValues("event:"+eventType+":publish", result).Inc()
	m.QueueProcessingDuration.WithLabelValues("event:" + eventType + ":publish").Observe(latency.Seconds())
}

// RecordEventProcessed implements pkg/events' EventMetrics interface.
func (m *Metrics) RecordEventProcessed(eventType string, success bool, latency time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	m.QueueItemsProcessedTotal.WithLabelValues("event:"+eventType+":process", result).Inc()
	m.QueueProcessingDuration.WithLabelValues("event:" + eventType + ":process").Observe(latency.Seconds())
}

// RecordEventHandlerError implements pkg/events' EventMetrics interface.
func (m *Metrics) RecordEventHandlerError(eventType string, handler string, err error) {
	m.QueueItemsFailedTotal.WithLabelValues("event:"+eventType, handler).Inc()
}
