// Package metrics provides Prometheus metrics for scaleconnect.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for scaleconnect.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Vendor protocol
	vendorRequests        *prometheus.CounterVec
	vendorRequestDuration *prometheus.HistogramVec
	vendorRetries         *prometheus.CounterVec
	vendorPages           *prometheus.CounterVec
	recordsNormalized     *prometheus.CounterVec
	recordsSkipped        *prometheus.CounterVec
	logins                *prometheus.CounterVec

	// Sync pipeline
	syncRuns     *prometheus.CounterVec
	syncRecords  *prometheus.GaugeVec
	syncDuration prometheus.Histogram
	duplicates   prometheus.Counter

	// Job queue / worker
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	jobsProcessed prometheus.Counter
	jobErrors     prometheus.Counter

	// Ops HTTP server
	httpRequests *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// Init rebuilds the global manager with opts on a fresh registry. It must be
// called before anything records or serves metrics.
func Init(opts ...Option) {
	customRegistry = prometheus.NewRegistry()
	globalManager = NewManager(append([]Option{WithPrometheusRegistry(customRegistry)}, opts...)...)
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scaleconnect",
		histogramBuckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		enabled:          true,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.constLabels,
	})
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.vendorRequests = m.counterVec("vendor_requests_total",
		"Signed vendor API round trips by endpoint and HTTP status", "vendor", "endpoint", "status")
	m.vendorRequestDuration = auto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "vendor_request_duration_milliseconds",
		Help:        "Vendor API round trip latency in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	}, []string{"vendor", "endpoint"})
	m.vendorRetries = m.counterVec("vendor_retries_total",
		"Vendor API attempts repeated by the retry policy", "vendor", "endpoint")
	m.vendorPages = m.counterVec("vendor_pages_total",
		"Pages fetched per pagination contract", "vendor", "contract")
	m.recordsNormalized = m.counterVec("records_normalized_total",
		"Vendor records converted into weights, by payload schema", "vendor", "schema")
	m.recordsSkipped = m.counterVec("records_skipped_total",
		"Vendor records dropped during normalization", "vendor", "reason")
	m.logins = m.counterVec("logins_total",
		"Login attempts by flow and result", "vendor", "flow", "result")

	m.syncRuns = m.counterVec("sync_runs_total", "Sync runs by result", "result")
	m.syncRecords = auto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sync_records",
		Help:        "Weights written by the last run of each sync",
		ConstLabels: m.constLabels,
	}, []string{"sync"})
	m.syncDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "sync_duration_milliseconds",
		Help:        "Duration of a single sync in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.constLabels,
	})
	m.duplicates = m.counter("duplicates_total", "Weights dropped by the downstream deduper")

	m.queueSize = m.gauge("queue_size", "Pending sync documents")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the sync document queue")
	m.jobsProcessed = m.counter("jobs_processed_total", "Sync documents processed")
	m.jobErrors = m.counter("job_errors_total", "Sync documents that failed to parse or run")

	m.httpRequests = m.counterVec("http_requests_total",
		"Ops HTTP requests by endpoint, method and status", "endpoint", "method", "status")
}

// RecordVendorRequest counts one vendor round trip and its latency.
func RecordVendorRequest(vendor, endpoint, status string, latencyMs float64) {
	if !globalManager.enabled {
		return
	}
	globalManager.vendorRequests.WithLabelValues(vendor, endpoint, status).Inc()
	globalManager.vendorRequestDuration.WithLabelValues(vendor, endpoint).Observe(latencyMs)
}

// RecordVendorRetry counts a repeated attempt.
func RecordVendorRetry(vendor, endpoint string) {
	if globalManager.enabled {
		globalManager.vendorRetries.WithLabelValues(vendor, endpoint).Inc()
	}
}

// RecordVendorPage counts a fetched page for the given pagination contract.
func RecordVendorPage(vendor, contract string) {
	if globalManager.enabled {
		globalManager.vendorPages.WithLabelValues(vendor, contract).Inc()
	}
}

// RecordNormalized counts a record converted with the given schema.
func RecordNormalized(vendor, schema string) {
	if globalManager.enabled {
		globalManager.recordsNormalized.WithLabelValues(vendor, schema).Inc()
	}
}

// RecordSkipped counts a record dropped during normalization.
func RecordSkipped(vendor, reason string) {
	if globalManager.enabled {
		globalManager.recordsSkipped.WithLabelValues(vendor, reason).Inc()
	}
}

// RecordLogin counts a login attempt.
func RecordLogin(vendor, flow string, err error) {
	if !globalManager.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	globalManager.logins.WithLabelValues(vendor, flow, result).Inc()
}

// RecordSyncRun counts a sync run and its duration.
func RecordSyncRun(sync string, records int, durationMs float64, err error) {
	if !globalManager.enabled {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	} else {
		globalManager.syncRecords.WithLabelValues(sync).Set(float64(records))
	}
	globalManager.syncRuns.WithLabelValues(result).Inc()
	globalManager.syncDuration.Observe(durationMs)
}

// RecordDuplicates counts weights dropped by the deduper.
func RecordDuplicates(n int) {
	if globalManager.enabled && n > 0 {
		globalManager.duplicates.Add(float64(n))
	}
}

// UpdateQueueSize sets the pending job gauge.
func UpdateQueueSize(size int) {
	if globalManager.enabled {
		globalManager.queueSize.Set(float64(size))
	}
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	if globalManager.enabled {
		globalManager.queueCapacity.Set(float64(capacity))
	}
}

// RecordJob counts a processed job.
func RecordJob(err error) {
	if !globalManager.enabled {
		return
	}
	globalManager.jobsProcessed.Inc()
	if err != nil {
		globalManager.jobErrors.Inc()
	}
}

// RecordHTTPRequest counts an ops HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// GetRegistry returns the custom Prometheus registry.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
