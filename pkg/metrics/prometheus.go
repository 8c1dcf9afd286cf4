// Package metrics provides Prometheus metrics for the flagrace scoring service.
package metrics

import (
	"slices"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingestion
	eventsIngested  *prometheus.CounterVec
	eventsDuplicate *prometheus.CounterVec
	eventsRejected  *prometheus.CounterVec

	// Aggregation
	eventsApplied   *prometheus.CounterVec
	eventsSkipped   *prometheus.CounterVec
	eventsRetried   prometheus.Counter
	pointsAwarded   prometheus.Counter
	penaltyMinutes  prometheus.Counter
	applyLatency    prometheus.Histogram
	aggregateErrors prometheus.Counter

	// Projection and derived views
	projectionRefreshes *prometheus.CounterVec
	projectionFallbacks prometheus.Counter
	projectionSize      prometheus.Gauge
	anomalyFindings     *prometheus.CounterVec
	matrixRebuilds      prometheus.Counter

	// Administration
	resetRuns       *prometheus.CounterVec
	resetPassErrors *prometheus.CounterVec
	exports         prometheus.Counter

	// Queue and workers
	queueSize               prometheus.Gauge
	queueCapacity           prometheus.Gauge
	queueUtilization        prometheus.Gauge
	queueEnqueueErrors      *prometheus.CounterVec
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram

	// Change feeds
	feedSubscribers *prometheus.GaugeVec
	feedDropped     *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRateLimited     *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
	totalTeams           prometheus.Gauge
}

var (
	globalManager  atomic.Pointer[Manager]             //nolint:gochecknoglobals // process-wide metrics manager
	globalRegistry atomic.Pointer[prometheus.Registry] //nolint:gochecknoglobals // registry served on /metrics
)

func init() { //nolint:gochecknoinits // collectors exist before configuration is loaded
	Init()
}

// Init replaces the global manager with one built from opts on a fresh
// registry. Values recorded before the call are discarded, so call it once
// at startup before serving metrics.
func Init(opts ...Option) {
	registry := prometheus.NewRegistry()
	m := NewManager(append(slices.Clip(opts), WithPrometheusRegistry(registry))...)
	globalRegistry.Store(registry)
	globalManager.Store(m)
}

func global() *Manager { return globalManager.Load() }

// NewManager creates a metrics manager registering on the configured registry.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "flagrace",
		subsystem:        "scoring",
		histogramBuckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) initializeMetrics() { //nolint:funlen // flat list of collectors
	m.eventsIngested = m.counterVec("events_ingested_total", "Events accepted into the event log by kind", "kind")
	m.eventsDuplicate = m.counterVec("events_duplicate_total", "Redelivered events ignored by the idempotency ledger", "stage")
	m.eventsRejected = m.counterVec("events_rejected_total", "Events rejected at the boundary by reason", "reason")

	m.eventsApplied = m.counterVec("events_applied_total", "Events applied to team aggregates by kind", "kind")
	m.eventsSkipped = m.counterVec("events_skipped_total", "Events skipped by the aggregator by reason", "reason")
	m.eventsRetried = m.counter("events_retried_total", "Events requeued after a retryable failure")
	m.pointsAwarded = m.counter("points_awarded_total", "Points added to team scores")
	m.penaltyMinutes = m.counter("penalty_minutes_total", "Time penalty minutes added to team aggregates")
	m.applyLatency = m.histogram("apply_latency_milliseconds", "Latency of applying one event to its aggregate", m.histogramBuckets)
	m.aggregateErrors = m.counter("aggregate_errors_total", "Retryable failures while applying events")

	m.projectionRefreshes = m.counterVec("projection_refreshes_total", "Leaderboard projection refreshes by result", "result")
	m.projectionFallbacks = m.counter("projection_fallbacks_total", "Reads served by deriving the leaderboard from aggregates")
	m.projectionSize = m.gauge("projection_entries", "Entries in the leaderboard projection")
	m.anomalyFindings = m.counterVec("anomaly_findings_total", "Anomaly findings reported by type and severity", "type", "severity")
	m.matrixRebuilds = m.counter("matrix_rebuilds_total", "Full solve-matrix materializations")

	m.resetRuns = m.counterVec("reset_runs_total", "Competition reset runs by result", "result")
	m.resetPassErrors = m.counterVec("reset_pass_errors_total", "Reset passes that failed by pass name", "pass")
	m.exports = m.counter("exports_total", "Snapshot exports served")

	m.queueSize = m.gauge("queue_size", "Current size of the event queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum capacity of the event queue")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue size divided by capacity")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Failed enqueues by reason", "reason")
	m.workerCount = m.gauge("worker_count", "Number of event workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "End-to-end worker latency per event", m.histogramBuckets)

	m.feedSubscribers = promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "feed_subscribers", Help: "Active change-feed subscriptions by topic",
	}, []string{"topic"})
	m.feedDropped = m.counterVec("feed_dropped_total", "Notifications dropped for slow subscribers by topic", "topic")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "http_request_duration_milliseconds", Help: "HTTP request duration in milliseconds",
		Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})
	m.httpRateLimited = m.counterVec("http_rate_limited_total", "Requests rejected by the ingest rate limiter", "endpoint")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "Average GC pause in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100})
	m.totalTeams = m.gauge("teams_total", "Teams known to the competition")
}

// RecordEventIngested counts an event appended to the log.
func RecordEventIngested(kind string) { global().eventsIngested.WithLabelValues(kind).Inc() }

// RecordEventDuplicate counts a redelivery detected at the given stage (ingest, aggregate).
func RecordEventDuplicate(stage string) { global().eventsDuplicate.WithLabelValues(stage).Inc() }

// RecordEventRejected counts an event refused at the boundary.
func RecordEventRejected(reason string) { global().eventsRejected.WithLabelValues(reason).Inc() }

// RecordEventApplied counts an event that changed (or was recorded against) an aggregate.
func RecordEventApplied(kind string) { global().eventsApplied.WithLabelValues(kind).Inc() }

// RecordEventSkipped counts an event the aggregator skipped.
func RecordEventSkipped(reason string) { global().eventsSkipped.WithLabelValues(reason).Inc() }

// RecordEventRetried counts a requeue.
func RecordEventRetried() { global().eventsRetried.Inc() }

// RecordPointsAwarded adds awarded points.
func RecordPointsAwarded(points int64) {
	if points > 0 {
		global().pointsAwarded.Add(float64(points))
	}
}

// RecordPenaltyMinutes adds penalty minutes.
func RecordPenaltyMinutes(minutes int64) {
	if minutes > 0 {
		global().penaltyMinutes.Add(float64(minutes))
	}
}

// RecordApplyLatency observes aggregate update latency.
func RecordApplyLatency(latencyMs float64) { global().applyLatency.Observe(latencyMs) }

// RecordAggregateError counts a retryable aggregation failure.
func RecordAggregateError() { global().aggregateErrors.Inc() }

// RecordProjectionRefresh counts a projector run by result (ok, error).
func RecordProjectionRefresh(result string) {
	global().projectionRefreshes.WithLabelValues(result).Inc()
}

// RecordProjectionFallback counts a read served from aggregates.
func RecordProjectionFallback() { global().projectionFallbacks.Inc() }

// UpdateProjectionSize sets the projection entry count.
func UpdateProjectionSize(n int) { global().projectionSize.Set(float64(n)) }

// RecordAnomalyFinding counts a finding.
func RecordAnomalyFinding(kind, severity string) {
	global().anomalyFindings.WithLabelValues(kind, severity).Inc()
}

// RecordMatrixRebuild counts a solve-matrix materialization.
func RecordMatrixRebuild() { global().matrixRebuilds.Inc() }

// RecordResetRun counts a reset by result (complete, incomplete).
func RecordResetRun(result string) { global().resetRuns.WithLabelValues(result).Inc() }

// RecordResetPassError counts a failed reset pass.
func RecordResetPassError(pass string) { global().resetPassErrors.WithLabelValues(pass).Inc() }

// RecordExport counts a snapshot export.
func RecordExport() { global().exports.Inc() }

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) { global().queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) { global().queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) { global().queueUtilization.Set(utilization) }

// RecordQueueEnqueueError counts a failed enqueue.
func RecordQueueEnqueueError(reason string) {
	global().queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the worker count.
func UpdateWorkerCount(count int) { global().workerCount.Set(float64(count)) }

// RecordWorkerProcessingLatency observes worker latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	global().workerProcessingLatency.Observe(latencyMs)
}

// UpdateFeedSubscribers sets the subscriber count of a topic.
func UpdateFeedSubscribers(topic string, n int) {
	global().feedSubscribers.WithLabelValues(topic).Set(float64(n))
}

// RecordFeedDropped counts a notification dropped for a slow subscriber.
func RecordFeedDropped(topic string) { global().feedDropped.WithLabelValues(topic).Inc() }

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	global().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	global().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordHTTPRateLimited counts a rate-limited request.
func RecordHTTPRateLimited(endpoint string) { global().httpRateLimited.WithLabelValues(endpoint).Inc() }

// UpdateSystemMemoryUsage sets the heap usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { global().systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { global().systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { global().systemGCPauseTime.Observe(pauseMs) }

// UpdateTotalTeams sets the team count.
func UpdateTotalTeams(count int) { global().totalTeams.Set(float64(count)) }

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return globalRegistry.Load()
}
