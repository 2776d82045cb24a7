// Package metrics defines the Prometheus instrumentation for the asset
// pipeline. All metrics are registered via promauto at package init.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Scanner metrics
var (
	ScanTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_scans_total",
			Help: "Total number of directory scans",
		},
		[]string{"status"},
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_rater_scan_duration_seconds",
			Help:    "Directory scan duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScanPhotosFound = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_rater_scan_photos_found",
			Help:    "Number of photos discovered per scan",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		},
	)

	ScanSkippedEntries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_scan_skipped_entries_total",
			Help: "Directory entries skipped during scans",
		},
		[]string{"reason"},
	)

	WatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_watcher_events_total",
			Help: "Filesystem watcher events by type",
		},
		[]string{"type"},
	)
)

// Thumbnail pipeline metrics
var (
	ThumbnailJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_thumbnail_jobs_total",
			Help: "Thumbnail jobs completed by status",
		},
		[]string{"status"},
	)

	ThumbnailJobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photo_rater_thumbnail_job_duration_seconds",
			Help:    "Thumbnail job duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	ThumbnailQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_thumbnail_queue_depth",
			Help: "Thumbnail jobs currently queued",
		},
	)

	ThumbnailJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_thumbnail_jobs_in_flight",
			Help: "Thumbnail jobs currently executing",
		},
	)

	ThumbnailScheduleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_thumbnail_schedule_total",
			Help: "ScheduleIfStale outcomes",
		},
		[]string{"outcome"},
	)
)

// Transcode cache metrics
var (
	TranscodeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_transcodes_total",
			Help: "Transcode conversions by path and status",
		},
		[]string{"path", "status"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_rater_transcode_duration_seconds",
			Help:    "Transcode conversion duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"path"},
	)

	TranscodeCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_rater_transcode_cache_hits_total",
			Help: "Transcode requests satisfied by a fresh cache entry",
		},
	)

	TranscodeWorkerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_rater_transcode_worker_restarts_total",
			Help: "Times the fallback conversion worker was recreated",
		},
	)
)

// Metadata sync metrics
var (
	MetadataCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_metadata_calls_total",
			Help: "External metadata tool calls by operation and status",
		},
		[]string{"operation", "status"},
	)

	MetadataCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_rater_metadata_call_duration_seconds",
			Help:    "External metadata tool call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 15, 45},
		},
		[]string{"operation"},
	)

	MetadataSyncDisabled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_metadata_sync_disabled",
			Help: "1 when the metadata sync circuit breaker has tripped",
		},
	)

	MetadataSlowDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_metadata_slow_directories",
			Help: "Directories excluded from metadata writes by the slow-volume guard",
		},
	)
)

// Rating store metrics
var (
	StoreQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_store_queries_total",
			Help: "Rating store queries by operation and status",
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_rater_store_query_duration_seconds",
			Help:    "Rating store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)
)

// Event hub metrics
var (
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_events_published_total",
			Help: "Events pushed to listeners by type",
		},
		[]string{"type"},
	)

	EventClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_event_clients",
			Help: "Connected event stream clients",
		},
	)
)

// Memory monitor metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_memory_paused",
			Help: "1 while thumbnail work is paused for memory pressure",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photo_rater_memory_gc_pauses_total",
			Help: "Forced garbage collections triggered by memory pressure",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_http_requests_total",
			Help: "HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photo_rater_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "photo_rater_http_requests_in_flight",
			Help: "HTTP requests currently being served",
		},
	)
)

// Filesystem metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_filesystem_retry_attempts_total",
			Help: "Filesystem operation retries after stale handle errors",
		},
		[]string{"operation"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photo_rater_filesystem_stale_errors_total",
			Help: "NFS stale file handle errors by operation",
		},
		[]string{"operation"},
	)
)
