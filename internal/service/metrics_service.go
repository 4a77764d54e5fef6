package service

import (
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweep outcomes used as the result label of archive_sweeps_total.
const (
	SweepResultSuccess = "success"
	SweepResultFailure = "failure"
)

// MetricsService encapsulates Prometheus instrumentation for the API and background workers.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter

	changeLogs     *prometheus.CounterVec
	editConflicts  prometheus.Counter
	sweeps         *prometheus.CounterVec
	sweepDuration  prometheus.Observer
	marksCreated   prometheus.Counter
	blobRetries    prometheus.Counter
	blobDeadLetter prometheus.Counter

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	changeLogs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_changelog_appended_total",
		Help: "ChangeLog entries appended, by operation",
	}, []string{"kind"})

	editConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "report_edit_conflicts_total",
		Help: "Report edits rejected because the version token was stale",
	})

	sweeps := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "archive_sweeps_total",
		Help: "Archival sweep passes, by result",
	}, []string{"result"})

	sweepDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "archive_sweep_duration_seconds",
		Help:    "Duration of archival sweep passes",
		Buckets: prometheus.DefBuckets,
	})

	marksCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "archive_marks_created_total",
		Help: "Archive marks inserted by the sweeper",
	})

	blobRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blob_cleanup_retries_total",
		Help: "Blob deletions handed to the retry queue",
	})

	blobDeadLetter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "blob_cleanup_abandoned_total",
		Help: "Blob deletions that exhausted their retries",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		changeLogs, editConflicts, sweeps, sweepDuration, marksCreated,
		blobRetries, blobDeadLetter, goroutines,
	)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		changeLogs:      changeLogs,
		editConflicts:   editConflicts,
		sweeps:          sweeps,
		sweepDuration:   sweepDuration,
		marksCreated:    marksCreated,
		blobRetries:     blobRetries,
		blobDeadLetter:  blobDeadLetter,
	}
}

// Registry exposes the underlying registry for tests and extra collectors.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := strconv.Itoa(status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordChangeLog counts an appended history entry. kind is create, status, message or edit.
func (m *MetricsService) RecordChangeLog(kind string) {
	if m == nil {
		return
	}
	m.changeLogs.WithLabelValues(kind).Inc()
}

// RecordEditConflict counts a rejected optimistic edit.
func (m *MetricsService) RecordEditConflict() {
	if m == nil {
		return
	}
	m.editConflicts.Inc()
}

// RecordSweep records the outcome of one archival pass.
func (m *MetricsService) RecordSweep(result string, duration time.Duration, marks int64) {
	if m == nil {
		return
	}
	m.sweeps.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(duration.Seconds())
	if marks > 0 {
		m.marksCreated.Add(float64(marks))
	}
}

// RecordBlobRetry counts a blob deletion scheduled for retry.
func (m *MetricsService) RecordBlobRetry() {
	if m == nil {
		return
	}
	m.blobRetries.Inc()
}

// RecordBlobAbandoned counts a blob deletion that ran out of retries.
func (m *MetricsService) RecordBlobAbandoned() {
	if m == nil {
		return
	}
	m.blobDeadLetter.Inc()
}
