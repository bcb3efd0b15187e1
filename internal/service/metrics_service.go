package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/esg-compliance-api/internal/models"
	"github.com/noah-isme/esg-compliance-api/internal/scoring"
)

// Notification outcomes.
const (
	NotificationCreated    = "created"
	NotificationSuppressed = "suppressed"
	NotificationDuplicate  = "duplicate"
	NotificationFailed     = "failed"
	NotificationEmailSent  = "email_sent"
	NotificationEmailError = "email_failed"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheHitRatio   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	scoringRuns     *prometheus.CounterVec
	scoringDuration prometheus.Histogram
	completions     *prometheus.CounterVec
	completionTime  *prometheus.HistogramVec
	formatFailures  *prometheus.CounterVec
	notifications   *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	scoringOK            uint64
	scoringFailed        uint64
	notificationsCreated uint64
	notificationsFailed  uint64
}

// NewMetricsService registers core Prometheus collectors.
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

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheLookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cache_lookups_total",
		Help: "Cache lookups by result",
	}, []string{"result"})

	scoringRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scoring_runs_total",
		Help: "Scoring runs by outcome",
	}, []string{"outcome"})

	scoringDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scoring_run_duration_seconds",
		Help:    "Wall time of a scoring run across all checklist items",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_completions_total",
		Help: "Completion calls by provider and outcome",
	}, []string{"provider", "outcome"})

	completionTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_completion_duration_seconds",
		Help:    "Latency of completion calls",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	}, []string{"provider"})

	formatFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scoring_format_failures_total",
		Help: "Completions rejected by the extractor",
	}, []string{"domain", "kind"})

	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification dispatch outcomes",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheHitRatio, cacheLookups, scoringRuns, scoringDuration,
		completions, completionTime, formatFailures, notifications, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheHitRatio:   cacheHitRatio,
		cacheLookups:    cacheLookups,
		scoringRuns:     scoringRuns,
		scoringDuration: scoringDuration,
		completions:     completions,
		completionTime:  completionTime,
		formatFailures:  formatFailures,
		notifications:   notifications,
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

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheLookups.WithLabelValues("miss").Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveScoringRun records the outcome of a whole scoring run.
func (m *MetricsService) ObserveScoringRun(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scoringRuns.WithLabelValues(outcome).Inc()
	m.scoringDuration.Observe(duration.Seconds())
	if outcome == "success" {
		atomic.AddUint64(&m.scoringOK, 1)
	} else {
		atomic.AddUint64(&m.scoringFailed, 1)
	}
}

// ObserveCompletion implements scoring.Observer.
func (m *MetricsService) ObserveCompletion(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(provider, outcome).Inc()
	m.completionTime.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveFormatFailure implements scoring.Observer.
func (m *MetricsService) ObserveFormatFailure(domain string, kind scoring.ExtractionKind) {
	if m == nil {
		return
	}
	m.formatFailures.WithLabelValues(domain, string(kind)).Inc()
}

// ObserveNotification counts a dispatch outcome.
func (m *MetricsService) ObserveNotification(outcome string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(outcome).Inc()
	switch outcome {
	case NotificationCreated:
		atomic.AddUint64(&m.notificationsCreated, 1)
	case NotificationFailed:
		atomic.AddUint64(&m.notificationsFailed, 1)
	}
}

// Snapshot returns aggregated metrics suitable for a status endpoint.
func (m *MetricsService) Snapshot() models.SystemMetrics {
	if m == nil {
		return models.SystemMetrics{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)

	var cacheRatio float64
	if total := hits + misses; total > 0 {
		cacheRatio = float64(hits) / float64(total)
	}
	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	return models.SystemMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CacheHitRatio:            cacheRatio,
		CacheHits:                hits,
		CacheMisses:              misses,
		ScoringSucceeded:         atomic.LoadUint64(&m.scoringOK),
		ScoringFailed:            atomic.LoadUint64(&m.scoringFailed),
		NotificationsCreated:     atomic.LoadUint64(&m.notificationsCreated),
		NotificationsFailed:      atomic.LoadUint64(&m.notificationsFailed),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}

var _ scoring.Observer = (*MetricsService)(nil)
