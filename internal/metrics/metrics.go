// Package metrics provides the Prometheus collectors exported by zake.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds an isolated registry and the collectors zake records into.
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	tasksInFlight     *prometheus.GaugeVec
	taskAttempts      *prometheus.CounterVec
	taskFailures      *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	cacheWriteErrors  prometheus.Counter
	inferenceDuration *prometheus.HistogramVec
	batchSize         prometheus.Histogram
}

// New creates a registry wrapped with a constant service label and registers
// the zake collectors. Go and process collectors are added when
// enableDefaultCollectors is true.
func New(serviceName string, enableDefaultCollectors bool) *Metrics {
	registry := prometheus.NewRegistry()
	wrapped := prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, registry)

	m := &Metrics{
		Registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zake_http_requests_total",
			Help: "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zake_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		tasksInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zake_executor_tasks_in_flight",
			Help: "Tasks currently holding an executor slot",
		}, []string{"executor"}),
		taskAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zake_executor_task_attempts_total",
			Help: "Total task attempts including retries",
		}, []string{"executor"}),
		taskFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zake_executor_task_failures_total",
			Help: "Tasks that failed after exhausting retries",
		}, []string{"executor"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "zake_cache_lookups_total",
			Help: "Embedding cache lookups by result",
		}, []string{"result"}),
		cacheWriteErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "zake_cache_write_errors_total",
			Help: "Embedding cache entries that could not be written",
		}),
		inferenceDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zake_inference_duration_seconds",
			Help:    "Duration of a single inference engine call",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),
		batchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "zake_inference_batch_size",
			Help:    "Number of texts per inference batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}

	wrapped.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.tasksInFlight,
		m.taskAttempts,
		m.taskFailures,
		m.cacheLookups,
		m.cacheWriteErrors,
		m.inferenceDuration,
		m.batchSize,
	)

	if enableDefaultCollectors {
		wrapped.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, code string, start time.Time) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(route, code).Inc()
	m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

// TaskStarted marks a task as holding an executor slot.
func (m *Metrics) TaskStarted(executor string) {
	if m == nil {
		return
	}
	m.tasksInFlight.WithLabelValues(executor).Inc()
}

// TaskFinished releases the in-flight mark set by TaskStarted.
func (m *Metrics) TaskFinished(executor string) {
	if m == nil {
		return
	}
	m.tasksInFlight.WithLabelValues(executor).Dec()
}

// TaskAttempt counts one attempt of a task.
func (m *Metrics) TaskAttempt(executor string) {
	if m == nil {
		return
	}
	m.taskAttempts.WithLabelValues(executor).Inc()
}

// TaskFailed counts a task that exhausted its retries.
func (m *Metrics) TaskFailed(executor string) {
	if m == nil {
		return
	}
	m.taskFailures.WithLabelValues(executor).Inc()
}

// CacheLookups records hit and miss counts of one batched lookup.
func (m *Metrics) CacheLookups(hits, misses int) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues("hit").Add(float64(hits))
	m.cacheLookups.WithLabelValues("miss").Add(float64(misses))
}

// CacheWriteErrors counts entries that failed to persist.
func (m *Metrics) CacheWriteErrors(n int) {
	if m == nil {
		return
	}
	m.cacheWriteErrors.Add(float64(n))
}

// ObserveInference records one engine call for model with the given batch size.
func (m *Metrics) ObserveInference(model string, size int, start time.Time) {
	if m == nil {
		return
	}
	m.inferenceDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	m.batchSize.Observe(float64(size))
}
