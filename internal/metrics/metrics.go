// Package metrics exposes Prometheus instrumentation for the clipshare API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clipshare"

// Upload outcomes recorded by ObserveUpload.
const (
	UploadOutcomeAccepted = "accepted"
	UploadOutcomeRejected = "rejected"
	UploadOutcomeFailed   = "failed"
)

// Metrics bundles the collectors used across the service. A nil *Metrics is a valid no-op.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	uploads             *prometheus.CounterVec
	uploadedBytes       prometheus.Counter
	moderationActions   *prometheus.CounterVec
	mediaDeleteFailures prometheus.Counter
}

// New registers the collectors on a fresh registry, including Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(registry)
}

// NewWithRegistry registers the collectors on the provided registry.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: registry,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "total",
			Help:      "Clip uploads by outcome.",
		}, []string{"outcome"}),
		uploadedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uploads",
			Name:      "bytes_total",
			Help:      "Video bytes accepted by the upload pipeline.",
		}),
		moderationActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "moderation",
			Name:      "actions_total",
			Help:      "Committed moderation actions by audit action tag.",
		}, []string{"action"}),
		mediaDeleteFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "media",
			Name:      "delete_failures_total",
			Help:      "Best-effort media deletions that failed and were skipped.",
		}),
	}
	registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.uploads,
		m.uploadedBytes,
		m.moderationActions,
		m.mediaDeleteFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request.Method
		m.httpRequests.WithLabelValues(route, method, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
	}
}

// ObserveUpload records an upload outcome and, for accepted uploads, its size.
func (m *Metrics) ObserveUpload(outcome string, sizeBytes int64) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if outcome == UploadOutcomeAccepted && sizeBytes > 0 {
		m.uploadedBytes.Add(float64(sizeBytes))
	}
}

// ObserveModeration records a committed moderation action.
func (m *Metrics) ObserveModeration(action string) {
	if m == nil {
		return
	}
	m.moderationActions.WithLabelValues(action).Inc()
}

// ObserveMediaDeleteFailure records a skipped media deletion.
func (m *Metrics) ObserveMediaDeleteFailure() {
	if m == nil {
		return
	}
	m.mediaDeleteFailures.Inc()
}
