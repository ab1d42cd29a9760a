package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationGet records cache lookups.
	CacheOperationGet CacheOperation = "get"
	// CacheOperationSet records cache writes.
	CacheOperationSet CacheOperation = "set"
)

// Recorder publishes Prometheus metrics for gateway activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	proxyRequests *prometheus.CounterVec
	proxyLatency  *prometheus.HistogramVec
	blocks        *prometheus.CounterVec

	aggRequests *prometheus.CounterVec
	aggLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	proxyRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegisgate",
		Subsystem: "proxy",
		Name:      "requests_total",
		Help:      "Total proxied requests processed by the inspection pipeline.",
	}, []string{"decision", "status_code"})

	proxyLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aegisgate",
		Subsystem: "proxy",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed proxied requests.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"decision"})

	blocks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegisgate",
		Subsystem: "pipeline",
		Name:      "blocks_total",
		Help:      "Requests rejected by an inspector, labeled by its name.",
	}, []string{"inspector"})

	aggRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegisgate",
		Subsystem: "aggregation",
		Name:      "requests_total",
		Help:      "Aggregation endpoint requests served.",
	}, []string{"endpoint", "status_code", "from_cache"})

	aggLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "aegisgate",
		Subsystem: "aggregation",
		Name:      "fanout_duration_seconds",
		Help:      "Latency distribution for aggregation fan-outs.",
		Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aegisgate",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations executed by the gateway.",
	}, []string{"operation", "result"})

	reg.MustRegister(proxyRequests, proxyLatency, blocks, aggRequests, aggLatency, cacheOperations)

	return &Recorder{
		gatherer:        reg,
		handler:         promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		proxyRequests:   proxyRequests,
		proxyLatency:    proxyLatency,
		blocks:          blocks,
		aggRequests:     aggRequests,
		aggLatency:      aggLatency,
		cacheOperations: cacheOperations,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveProxy records the outcome and latency of one proxied request.
func (r *Recorder) ObserveProxy(decision string, statusCode int, duration time.Duration) {
	if r == nil {
		return
	}
	d := normalizeLabel(decision)
	r.proxyRequests.WithLabelValues(d, statusLabel(statusCode)).Inc()
	r.proxyLatency.WithLabelValues(d).Observe(duration.Seconds())
}

// ObserveBlock counts a rejection attributed to the named inspector.
func (r *Recorder) ObserveBlock(inspector string) {
	if r == nil {
		return
	}
	r.blocks.WithLabelValues(normalizeLabel(inspector)).Inc()
}

// ObserveAggregation records one aggregation request.
func (r *Recorder) ObserveAggregation(endpoint string, statusCode int, fromCache bool, duration time.Duration) {
	if r == nil {
		return
	}
	cacheLabel := "false"
	if fromCache {
		cacheLabel = "true"
	}
	e := normalizeLabel(endpoint)
	r.aggRequests.WithLabelValues(e, statusLabel(statusCode), cacheLabel).Inc()
	r.aggLatency.WithLabelValues(e).Observe(duration.Seconds())
}

// ObserveCache records the result of a cache operation.
func (r *Recorder) ObserveCache(op CacheOperation, result string) {
	if r == nil {
		return
	}
	r.cacheOperations.WithLabelValues(string(op), normalizeLabel(result)).Inc()
}

func statusLabel(code int) string {
	if code <= 0 {
		return "unknown"
	}
	return strconv.Itoa(code)
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
