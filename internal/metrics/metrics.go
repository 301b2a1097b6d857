// Package metrics exposes the Prometheus collectors of the service. The
// collector is a process-wide singleton on its own registry so tests that
// construct many components never register twice.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "folio"

var (
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the application.
type Collector struct {
	registry *prometheus.Registry

	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// graph
	NodesCreated prometheus.Counter
	EdgesCreated prometheus.Counter
	GraphNodes   prometheus.Gauge

	// upstream services
	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	RateLimited      *prometheus.CounterVec

	// generative model usage
	ModelTokens *prometheus.CounterVec

	// caches
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// background work
	EnrichmentSteps *prometheus.CounterVec
	EnrichmentQueue prometheus.Gauge
}

// Default returns the process-wide collector, creating it on first use.
func Default() *Collector {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		NodesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nodes_created_total",
			Help:      "Total number of nodes created",
		}),
		EdgesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edges_created_total",
			Help:      "Total number of edges created",
		}),
		GraphNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Current number of nodes in the graph",
		}),
		UpstreamCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_calls_total",
				Help:      "Calls to upstream services by outcome",
			},
			[]string{"service", "outcome"},
		),
		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upstream_call_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the client-side limiter",
			},
			[]string{"service"},
		),
		ModelTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_tokens_total",
				Help:      "Tokens consumed by the generative model",
			},
			[]string{"direction"},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"cache"},
		),
		EnrichmentSteps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_steps_total",
				Help:      "Enrichment steps by kind and outcome",
			},
			[]string{"step", "outcome"},
		),
		EnrichmentQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enrichment_queue_length",
			Help:      "Node ids waiting for enrichment",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.NodesCreated,
		c.EdgesCreated,
		c.GraphNodes,
		c.UpstreamCalls,
		c.UpstreamDuration,
		c.RateLimited,
		c.ModelTokens,
		c.CacheHits,
		c.CacheMisses,
		c.EnrichmentSteps,
		c.EnrichmentQueue,
	)

	globalCollector = c
	return c
}

// Handler serves the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveUpstream records one upstream call. A nil error counts as "ok".
func ObserveUpstream(service string, start time.Time, err error) {
	c := Default()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.UpstreamCalls.WithLabelValues(service, outcome).Inc()
	c.UpstreamDuration.WithLabelValues(service).Observe(time.Since(start).Seconds())
}

func CacheHit(cache string) {
	Default().CacheHits.WithLabelValues(cache).Inc()
}

func CacheMiss(cache string) {
	Default().CacheMisses.WithLabelValues(cache).Inc()
}

func RateLimited(service string) {
	Default().RateLimited.WithLabelValues(service).Inc()
}

// GraphGrowth records the outcome of one merge.
func GraphGrowth(newNodes, newEdges, total int) {
	c := Default()
	c.NodesCreated.Add(float64(newNodes))
	c.EdgesCreated.Add(float64(newEdges))
	c.GraphNodes.Set(float64(total))
}

func EnrichmentStep(step, outcome string) {
	Default().EnrichmentSteps.WithLabelValues(step, outcome).Inc()
}

func EnrichmentQueueLength(n int) {
	Default().EnrichmentQueue.Set(float64(n))
}

// ModelUsage adds token counts reported by the model provider.
func ModelUsage(input, output int) {
	c := Default()
	c.ModelTokens.WithLabelValues("input").Add(float64(max(input, 0)))
	c.ModelTokens.WithLabelValues("output").Add(float64(max(output, 0)))
}
