// Package obs holds the observability surface: Prometheus counters and
// per-stage latency histograms, exposed on /metrics.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stage label values for the latency histogram.
const (
	StageNormalize = "normalize"
	StageIndex     = "index"
	StageGraph     = "graph"
	StageRetrieve  = "retrieve"
	StageRerank    = "rerank"
	StageGenerate  = "generate"
)

// Metrics is the process-wide metric set. Construct once at boot and pass by
// reference.
type Metrics struct {
	registry *prometheus.Registry

	DocumentsIngested *prometheus.CounterVec // tenant
	ChunksIndexed     prometheus.Counter
	ChunksDeleted     prometheus.Counter
	GraphConflicts    prometheus.Counter
	DeadLetters       *prometheus.CounterVec // tool
	Retries           *prometheus.CounterVec // tool
	Queries           *prometheus.CounterVec // outcome: answered, refused, error, cancelled
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	StageLatency *prometheus.HistogramVec // stage
}

// New creates and registers the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		DocumentsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corral_documents_ingested_total",
			Help: "Documents normalized and enqueued for indexing.",
		}, []string{"tenant"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corral_chunks_indexed_total",
			Help: "Chunks upserted into the vector store and text index.",
		}),
		ChunksDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corral_chunks_deleted_total",
			Help: "Stale chunks removed during delta re-indexing.",
		}),
		GraphConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corral_graph_conflicts_total",
			Help: "Temporal edge conflicts resolved by truncation, clipping, or drop.",
		}),
		DeadLetters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corral_dead_letters_total",
			Help: "Messages dead-lettered after retry exhaustion.",
		}, []string{"tool"}),
		Retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corral_ingestion_retries_total",
			Help: "Retried tool invocations during ingestion.",
		}, []string{"tool"}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "corral_queries_total",
			Help: "Query requests by outcome.",
		}, []string{"outcome"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corral_rerank_cache_hits_total",
			Help: "Reranker cache hits.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "corral_rerank_cache_misses_total",
			Help: "Reranker cache misses.",
		}),
		StageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "corral_stage_duration_seconds",
			Help:    "Latency per pipeline stage.",
			Buckets: prometheus.DefBuckets,
		}, []string{"stage"}),
	}

	reg.MustRegister(
		m.DocumentsIngested, m.ChunksIndexed, m.ChunksDeleted, m.GraphConflicts,
		m.DeadLetters, m.Retries, m.Queries, m.CacheHits, m.CacheMisses,
		m.StageLatency,
	)
	return m
}

// Observe records the elapsed time since start for a stage.
func (m *Metrics) Observe(stage string, start time.Time) {
	m.StageLatency.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
