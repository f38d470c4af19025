// Package metrics exposes Prometheus instrumentation for the ingestion
// pipeline and the search path.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors shared across components.
type Metrics struct {
	registry *prometheus.Registry

	// DegradedEmbeddings counts per-item embedding failures that were
	// substituted with a zero vector instead of failing the batch.
	DegradedEmbeddings *prometheus.CounterVec

	IngestsTotal    *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	VectorsUpserted prometheus.Counter

	SearchesTotal  prometheus.Counter
	SearchDuration prometheus.Histogram
	SearchDropped  *prometheus.CounterVec
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		DegradedEmbeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmind_degraded_embeddings_total",
			Help: "Embedding calls that fell back to a zero vector, by modality.",
		}, []string{"modality"}),
		IngestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmind_ingests_total",
			Help: "Completed per-video ingestions by outcome.",
		}, []string{"outcome"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipmind_ingest_duration_seconds",
			Help:    "Wall-clock duration of a full per-video ingestion.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		VectorsUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmind_vectors_upserted_total",
			Help: "Vectors written to the similarity index.",
		}),
		SearchesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "clipmind_searches_total",
			Help: "Search requests served.",
		}),
		SearchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clipmind_search_duration_seconds",
			Help:    "End-to-end search latency including enrichment.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clipmind_search_candidates_dropped_total",
			Help: "Fused candidates dropped during enrichment, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.DegradedEmbeddings,
		m.IngestsTotal,
		m.IngestDuration,
		m.VectorsUpserted,
		m.SearchesTotal,
		m.SearchDuration,
		m.SearchDropped,
	)

	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
