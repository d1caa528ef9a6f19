package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_forge_pipeline_duration_seconds",
			Help:    "SOP generation pipeline duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)

	PipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_pipeline_runs_total",
			Help: "Total pipeline runs",
		},
		[]string{"status"},
	)

	IncidentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_incidents_processed_total",
			Help: "Incidents processed by the pipeline",
		},
		[]string{"outcome"},
	)

	ClustersFound = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_forge_clusters_per_run",
			Help:    "Number of clusters found per pipeline run",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	NoiseFraction = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sop_forge_noise_fraction",
			Help: "Fraction of incidents labeled noise in the last run",
		},
	)

	SOPsGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sop_forge_sops_generated_total",
			Help: "Total SOP documents generated",
		},
	)

	SuggestionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_forge_suggestion_duration_seconds",
			Help:    "Resolution suggestion latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	SuggestionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_suggestions_total",
			Help: "Total resolution suggestions served",
		},
		[]string{"found"},
	)

	SuggestionConfidence = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sop_forge_suggestion_confidence",
			Help:    "Confidence of served suggestions (0-100)",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)

	KnowledgeBaseSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sop_forge_knowledge_base_size",
			Help: "Incidents currently in the retrieval index",
		},
	)

	EmbeddingRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_embedding_requests_total",
			Help: "Embedding API requests",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sop_forge_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(PipelineRuns)
	prometheus.MustRegister(IncidentsProcessed)
	prometheus.MustRegister(ClustersFound)
	prometheus.MustRegister(NoiseFraction)
	prometheus.MustRegister(SOPsGenerated)
	prometheus.MustRegister(SuggestionDuration)
	prometheus.MustRegister(SuggestionTotal)
	prometheus.MustRegister(SuggestionConfidence)
	prometheus.MustRegister(KnowledgeBaseSize)
	prometheus.MustRegister(EmbeddingRequests)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
