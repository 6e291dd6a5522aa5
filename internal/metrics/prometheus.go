package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "risk_engine_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"stage"},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_reports_total",
			Help: "Total number of reports requested",
		},
		[]string{"status"},
	)

	RecordsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "risk_engine_records_processed_total",
			Help: "Total deduplicated records processed",
		},
	)

	BurstsDetected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_engine_bursts_per_report",
			Help:    "Number of burst intervals per report",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	TopicsDetected = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "risk_engine_topics_per_report",
			Help:    "Number of non-noise topics per report",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ThemeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_theme_fallbacks_total",
			Help: "Generated themes replaced by the extracted theme",
		},
		[]string{"reason"},
	)

	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_llm_requests_total",
			Help: "Total LLM API requests",
		},
		[]string{"kind", "status"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	KGRelationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "risk_engine_kg_relations_written_total",
			Help: "Total relation triplets written to the knowledge graph",
		},
	)

	NewsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_engine_news_fetched_total",
			Help: "Total news results fetched from the search provider",
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more
// than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(PipelineDuration)
		prometheus.MustRegister(ReportsTotal)
		prometheus.MustRegister(RecordsProcessed)
		prometheus.MustRegister(BurstsDetected)
		prometheus.MustRegister(TopicsDetected)
		prometheus.MustRegister(ThemeFallbacks)
		prometheus.MustRegister(LLMRequests)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(KGRelationsTotal)
		prometheus.MustRegister(NewsFetched)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
