// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AICallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "covenantwatch_ai_call_duration_seconds",
			Help:    "Gemini call duration in seconds, including retries",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	AICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_ai_calls_total",
			Help: "Total Gemini calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	AIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "covenantwatch_ai_retries_total",
			Help: "Total Gemini attempts beyond the first",
		},
	)

	AIFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_ai_fallbacks_total",
			Help: "Total AI operations answered by local heuristics",
		},
		[]string{"operation", "reason"},
	)

	AITokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_ai_tokens_used_total",
			Help: "Total Gemini tokens used",
		},
		[]string{"model", "type"},
	)

	HealthEvaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_health_evaluations_total",
			Help: "Covenant health snapshots computed, by status",
		},
		[]string{"status"},
	)

	AlertsRaised = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_alerts_raised_total",
			Help: "Alerts raised, by severity",
		},
		[]string{"severity"},
	)

	BackendRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_backend_requests_total",
			Help: "Backend REST requests by method and error category",
		},
		[]string{"method", "category"},
	)

	ExtractionJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_extraction_jobs_total",
			Help: "Extraction jobs by terminal status",
		},
		[]string{"status"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	NewsItemsIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "covenantwatch_news_items_total",
			Help: "RSS items scanned, by classification result",
		},
		[]string{"result"},
	)

	WSClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "covenantwatch_ws_clients",
			Help: "Connected websocket clients",
		},
	)
)

var registerOnce sync.Once

// Init registers every collector with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			AICallDuration,
			AICallsTotal,
			AIRetriesTotal,
			AIFallbacksTotal,
			AITokensUsed,
			HealthEvaluations,
			AlertsRaised,
			BackendRequests,
			ExtractionJobs,
			CacheHits,
			CacheMisses,
			NewsItemsIngested,
			WSClients,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
