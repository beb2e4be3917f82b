package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ParsesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_parses_total",
			Help: "Total number of natural-language parse attempts",
		},
		[]string{"path", "outcome"},
	)

	FallbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_parse_fallbacks_total",
			Help: "Total number of parses that fell back to the deterministic path",
		},
	)

	QueriesExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_queries_executed_total",
			Help: "Total number of executed queries",
		},
		[]string{"intent", "data_type", "outcome"},
	)

	QueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inquest_query_duration_seconds",
			Help:    "End-to-end query execution time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"intent"},
	)

	InvestigationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_investigations_total",
			Help: "Total number of incident investigations",
		},
		[]string{"outcome"},
	)

	InvestigationCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inquest_investigation_cache_hits_total",
			Help: "Total number of investigation bundles served from cache",
		},
	)

	BackendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_backend_errors_total",
			Help: "Total number of search backend errors",
		},
		[]string{"operation"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inquest_llm_requests_total",
			Help: "Total number of LLM completion requests",
		},
		[]string{"model", "outcome"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inquest_llm_request_duration_seconds",
			Help:    "LLM completion round-trip time",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)
)
