package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_pipeline_requests_total",
			Help: "Total number of question pipeline runs by terminal outcome.",
		},
		[]string{"outcome"},
	)
	gateRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_gate_rejections_total",
			Help: "Total number of generated statements rejected by the SQL gate, by rule.",
		},
		[]string{"rule"},
	)
	schemaCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "askdb_schema_cache_lookups_total",
			Help: "Schema cache lookups by result (hit or miss).",
		},
		[]string{"result"},
	)
	schemaFetchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_schema_fetch_failures_total",
			Help: "Total number of failed schema and sample fetches.",
		},
	)
	schemaFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_schema_fetch_duration_seconds",
			Help:    "Latency of schema and sample fetches.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
	)
	generationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_generation_duration_seconds",
			Help:    "Latency of text generator calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)
	executionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "askdb_execution_duration_seconds",
			Help:    "Latency of validated statement execution.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "askdb_rate_limited_total",
			Help: "Total number of requests denied by the rate limiter.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		pipelineRequestsTotal,
		gateRejectionsTotal,
		schemaCacheLookupsTotal,
		schemaFetchFailuresTotal,
		schemaFetchDurationSeconds,
		generationDurationSeconds,
		executionDurationSeconds,
		rateLimitedTotal,
	)
}

func ObservePipelineOutcome(outcome string) {
	pipelineRequestsTotal.WithLabelValues(outcome).Inc()
}

func IncrementGateRejection(rule string) {
	gateRejectionsTotal.WithLabelValues(rule).Inc()
}

func ObserveSchemaCacheLookup(hit bool) {
	if hit {
		schemaCacheLookupsTotal.WithLabelValues("hit").Inc()
		return
	}
	schemaCacheLookupsTotal.WithLabelValues("miss").Inc()
}

func ObserveSchemaFetch(elapsed time.Duration, err error) {
	schemaFetchDurationSeconds.Observe(elapsed.Seconds())
	if err != nil {
		schemaFetchFailuresTotal.Inc()
	}
}

func ObserveGeneration(elapsed time.Duration) {
	generationDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveExecution(elapsed time.Duration) {
	executionDurationSeconds.Observe(elapsed.Seconds())
}

func IncrementRateLimited() {
	rateLimitedTotal.Inc()
}
