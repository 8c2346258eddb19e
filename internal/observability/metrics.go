package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_http_requests_total",
			Help: "HTTP requests by route pattern and status.",
		},
		[]string{"method", "route", "status"},
	)
	httpLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snowchat_http_request_duration_seconds",
			Help:    "HTTP latency by route pattern.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_turns_total",
			Help: "Total number of chat turns by terminal outcome.",
		},
		[]string{"outcome"},
	)
	turnDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "snowchat_turn_duration_seconds",
			Help:    "End-to-end latency of a chat turn.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)
	selfHealCorrectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snowchat_self_heal_corrections_total",
			Help: "Total number of correction prompts sent after a failed query.",
		},
	)
	guardRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_guard_rejections_total",
			Help: "Total number of statements rejected before execution, by leading keyword.",
		},
		[]string{"keyword"},
	)
	queryCacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_query_cache_lookups_total",
			Help: "Query cache lookups by result.",
		},
		[]string{"result"},
	)
	queryDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snowchat_query_duration_seconds",
			Help:    "Warehouse round-trip latency.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)
	completionDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snowchat_completion_duration_seconds",
			Help:    "Model completion latency by provider.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40},
		},
		[]string{"provider", "status"},
	)
	completionRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snowchat_completion_rate_limit_retries_total",
			Help: "Total number of completion retries after a rate limit response.",
		},
		[]string{"provider"},
	)
	retrievalFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "snowchat_retrieval_failures_total",
			Help: "Total number of schema retrievals that fell back to an empty context.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpLatency,
		turnsTotal,
		turnDurationSeconds,
		selfHealCorrectionsTotal,
		guardRejectionsTotal,
		queryCacheLookupsTotal,
		queryDurationSeconds,
		completionDurationSeconds,
		completionRetriesTotal,
		retrievalFailuresTotal,
	)
}

func ObserveTurn(outcome string, duration time.Duration) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDurationSeconds.Observe(duration.Seconds())
}

func IncSelfHealCorrection() {
	selfHealCorrectionsTotal.Inc()
}

func IncGuardRejection(keyword string) {
	guardRejectionsTotal.WithLabelValues(keyword).Inc()
}

func ObserveCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	queryCacheLookupsTotal.WithLabelValues(result).Inc()
}

func ObserveQuery(duration time.Duration, err error) {
	queryDurationSeconds.WithLabelValues(statusLabel(err)).Observe(duration.Seconds())
}

func ObserveCompletion(provider string, duration time.Duration, err error) {
	completionDurationSeconds.WithLabelValues(provider, statusLabel(err)).Observe(duration.Seconds())
}

func IncCompletionRetry(provider string) {
	completionRetriesTotal.WithLabelValues(provider).Inc()
}

func IncRetrievalFailure() {
	retrievalFailuresTotal.Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
