package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "advisor_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "endpoint"},
	)

	AdviceCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_advice_total",
			Help: "Advisory answers by intent and path",
		},
		[]string{"intent", "path"},
	)

	AdviceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "advisor_advice_duration_seconds",
			Help:    "End-to-end advisory latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
		},
	)

	ProviderAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_provider_attempts_total",
			Help: "Completion attempts by provider, model and result",
		},
		[]string{"provider", "model", "result"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "advisor_provider_latency_seconds",
			Help: "Completion call latency in seconds",
		},
		[]string{"provider"},
	)

	ProviderSuspended = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "advisor_provider_suspended",
			Help: "1 while a provider's circuit is open",
		},
		[]string{"provider"},
	)

	ContingencyCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "advisor_contingency_responses_total",
			Help: "Responses synthesized after every provider failed",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_cache_lookups_total",
			Help: "Response cache lookups by result",
		},
		[]string{"result"},
	)

	SearchStages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_search_stage_total",
			Help: "Web-search cascade outcomes by stage",
		},
		[]string{"stage", "result"},
	)

	GatherStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_userdata_gather_total",
			Help: "User-data snapshots by data status",
		},
		[]string{"status"},
	)

	QuoteFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_quote_fetches_total",
			Help: "Market quote lookups by result",
		},
		[]string{"result"},
	)

	ScheduledJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_scheduled_jobs_total",
			Help: "Scheduled job runs by job and result",
		},
		[]string{"job", "result"},
	)
)
