package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_duration_seconds",
			Help:    "End-to-end research run duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_run_iterations",
			Help:    "Execution rounds per research run",
			Buckets: []float64{1, 2, 3, 4, 5, 6},
		},
	)

	Degradations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_degradations_total",
			Help: "Fallbacks taken during research runs",
		},
		[]string{"kind"},
	)

	// Subagent metrics
	SubagentExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_subagent_executions_total",
			Help: "Subagent executions by outcome",
		},
		[]string{"status"},
	)

	SubagentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_subagent_duration_seconds",
			Help:    "Subagent execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	EvidenceProcessed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_subagent_evidence_items",
			Help:    "Processed evidence items per subagent execution",
			Buckets: []float64{0, 1, 2, 5, 10},
		},
	)

	// External capability metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_completion_requests_total",
			Help: "Completion requests by status",
		},
		[]string{"status"},
	)

	CompletionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_completion_latency_seconds",
			Help:    "Completion request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	SearchRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_search_requests_total",
			Help: "Search requests by provider and status",
		},
		[]string{"provider", "status"},
	)

	SearchCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_search_cache_hits_total",
			Help: "Search cache hits by layer",
		},
		[]string{"layer"},
	)

	SearchCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "research_search_cache_misses_total",
			Help: "Search cache misses",
		},
	)

	// Citation metrics
	CitationsPlaced = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_citations_placed",
			Help:    "Citations placed per report",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		},
	)

	ReportsPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_reports_persisted_total",
			Help: "Report persistence attempts by backend and status",
		},
		[]string{"backend", "status"},
	)
)
