package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Research run metrics
	ResearchRunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_research_runs_started_total",
			Help: "Total number of top-level research runs started",
		},
	)

	ResearchRunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_research_runs_completed_total",
			Help: "Total number of top-level research runs completed",
		},
		[]string{"status"},
	)

	ResearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_research_duration_seconds",
			Help:    "Top-level research run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// Branch metrics
	BranchesStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_branches_started_total",
			Help: "Total number of research branches dispatched",
		},
	)

	BranchesCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fathom_branches_completed_total",
			Help: "Total number of research branches completed",
		},
		[]string{"status"},
	)

	BranchesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fathom_branches_in_flight",
			Help: "Number of branch executions currently holding a gate slot",
		},
	)

	BranchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_branch_duration_ms",
			Help:    "Branch execution duration in milliseconds",
			Buckets: []float64{100, 500, 1000, 2000, 5000, 10000, 30000},
		},
	)

	// Planning metrics
	PlansDegraded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_plans_degraded_total",
			Help: "Times the query generator returned fewer sub-queries than requested",
		},
	)

	PlansFailed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_plans_failed_total",
			Help: "Times sub-query planning was unavailable for a subtree",
		},
	)

	// Context pool metrics
	FindingsAppended = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fathom_findings_appended_total",
			Help: "Total finding fragments appended to context pools",
		},
	)

	ContextWordsTrimmed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fathom_context_words_trimmed",
			Help:    "Words dropped from the context pool at final trim",
			Buckets: []float64{0, 100, 500, 1000, 2500, 5000, 10000},
		},
	)
)

// Branch completion status labels.
const (
	StatusOK    = "ok"
	StatusEmpty = "empty"
	StatusError = "error"
)
