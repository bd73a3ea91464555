// Package activities holds the Temporal activity surface of the researcher.
// Activities wrap the same capability interfaces the in-process engine uses,
// so a workflow run and a library run exercise identical planning and search
// behavior.
package activities

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlab/fathom/internal/metrics"
	"github.com/fathomlab/fathom/internal/ratecontrol"
	"github.com/fathomlab/fathom/internal/research"
	"github.com/fathomlab/fathom/internal/streaming"
)

// Activities carries injected dependencies for all activity methods. No
// globals: the worker builds one instance at startup and registers it.
type Activities struct {
	generator research.QueryGenerator
	searcher  research.SearchProvider
	limits    *ratecontrol.Registry
	provider  string
	events    *streaming.Manager
	logger    *zap.Logger
}

// Options configures an Activities instance.
type Options struct {
	Generator research.QueryGenerator
	Searcher  research.SearchProvider
	// RateLimits throttles search calls per provider; optional.
	RateLimits *ratecontrol.Registry
	// ProviderName labels the search backend for rate-limit resolution.
	ProviderName string
	// Events receives progress events published by EmitResearchUpdate.
	Events *streaming.Manager
	Logger *zap.Logger
}

// New builds the activity set.
func New(opts Options) *Activities {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{
		generator: opts.Generator,
		searcher:  opts.Searcher,
		limits:    opts.RateLimits,
		provider:  opts.ProviderName,
		events:    opts.Events,
		logger:    logger,
	}
}

// PlanInput asks for up to Count sub-queries on Topic.
type PlanInput struct {
	TaskID string `json:"task_id"`
	Topic  string `json:"topic"`
	Count  int    `json:"count"`
}

// PlanResult carries the planned sub-queries. Degraded marks under-delivery.
type PlanResult struct {
	SubQueries []research.SubQuery `json:"subqueries"`
	Degraded   bool                `json:"degraded"`
}

// PlanSubQueries runs the query planner once. Failures map to
// ErrPlanningUnavailable so the workflow can abandon the subtree after
// retries are exhausted.
func (a *Activities) PlanSubQueries(ctx context.Context, in PlanInput) (*PlanResult, error) {
	logger := a.logger.With(zap.String("task_id", in.TaskID))
	planner := research.NewQueryPlanner(a.generator, logger)
	subs, err := planner.Plan(ctx, in.Topic, in.Count)
	if err != nil {
		return nil, err
	}
	return &PlanResult{
		SubQueries: subs,
		Degraded:   len(subs) < in.Count,
	}, nil
}

// BranchInput identifies one sub-query execution.
type BranchInput struct {
	TaskID   string            `json:"task_id"`
	Depth    int               `json:"depth"`
	SubQuery research.SubQuery `json:"sub_query"`
}

// BranchOutput is the serializable branch result handed back to the
// workflow for aggregation there.
type BranchOutput struct {
	Findings          []research.Finding `json:"findings"`
	FollowUpQuestions []string           `json:"follow_up_questions,omitempty"`
	ResearchGoal      string             `json:"research_goal"`
}

// ExecuteBranch runs one search under the per-provider rate limit. The
// workflow, not the activity, owns aggregation: findings travel back in the
// result payload.
func (a *Activities) ExecuteBranch(ctx context.Context, in BranchInput) (*BranchOutput, error) {
	logger := a.logger.With(
		zap.String("task_id", in.TaskID),
		zap.String("query", in.SubQuery.Query),
		zap.Int("depth", in.Depth),
	)

	if a.limits != nil {
		if err := a.limits.Wait(ctx, a.provider); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	out, err := a.searcher.Search(ctx, in.SubQuery.Query)
	metrics.BranchDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.BranchesCompleted.WithLabelValues(metrics.StatusError).Inc()
		return nil, err
	}

	status := metrics.StatusOK
	if len(out.Findings) == 0 {
		status = metrics.StatusEmpty
		logger.Debug("branch produced no findings")
	}
	metrics.BranchesCompleted.WithLabelValues(status).Inc()

	return &BranchOutput{
		Findings:          out.Findings,
		FollowUpQuestions: out.FollowUpQuestions,
		ResearchGoal:      in.SubQuery.Goal,
	}, nil
}

// EmitResearchUpdate publishes one progress event to subscribers. Best
// effort by design; the workflow invokes it with a single-attempt policy.
func (a *Activities) EmitResearchUpdate(ctx context.Context, evt streaming.Event) error {
	if a.events == nil {
		return nil
	}
	a.events.Publish(evt)
	return nil
}
