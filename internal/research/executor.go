package research

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlab/fathom/internal/metrics"
	"github.com/fathomlab/fathom/internal/ratecontrol"
	"github.com/fathomlab/fathom/internal/tracing"
)

// BranchExecutor runs one sub-query against the search capability and
// feeds findings into the shared pool the moment they are available, so
// partial progress survives failures elsewhere in the tree.
type BranchExecutor struct {
	search   SearchProvider
	pool     *ContextPool
	limits   *ratecontrol.Registry
	provider string
	logger   *zap.Logger
}

// NewBranchExecutor creates an executor. The rate-limit registry is
// optional; provider names the search backend for limit resolution.
func NewBranchExecutor(search SearchProvider, pool *ContextPool, limits *ratecontrol.Registry, provider string, logger *zap.Logger) *BranchExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BranchExecutor{
		search:   search,
		pool:     pool,
		limits:   limits,
		provider: provider,
		logger:   logger,
	}
}

// Execute runs the search-and-summarize step for one sub-query. Zero
// results produce an empty-findings success: absence of information is not
// an error. Hard faults come back as *BranchExecutionError for the caller
// to skip.
func (e *BranchExecutor) Execute(ctx context.Context, depth int, sq SubQuery) (BranchResult, error) {
	ctx, span := tracing.StartBranchSpan(ctx, sq.Query, depth)
	defer span.End()

	if e.limits != nil {
		if err := e.limits.Wait(ctx, e.provider); err != nil {
			return BranchResult{}, &BranchExecutionError{Query: sq.Query, Err: err}
		}
	}

	start := time.Now()
	out, err := e.search.Search(ctx, sq.Query)
	metrics.BranchDuration.Observe(float64(time.Since(start).Milliseconds()))
	if err != nil {
		metrics.BranchesCompleted.WithLabelValues(metrics.StatusError).Inc()
		return BranchResult{}, &BranchExecutionError{Query: sq.Query, Err: err}
	}

	if len(out.Findings) > 0 {
		e.pool.Append(out.Findings...)
		metrics.BranchesCompleted.WithLabelValues(metrics.StatusOK).Inc()
	} else {
		metrics.BranchesCompleted.WithLabelValues(metrics.StatusEmpty).Inc()
		e.logger.Debug("branch returned no findings",
			zap.String("query", sq.Query),
		)
	}

	return BranchResult{
		SubQuery:          sq,
		Findings:          out.Findings,
		FollowUpQuestions: dedupeQuestions(out.FollowUpQuestions),
		ResearchGoal:      sq.Goal,
	}, nil
}
