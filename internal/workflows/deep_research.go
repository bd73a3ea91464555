// Package workflows holds the durable execution surface of the researcher.
// DeepResearchWorkflow mirrors the in-process engine's recursive traversal
// on Temporal primitives: one workflow semaphore bounds branch activities
// across every recursion level, and progress is queryable while the tree
// runs.
package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/fathomlab/fathom/internal/activities"
	"github.com/fathomlab/fathom/internal/research"
	"github.com/fathomlab/fathom/internal/streaming"
)

// ProgressQuery is the query handler name exposing a live progress snapshot.
const ProgressQuery = "research_progress"

// ResearchInput parameterizes one durable research run.
type ResearchInput struct {
	Topic            string `json:"topic"`
	Breadth          int    `json:"breadth"`
	Depth            int    `json:"depth"`
	MaxContextWords  int    `json:"max_context_words"`
	ConcurrencyLimit int    `json:"concurrency_limit"`
}

// ResearchResult is the terminal payload: the trimmed context plus the
// final progress accounting.
type ResearchResult struct {
	TaskID   string                    `json:"task_id"`
	Context  []research.Finding        `json:"context"`
	Progress research.ProgressSnapshot `json:"progress"`
}

// DeepResearchWorkflow plans breadth sub-queries, executes them as
// activities under a shared semaphore, and recurses into follow-up leads
// with halved breadth while depth remains. Branch and planning faults are
// contained: a failed branch is skipped, a failed plan abandons its subtree,
// and the workflow itself completes with whatever context accumulated.
func DeepResearchWorkflow(ctx workflow.Context, input ResearchInput) (ResearchResult, error) {
	if strings.TrimSpace(input.Topic) == "" {
		return ResearchResult{}, fmt.Errorf("topic must be non-empty")
	}
	if input.Breadth <= 0 {
		input.Breadth = research.DefaultBreadth
	}
	if input.Depth < 0 {
		return ResearchResult{}, fmt.Errorf("depth must be >= 0, got %d", input.Depth)
	}
	if input.MaxContextWords <= 0 {
		input.MaxContextWords = research.DefaultMaxContextWords
	}
	if input.ConcurrencyLimit <= 0 {
		input.ConcurrencyLimit = research.DefaultConcurrencyLimit
	}

	logger := workflow.GetLogger(ctx)
	taskID := workflow.GetInfo(ctx).WorkflowExecution.ID

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
		},
	})
	emitCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	st := &researchState{
		taskID:         taskID,
		sem:            workflow.NewSemaphore(ctx, int64(input.ConcurrencyLimit)),
		emitCtx:        emitCtx,
		totalDepth:     input.Depth,
		totalBreadth:   input.Breadth,
		currentDepth:   input.Depth,
		currentBreadth: input.Breadth,
	}

	// Single-threaded workflow execution makes the bare snapshot safe to
	// serve without locking.
	if err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (research.ProgressSnapshot, error) {
		return st.snapshot(), nil
	}); err != nil {
		return ResearchResult{}, fmt.Errorf("register progress query: %w", err)
	}

	logger.Info("deep research started",
		"topic", input.Topic,
		"breadth", input.Breadth,
		"depth", input.Depth,
		"concurrency_limit", input.ConcurrencyLimit,
	)
	st.emit(ctx, streaming.Event{
		TaskID:  taskID,
		Type:    streaming.EventRunStarted,
		Query:   input.Topic,
		Depth:   input.Depth,
		Breadth: input.Breadth,
	})

	exploreLevel(ctx, st, input.Topic, input.Breadth, input.Depth)

	snap := st.snapshot()
	st.emit(ctx, streaming.Event{
		TaskID:    taskID,
		Type:      streaming.EventRunCompleted,
		Completed: snap.CompletedQueries,
		Total:     snap.TotalQueries,
	})
	logger.Info("deep research finished",
		"findings", len(st.findings),
		"completed_queries", snap.CompletedQueries,
		"total_queries", snap.TotalQueries,
	)

	return ResearchResult{
		TaskID:   taskID,
		Context:  research.FIFOTrim(st.findings, input.MaxContextWords),
		Progress: snap,
	}, nil
}

// researchState accumulates the run across recursion levels. Only workflow
// coroutines touch it, which Temporal serializes.
type researchState struct {
	taskID         string
	sem            workflow.Semaphore
	emitCtx        workflow.Context
	findings       []research.Finding
	totalQueries   int
	completed      int
	currentQuery   string
	totalDepth     int
	totalBreadth   int
	currentDepth   int
	currentBreadth int
}

func (st *researchState) snapshot() research.ProgressSnapshot {
	return research.ProgressSnapshot{
		CurrentDepth:     st.currentDepth,
		TotalDepth:       st.totalDepth,
		CurrentBreadth:   st.currentBreadth,
		TotalBreadth:     st.totalBreadth,
		CurrentQuery:     st.currentQuery,
		CompletedQueries: st.completed,
		TotalQueries:     st.totalQueries,
	}
}

// emit publishes a progress event best-effort; delivery failures never
// affect the run.
func (st *researchState) emit(ctx workflow.Context, evt streaming.Event) {
	_ = workflow.ExecuteActivity(st.emitCtx, "EmitResearchUpdate", evt).Get(ctx, nil)
}

// branchOutcome pairs one branch's activity result with its error, carried
// over a workflow channel from the executing coroutine.
type branchOutcome struct {
	SubQuery research.SubQuery
	Output   activities.BranchOutput
	Err      error
}

func exploreLevel(ctx workflow.Context, st *researchState, topic string, breadth, depth int) {
	logger := workflow.GetLogger(ctx)
	st.currentDepth = depth
	st.currentBreadth = breadth
	st.emit(ctx, streaming.Event{
		TaskID:  st.taskID,
		Type:    streaming.EventLevelAdvanced,
		Depth:   depth,
		Breadth: breadth,
	})

	var plan activities.PlanResult
	err := workflow.ExecuteActivity(ctx, "PlanSubQueries", activities.PlanInput{
		TaskID: st.taskID,
		Topic:  topic,
		Count:  breadth,
	}).Get(ctx, &plan)
	if err != nil {
		logger.Warn("abandoning subtree: planning unavailable",
			"depth", depth,
			"error", err,
		)
		st.emit(ctx, streaming.Event{
			TaskID:  st.taskID,
			Type:    streaming.EventSubtreeAbandoned,
			Depth:   depth,
			Message: err.Error(),
		})
		return
	}
	if len(plan.SubQueries) == 0 {
		return
	}
	if plan.Degraded {
		st.emit(ctx, streaming.Event{
			TaskID:  st.taskID,
			Type:    streaming.EventPlanDegraded,
			Depth:   depth,
			Breadth: breadth,
			Total:   len(plan.SubQueries),
		})
	}
	st.totalQueries += len(plan.SubQueries)

	resultChan := workflow.NewChannel(ctx)
	for _, sq := range plan.SubQueries {
		sq := sq
		workflow.Go(ctx, func(gctx workflow.Context) {
			if err := st.sem.Acquire(gctx, 1); err != nil {
				resultChan.Send(gctx, branchOutcome{SubQuery: sq, Err: err})
				return
			}
			st.currentQuery = sq.Query
			st.emit(gctx, streaming.Event{
				TaskID: st.taskID,
				Type:   streaming.EventBranchStarted,
				Query:  sq.Query,
				Depth:  depth,
			})

			var out activities.BranchOutput
			err := workflow.ExecuteActivity(gctx, "ExecuteBranch", activities.BranchInput{
				TaskID:   st.taskID,
				Depth:    depth,
				SubQuery: sq,
			}).Get(gctx, &out)
			st.sem.Release(1)
			resultChan.Send(gctx, branchOutcome{SubQuery: sq, Output: out, Err: err})
		})
	}

	// Level barrier: every dispatched branch is accounted before recursion.
	succeeded := make([]branchOutcome, 0, len(plan.SubQueries))
	for i := 0; i < len(plan.SubQueries); i++ {
		var res branchOutcome
		resultChan.Receive(ctx, &res)
		st.completed++
		st.emit(ctx, streaming.Event{
			TaskID:    st.taskID,
			Type:      streaming.EventBranchCompleted,
			Query:     res.SubQuery.Query,
			Depth:     depth,
			Completed: st.completed,
			Total:     st.totalQueries,
		})
		if res.Err != nil {
			logger.Warn("branch failed, skipping",
				"query", res.SubQuery.Query,
				"error", res.Err,
			)
			continue
		}
		st.findings = append(st.findings, res.Output.Findings...)
		succeeded = append(succeeded, res)
	}

	if depth <= 1 {
		return
	}
	childChan := workflow.NewChannel(ctx)
	children := 0
	for _, res := range succeeded {
		if len(res.Output.FollowUpQuestions) == 0 {
			continue
		}
		next := research.NextTopic(research.BranchResult{
			ResearchGoal:      res.Output.ResearchGoal,
			FollowUpQuestions: res.Output.FollowUpQuestions,
		})
		children++
		workflow.Go(ctx, func(gctx workflow.Context) {
			exploreLevel(gctx, st, next, research.ChildBreadth(breadth), depth-1)
			childChan.Send(gctx, struct{}{})
		})
	}
	for i := 0; i < children; i++ {
		childChan.Receive(ctx, nil)
	}
}
