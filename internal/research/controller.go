package research

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fathomlab/fathom/internal/metrics"
	"github.com/fathomlab/fathom/internal/ratecontrol"
	"github.com/fathomlab/fathom/internal/streaming"
)

// Defaults applied when Params leave a knob unset.
const (
	DefaultBreadth         = 4
	DefaultDepth           = 2
	DefaultMaxContextWords = 2500
)

// EngineOptions wires an Engine's collaborators. Generator and Searcher are
// required; everything else degrades gracefully when absent.
type EngineOptions struct {
	Generator QueryGenerator
	Searcher  SearchProvider
	// ConcurrencyLimit caps simultaneous branch executions across the whole
	// tree. Non-positive values select DefaultConcurrencyLimit.
	ConcurrencyLimit int
	// RateLimits throttles calls to the search provider; optional.
	RateLimits *ratecontrol.Registry
	// ProviderName identifies the search backend for rate-limit resolution.
	ProviderName string
	// Events receives progress events; optional.
	Events *streaming.Manager
	// TrimPolicy overrides FIFO truncation of the final context view.
	TrimPolicy TrimPolicy
	Logger     *zap.Logger
}

// Engine runs recursive research trees. It is safe for concurrent use:
// every Run gets its own context pool and progress tracker, while all runs
// share the single concurrency gate.
type Engine struct {
	gen      QueryGenerator
	search   SearchProvider
	gate     *Gate
	limits   *ratecontrol.Registry
	provider string
	events   *streaming.Manager
	trim     TrimPolicy
	logger   *zap.Logger
}

// NewEngine builds an engine from options.
func NewEngine(opts EngineOptions) (*Engine, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("research: query generator is required")
	}
	if opts.Searcher == nil {
		return nil, fmt.Errorf("research: search provider is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		gen:      opts.Generator,
		search:   opts.Searcher,
		gate:     NewGate(opts.ConcurrencyLimit),
		limits:   opts.RateLimits,
		provider: opts.ProviderName,
		events:   opts.Events,
		trim:     opts.TrimPolicy,
		logger:   logger,
	}, nil
}

// Gate exposes the engine's admission gate, mainly for tests and metrics.
func (e *Engine) Gate() *Gate { return e.gate }

// Run executes one top-level research call: plan breadth sub-queries,
// explore each under the gate, recurse into follow-up leads with halved
// breadth while depth remains, then trim the accumulated context for the
// downstream synthesizer.
//
// Cancellation is cooperative: a cancelled context stops the traversal at
// the next suspension point and Run still returns the partial context and
// progress, with a nil error. Errors are returned only for invalid
// parameters.
func (e *Engine) Run(ctx context.Context, p Params) (Result, error) {
	if strings.TrimSpace(p.Topic) == "" {
		return Result{}, fmt.Errorf("research: topic must be non-empty")
	}
	if p.Breadth < 1 {
		return Result{}, fmt.Errorf("research: breadth must be >= 1, got %d", p.Breadth)
	}
	if p.Depth < 0 {
		return Result{}, fmt.Errorf("research: depth must be >= 0, got %d", p.Depth)
	}
	maxWords := p.MaxContextWords
	if maxWords <= 0 {
		maxWords = DefaultMaxContextWords
	}

	taskID := uuid.NewString()
	logger := e.logger.With(zap.String("task_id", taskID))
	pool := NewContextPool(e.trim)
	progress := NewProgressTracker(taskID, p.Depth, p.Breadth, e.events)
	r := &run{
		eng:      e,
		taskID:   taskID,
		pool:     pool,
		progress: progress,
		planner:  NewQueryPlanner(e.gen, logger),
		executor: NewBranchExecutor(e.search, pool, e.limits, e.provider, logger),
		logger:   logger,
	}

	metrics.ResearchRunsStarted.Inc()
	start := time.Now()
	r.publish(streaming.Event{TaskID: taskID, Type: streaming.EventRunStarted, Query: p.Topic, Depth: p.Depth, Breadth: p.Breadth})
	logger.Info("research run started",
		zap.String("topic", truncate(p.Topic, 120)),
		zap.Int("breadth", p.Breadth),
		zap.Int("depth", p.Depth),
		zap.Int("max_context_words", maxWords),
	)

	r.explore(ctx, p.Topic, p.Breadth, p.Depth)

	status := "ok"
	if ctx.Err() != nil {
		status = "cancelled"
	}
	metrics.ResearchRunsCompleted.WithLabelValues(status).Inc()
	metrics.ResearchDuration.Observe(time.Since(start).Seconds())

	snap := progress.Snapshot()
	r.publish(streaming.Event{TaskID: taskID, Type: streaming.EventRunCompleted, Completed: snap.CompletedQueries, Total: snap.TotalQueries})
	logger.Info("research run finished",
		zap.String("status", status),
		zap.Int("findings", pool.Len()),
		zap.Int("completed_queries", snap.CompletedQueries),
		zap.Int("total_queries", snap.TotalQueries),
	)

	return Result{
		TaskID:   taskID,
		Context:  pool.Trim(maxWords),
		Progress: snap,
	}, nil
}

// run carries the per-call shared handles down through every recursive
// invocation, keeping concurrent top-level calls fully isolated.
type run struct {
	eng      *Engine
	taskID   string
	pool     *ContextPool
	progress *ProgressTracker
	planner  *QueryPlanner
	executor *BranchExecutor
	logger   *zap.Logger
}

func (r *run) publish(evt streaming.Event) {
	if r.eng.events == nil {
		return
	}
	r.eng.events.Publish(evt)
}

// explore runs one recursion level: plan, dispatch under the gate, wait for
// the level barrier, then recurse into follow-up leads while depth > 1.
// It returns the subtree's successful branch results merged upward.
//
// Fault containment is the central contract here: planning failure ends
// this subtree only, and a branch fault is a logged skip that leaves
// siblings untouched.
func (r *run) explore(ctx context.Context, topic string, breadth, depth int) []BranchResult {
	if ctx.Err() != nil {
		return nil
	}
	r.progress.OnLevelAdvance(depth, breadth)

	subs, err := r.planner.Plan(ctx, topic, breadth)
	if err != nil {
		r.logger.Warn("abandoning subtree: planning unavailable",
			zap.Int("depth", depth),
			zap.Error(err),
		)
		r.publish(streaming.Event{TaskID: r.taskID, Type: streaming.EventSubtreeAbandoned, Depth: depth, Message: err.Error()})
		return nil
	}
	if len(subs) == 0 {
		return nil
	}
	r.progress.AddPlanned(len(subs))

	results := make([]BranchResult, len(subs))
	succeeded := make([]bool, len(subs))
	var wg sync.WaitGroup
	for i, sq := range subs {
		wg.Add(1)
		metrics.BranchesStarted.Inc()
		go func(i int, sq SubQuery) {
			defer wg.Done()
			if err := r.eng.gate.Acquire(ctx); err != nil {
				// Cancelled while queued; account the branch so totals
				// still reconcile in the final snapshot.
				r.progress.OnBranchComplete()
				return
			}
			defer r.eng.gate.Release()
			metrics.BranchesInFlight.Inc()
			defer metrics.BranchesInFlight.Dec()

			r.progress.OnBranchStart(sq.Query)
			res, err := r.executor.Execute(ctx, depth, sq)
			r.progress.OnBranchComplete()
			if err != nil {
				r.logger.Warn("branch failed, skipping",
					zap.String("query", sq.Query),
					zap.Error(err),
				)
				return
			}
			results[i] = res
			succeeded[i] = true
		}(i, sq)
	}
	wg.Wait()

	collected := make([]BranchResult, 0, len(subs))
	for i := range results {
		if succeeded[i] {
			collected = append(collected, results[i])
		}
	}

	// Recursion is issued only while more than one level of depth remains;
	// a level at depth 1 produces leaf results. Child subtrees run
	// concurrently with each other and draw from the same gate.
	if depth > 1 {
		var (
			mu       sync.Mutex
			childAll []BranchResult
			cwg      sync.WaitGroup
		)
		for _, br := range collected {
			if len(br.FollowUpQuestions) == 0 {
				continue
			}
			br := br
			cwg.Add(1)
			go func() {
				defer cwg.Done()
				sub := r.explore(ctx, NextTopic(br), ChildBreadth(breadth), depth-1)
				mu.Lock()
				childAll = append(childAll, sub...)
				mu.Unlock()
			}()
		}
		cwg.Wait()
		collected = append(collected, childAll...)
	}

	return collected
}
