package research

import (
	"sync"

	"github.com/fathomlab/fathom/internal/streaming"
)

// ProgressSnapshot is a point-in-time view of exploration state. It is
// process-local, scoped to one top-level research call, and carries no
// persistence across restarts.
type ProgressSnapshot struct {
	CurrentDepth     int    `json:"current_depth"`
	TotalDepth       int    `json:"total_depth"`
	CurrentBreadth   int    `json:"current_breadth"`
	TotalBreadth     int    `json:"total_breadth"`
	CurrentQuery     string `json:"current_query"`
	CompletedQueries int    `json:"completed_queries"`
	TotalQueries     int    `json:"total_queries"`
}

// ProgressTracker maintains the live snapshot for one research run.
// Updates come from the orchestrator; Snapshot may be read at any time from
// any goroutine. TotalQueries is a running estimate, adjusted upward as new
// recursion levels are scheduled, never downward.
type ProgressTracker struct {
	mu     sync.Mutex
	snap   ProgressSnapshot
	taskID string
	events *streaming.Manager
}

// NewProgressTracker creates a tracker for a task. The events manager is
// optional; pass nil to track without emitting.
func NewProgressTracker(taskID string, totalDepth, totalBreadth int, events *streaming.Manager) *ProgressTracker {
	return &ProgressTracker{
		taskID: taskID,
		events: events,
		snap: ProgressSnapshot{
			CurrentDepth:   totalDepth,
			TotalDepth:     totalDepth,
			CurrentBreadth: totalBreadth,
			TotalBreadth:   totalBreadth,
		},
	}
}

// AddPlanned raises the total-queries estimate by n after a level has been
// planned.
func (t *ProgressTracker) AddPlanned(n int) {
	if n <= 0 {
		return
	}
	t.mu.Lock()
	t.snap.TotalQueries += n
	t.mu.Unlock()
}

// OnBranchStart records one branch beginning execution.
func (t *ProgressTracker) OnBranchStart(query string) {
	t.mu.Lock()
	t.snap.CurrentQuery = query
	snap := t.snap
	t.mu.Unlock()
	t.publish(streaming.Event{
		TaskID:    t.taskID,
		Type:      streaming.EventBranchStarted,
		Query:     query,
		Completed: snap.CompletedQueries,
		Total:     snap.TotalQueries,
	})
}

// OnBranchComplete records one branch finishing, whether it succeeded,
// returned nothing, or was skipped on error. CompletedQueries never
// exceeds TotalQueries.
func (t *ProgressTracker) OnBranchComplete() {
	t.mu.Lock()
	if t.snap.CompletedQueries < t.snap.TotalQueries {
		t.snap.CompletedQueries++
	}
	snap := t.snap
	t.mu.Unlock()
	t.publish(streaming.Event{
		TaskID:    t.taskID,
		Type:      streaming.EventBranchCompleted,
		Completed: snap.CompletedQueries,
		Total:     snap.TotalQueries,
	})
}

// OnLevelAdvance records entry into a recursion level.
func (t *ProgressTracker) OnLevelAdvance(newDepth, newBreadth int) {
	t.mu.Lock()
	t.snap.CurrentDepth = newDepth
	t.snap.CurrentBreadth = newBreadth
	t.mu.Unlock()
	t.publish(streaming.Event{
		TaskID:  t.taskID,
		Type:    streaming.EventLevelAdvanced,
		Depth:   newDepth,
		Breadth: newBreadth,
	})
}

// Snapshot returns a copy, never a live reference.
func (t *ProgressTracker) Snapshot() ProgressSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

func (t *ProgressTracker) publish(evt streaming.Event) {
	if t.events == nil {
		return
	}
	t.events.Publish(evt)
}
