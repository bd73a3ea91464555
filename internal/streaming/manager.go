package streaming

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted during a research run.
const (
	EventRunStarted      = "run_started"
	EventRunCompleted    = "run_completed"
	EventLevelAdvanced   = "level_advanced"
	EventBranchStarted   = "branch_started"
	EventBranchCompleted = "branch_completed"
	EventPlanDegraded    = "plan_degraded"
	EventSubtreeAbandoned = "subtree_abandoned"
)

// Event is a progress event for one research task.
type Event struct {
	TaskID    string    `json:"task_id"`
	Type      string    `json:"type"`
	Query     string    `json:"query,omitempty"`
	Depth     int       `json:"depth,omitempty"`
	Breadth   int       `json:"breadth,omitempty"`
	Completed int       `json:"completed,omitempty"`
	Total     int       `json:"total,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns the event as JSON for SSE payloads or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives every published event in addition to in-process
// subscribers. Used to mirror progress into Redis Streams for
// out-of-process observers.
type Sink interface {
	Publish(ctx context.Context, evt Event) error
}

// Manager provides in-memory pub/sub for research progress events with a
// per-task replay ring. One Manager is scoped to a process; each research
// task gets its own subscriber set and history.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
	sink        Sink
	logger      *zap.Logger
}

// NewManager creates a manager with the given replay ring capacity per task.
func NewManager(capacity int, logger *zap.Logger) *Manager {
	if capacity <= 0 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
		logger:      logger,
	}
}

// SetSink attaches an external event sink. Sink failures are logged and
// never block or fail publishing.
func (m *Manager) SetSink(sink Sink) {
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
}

// Subscribe adds a subscriber channel for a taskID; the caller must drain
// it and call Unsubscribe when done.
func (m *Manager) Subscribe(taskID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[taskID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[taskID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (m *Manager) Unsubscribe(taskID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if subs, ok := m.subscribers[taskID]; ok {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			close(ch)
		}
		if len(subs) == 0 {
			delete(m.subscribers, taskID)
		}
	}
}

// Publish assigns a sequence number, records the event in the replay ring,
// and fans it out to subscribers without blocking. Slow subscribers drop.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.mu.Lock()
	rg := m.history[evt.TaskID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.TaskID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	subs := m.subscribers[evt.TaskID]
	sink := m.sink
	m.mu.Unlock()

	for ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}

	if sink != nil {
		if err := sink.Publish(context.Background(), evt); err != nil {
			m.logger.Warn("event sink publish failed",
				zap.String("task_id", evt.TaskID),
				zap.String("type", evt.Type),
				zap.Error(err),
			)
		}
	}
}

// ReplaySince returns events with Seq > since, best-effort within the ring
// capacity.
func (m *Manager) ReplaySince(taskID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[taskID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
