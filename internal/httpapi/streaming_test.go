package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fathomlab/fathom/internal/streaming"
)

func TestHandleSSERequiresTaskID(t *testing.T) {
	h := NewStreamingHandler(streaming.NewManager(16, zaptest.NewLogger(t)), zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.handleSSE(rec, httptest.NewRequest(http.MethodGet, "/stream/sse", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSSEReplaysAndStreams(t *testing.T) {
	mgr := streaming.NewManager(16, zaptest.NewLogger(t))
	h := NewStreamingHandler(mgr, zaptest.NewLogger(t))

	// Backlog written before the client connects.
	mgr.Publish(streaming.Event{TaskID: "t1", Type: streaming.EventRunStarted, Query: "topic"})
	mgr.Publish(streaming.Event{TaskID: "t1", Type: streaming.EventBranchStarted, Query: "q1"})
	mgr.Publish(streaming.Event{TaskID: "t1", Type: streaming.EventBranchCompleted, Query: "q1"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream/sse?task_id=t1&last_event_id=0", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.handleSSE(rec, req)
	}()

	// Let the subscription register, then push a live event and disconnect.
	time.Sleep(50 * time.Millisecond)
	mgr.Publish(streaming.Event{TaskID: "t1", Type: streaming.EventRunCompleted})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never returned after disconnect")
	}

	body := rec.Body.String()
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, body, ": connected to task t1")
	// Replay skips seq 0 and delivers the rest of the backlog in order.
	assert.NotContains(t, body, "event: run_started")
	assert.Contains(t, body, "event: branch_started")
	assert.Contains(t, body, "event: branch_completed")
	assert.Contains(t, body, "event: run_completed")
	require.True(t, strings.Index(body, "branch_started") < strings.Index(body, "branch_completed"))
}

func TestHandleSSEIgnoresOtherTasks(t *testing.T) {
	mgr := streaming.NewManager(16, zaptest.NewLogger(t))
	h := NewStreamingHandler(mgr, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream/sse?task_id=mine", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.handleSSE(rec, req)
	}()

	time.Sleep(50 * time.Millisecond)
	mgr.Publish(streaming.Event{TaskID: "other", Type: streaming.EventRunStarted})
	mgr.Publish(streaming.Event{TaskID: "mine", Type: streaming.EventBranchStarted, Query: "q"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	assert.Contains(t, body, "event: branch_started")
	assert.NotContains(t, body, "run_started")
}
