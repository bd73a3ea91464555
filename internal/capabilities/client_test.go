package capabilities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fathomlab/fathom/internal/config"
)

func TestHTTPPlannerParsesProseWrappedPlan(t *testing.T) {
	var gotTopic string
	var gotCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Topic string `json:"topic"`
			Count int    `json:"count"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotTopic, gotCount = req.Topic, req.Count

		resp := map[string]any{
			"success": true,
			"response": `Here is your plan:
{"subqueries":[
  {"query":"quantum error correction 2026","goal":"state of the art in QEC"},
  {"query":"quantum hardware vendors","goal":"map the vendor landscape"}
]}
Let me know if you need more.`,
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	p, err := NewHTTPPlanner(config.CapabilityConfig{URL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	subs, err := p.GenerateSubQueries(context.Background(), "quantum computing", 2)
	require.NoError(t, err)
	assert.Equal(t, "quantum computing", gotTopic)
	assert.Equal(t, 2, gotCount)
	require.Len(t, subs, 2)
	assert.Equal(t, "quantum error correction 2026", subs[0].Query)
	assert.Equal(t, "map the vendor landscape", subs[1].Goal)
}

func TestHTTPPlannerErrors(t *testing.T) {
	t.Run("service rejection", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "model overloaded"})
		}))
		defer srv.Close()

		p, err := NewHTTPPlanner(config.CapabilityConfig{URL: srv.URL}, nil)
		require.NoError(t, err)
		_, err = p.GenerateSubQueries(context.Background(), "topic", 3)
		assert.ErrorContains(t, err, "model overloaded")
	})

	t.Run("http error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusBadGateway)
		}))
		defer srv.Close()

		p, err := NewHTTPPlanner(config.CapabilityConfig{URL: srv.URL}, nil)
		require.NoError(t, err)
		_, err = p.GenerateSubQueries(context.Background(), "topic", 3)
		assert.ErrorContains(t, err, "HTTP 502")
	})

	t.Run("garbage model output", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"success": true, "response": "no json here at all"})
		}))
		defer srv.Close()

		p, err := NewHTTPPlanner(config.CapabilityConfig{URL: srv.URL}, nil)
		require.NoError(t, err)
		_, err = p.GenerateSubQueries(context.Background(), "topic", 3)
		assert.Error(t, err)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := NewHTTPPlanner(config.CapabilityConfig{}, nil)
		assert.Error(t, err)
	})
}

func TestHTTPSearcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(map[string]any{
			"findings": []map[string]string{
				{"text": "summary for " + req.Query, "source": "https://example.com/a"},
			},
			"follow_up_questions": []string{"what next?"},
		})
	}))
	defer srv.Close()

	s, err := NewHTTPSearcher(config.CapabilityConfig{URL: srv.URL}, zaptest.NewLogger(t))
	require.NoError(t, err)

	out, err := s.Search(context.Background(), "quantum hardware vendors")
	require.NoError(t, err)
	require.Len(t, out.Findings, 1)
	assert.Equal(t, "summary for quantum hardware vendors", out.Findings[0].Text)
	assert.Equal(t, []string{"what next?"}, out.FollowUpQuestions)
}

func TestHTTPSearcherEmptyResultIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"findings": []any{}})
	}))
	defer srv.Close()

	s, err := NewHTTPSearcher(config.CapabilityConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	out, err := s.Search(context.Background(), "obscure topic")
	require.NoError(t, err)
	assert.Empty(t, out.Findings)
}

func TestHTTPSearcherCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	s, err := NewHTTPSearcher(config.CapabilityConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Search(ctx, "anything")
	assert.Error(t, err)
}
