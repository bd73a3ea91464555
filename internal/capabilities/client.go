// Package capabilities adapts external HTTP services to the interfaces the
// research engine consumes. The planner sits in front of a text-completion
// service; the searcher in front of a search/summarize service.
package capabilities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fathomlab/fathom/internal/config"
	"github.com/fathomlab/fathom/internal/research"
)

const (
	defaultPlannerTimeout = 30 * time.Second
	defaultSearchTimeout  = 60 * time.Second

	// maxResponseBytes bounds how much of a capability response we read.
	maxResponseBytes = 4 << 20
)

// HTTPPlanner implements research.QueryGenerator against an LLM-backed
// planning endpoint.
type HTTPPlanner struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPPlanner builds a planner client from config.
func NewHTTPPlanner(cfg config.CapabilityConfig, logger *zap.Logger) (*HTTPPlanner, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("capabilities: planner url is required")
	}
	timeout := defaultPlannerTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPPlanner{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type planRequest struct {
	Topic string `json:"topic"`
	Count int    `json:"count"`
}

// planEnvelope is the completion-service response shape. Response carries
// raw model output; the JSON plan inside it is usually wrapped in prose.
type planEnvelope struct {
	Success  bool   `json:"success"`
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// GenerateSubQueries asks the planning endpoint for count sub-queries.
func (p *HTTPPlanner) GenerateSubQueries(ctx context.Context, topic string, count int) ([]research.SubQuery, error) {
	var env planEnvelope
	if err := p.post(ctx, planRequest{Topic: topic, Count: count}, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("planner rejected request: %s", env.Error)
	}
	subs, err := research.ParsePlanResponse(env.Response)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("planner delivered sub-queries",
		zap.Int("requested", count),
		zap.Int("delivered", len(subs)),
	)
	return subs, nil
}

func (p *HTTPPlanner) post(ctx context.Context, in, out any) error {
	return postJSON(ctx, p.client, p.url, in, out)
}

// HTTPSearcher implements research.SearchProvider against a
// search/summarize endpoint.
type HTTPSearcher struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewHTTPSearcher builds a searcher client from config.
func NewHTTPSearcher(cfg config.CapabilityConfig, logger *zap.Logger) (*HTTPSearcher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("capabilities: search url is required")
	}
	timeout := defaultSearchTimeout
	if cfg.TimeoutMs > 0 {
		timeout = time.Duration(cfg.TimeoutMs) * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSearcher{
		url:    cfg.URL,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

type searchRequest struct {
	Query string `json:"query"`
}

// Search runs one query and returns summarized findings plus follow-up
// leads. An empty result set decodes cleanly and is handed through as-is.
func (s *HTTPSearcher) Search(ctx context.Context, query string) (research.SearchOutput, error) {
	var out research.SearchOutput
	if err := postJSON(ctx, s.client, s.url, searchRequest{Query: query}, &out); err != nil {
		return research.SearchOutput{}, err
	}
	s.logger.Debug("search completed",
		zap.Int("findings", len(out.Findings)),
		zap.Int("follow_ups", len(out.FollowUpQuestions)),
	)
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("capability call failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d from capability at %s", resp.StatusCode, url)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode capability response: %w", err)
	}
	return nil
}
