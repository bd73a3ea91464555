package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fathomlab/fathom/internal/metrics"
)

// QueryPlanner wraps the external query-generation capability with the
// engine's degradation and failure policy. Distinctness of the generated
// sub-queries rests with the capability; the planner only enforces shape.
type QueryPlanner struct {
	gen    QueryGenerator
	logger *zap.Logger
}

// NewQueryPlanner creates a planner over a generator.
func NewQueryPlanner(gen QueryGenerator, logger *zap.Logger) *QueryPlanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryPlanner{gen: gen, logger: logger}
}

// Plan produces up to count sub-queries for a topic. Under-delivery is
// logged as degraded and returned as-is; generator failure maps to
// ErrPlanningUnavailable so the caller can terminate this subtree only.
func (p *QueryPlanner) Plan(ctx context.Context, topic string, count int) ([]SubQuery, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("plan: topic must be non-empty")
	}
	if count < 1 {
		return nil, fmt.Errorf("plan: count must be >= 1, got %d", count)
	}

	subs, err := p.gen.GenerateSubQueries(ctx, topic, count)
	if err != nil {
		metrics.PlansFailed.Inc()
		return nil, fmt.Errorf("%w: %v", ErrPlanningUnavailable, err)
	}

	// Drop malformed entries rather than failing the level.
	valid := subs[:0]
	for _, sq := range subs {
		if strings.TrimSpace(sq.Query) == "" {
			continue
		}
		valid = append(valid, sq)
	}
	if len(valid) > count {
		valid = valid[:count]
	}

	if len(valid) < count {
		metrics.PlansDegraded.Inc()
		p.logger.Warn("query generator under-delivered, proceeding degraded",
			zap.Int("requested", count),
			zap.Int("delivered", len(valid)),
			zap.String("topic", truncate(topic, 120)),
		)
	}
	return valid, nil
}

// planResponse is the strict schema expected from LLM-shaped generator
// output. Anything outside it is discarded.
type planResponse struct {
	SubQueries []SubQuery `json:"subqueries"`
}

// ParsePlanResponse extracts sub-queries from raw model output. The model
// wraps JSON in prose more often than not, so the parser locates the
// outermost object before decoding. Used by capability adapters that sit in
// front of text-completion services.
func ParsePlanResponse(raw string) ([]SubQuery, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in plan response")
	}
	var parsed planResponse
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("parse plan response: %w", err)
	}
	out := make([]SubQuery, 0, len(parsed.SubQueries))
	for _, sq := range parsed.SubQueries {
		if strings.TrimSpace(sq.Query) == "" {
			continue
		}
		out = append(out, sq)
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
