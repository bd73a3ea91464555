package research

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type generatorFunc func(ctx context.Context, topic string, count int) ([]SubQuery, error)

func (f generatorFunc) GenerateSubQueries(ctx context.Context, topic string, count int) ([]SubQuery, error) {
	return f(ctx, topic, count)
}

func nQueries(n int) []SubQuery {
	out := make([]SubQuery, n)
	for i := range out {
		out[i] = SubQuery{Query: fmt.Sprintf("query %d", i), Goal: fmt.Sprintf("goal %d", i)}
	}
	return out
}

func TestPlanValidation(t *testing.T) {
	p := NewQueryPlanner(generatorFunc(func(context.Context, string, int) ([]SubQuery, error) {
		return nQueries(1), nil
	}), zaptest.NewLogger(t))

	_, err := p.Plan(context.Background(), "", 4)
	assert.Error(t, err)

	_, err = p.Plan(context.Background(), "   ", 4)
	assert.Error(t, err)

	_, err = p.Plan(context.Background(), "topic", 0)
	assert.Error(t, err)
}

func TestPlanUnderDeliveryIsDegradedNotFatal(t *testing.T) {
	p := NewQueryPlanner(generatorFunc(func(_ context.Context, _ string, count int) ([]SubQuery, error) {
		return nQueries(2), nil
	}), zaptest.NewLogger(t))

	subs, err := p.Plan(context.Background(), "quantum computing", 4)
	require.NoError(t, err)
	assert.Len(t, subs, 2)
}

func TestPlanTruncatesOverDelivery(t *testing.T) {
	p := NewQueryPlanner(generatorFunc(func(_ context.Context, _ string, count int) ([]SubQuery, error) {
		return nQueries(count + 3), nil
	}), zaptest.NewLogger(t))

	subs, err := p.Plan(context.Background(), "quantum computing", 4)
	require.NoError(t, err)
	assert.Len(t, subs, 4)
}

func TestPlanDropsEmptyQueries(t *testing.T) {
	p := NewQueryPlanner(generatorFunc(func(context.Context, string, int) ([]SubQuery, error) {
		return []SubQuery{{Query: "real", Goal: "g"}, {Query: "  ", Goal: "g"}, {Query: "", Goal: "g"}}, nil
	}), zaptest.NewLogger(t))

	subs, err := p.Plan(context.Background(), "topic", 3)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "real", subs[0].Query)
}

func TestPlanGeneratorFailureMapsToPlanningUnavailable(t *testing.T) {
	p := NewQueryPlanner(generatorFunc(func(context.Context, string, int) ([]SubQuery, error) {
		return nil, errors.New("connection refused")
	}), zaptest.NewLogger(t))

	_, err := p.Plan(context.Background(), "topic", 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPlanningUnavailable)
}

func TestParsePlanResponse(t *testing.T) {
	raw := `Here are the queries you asked for:
{"subqueries": [
  {"query": "quantum error correction milestones 2025", "goal": "track hardware progress"},
  {"query": "", "goal": "dropped"},
  {"query": "post-quantum cryptography adoption", "goal": "map industry response"}
]}
Let me know if you need more.`

	subs, err := ParsePlanResponse(raw)
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "quantum error correction milestones 2025", subs[0].Query)
	assert.Equal(t, "track hardware progress", subs[0].Goal)
	assert.Equal(t, "post-quantum cryptography adoption", subs[1].Query)
}

func TestParsePlanResponseRejectsGarbage(t *testing.T) {
	_, err := ParsePlanResponse("no json here at all")
	assert.Error(t, err)

	_, err = ParsePlanResponse("{not valid json}")
	assert.Error(t, err)
}

func TestDedupeQuestions(t *testing.T) {
	in := []string{"a", "b", " a ", "", "c", "b"}
	out := dedupeQuestions(in)
	assert.Equal(t, []string{"a", "b", "c"}, out)
}

func TestChildBreadthTable(t *testing.T) {
	cases := map[int]int{1: 2, 2: 2, 3: 2, 4: 2, 8: 4, 16: 8}
	for parent, want := range cases {
		assert.Equal(t, want, ChildBreadth(parent), "parent breadth %d", parent)
	}
}
