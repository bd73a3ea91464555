package research

import "strings"

// Task is a caller-supplied research request. Immutable once created;
// it lives for the duration of one recursive exploration.
type Task struct {
	Topic   string `json:"topic"`
	Breadth int    `json:"breadth"`
	Depth   int    `json:"depth"`
}

// SubQuery pairs a concrete search query with its stated research objective.
// Created by the planner and consumed by exactly one branch execution.
type SubQuery struct {
	Query string `json:"query"`
	Goal  string `json:"goal"`
}

// Finding is one attributed fragment of research output.
type Finding struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
}

// SearchOutput is what the external search/summarize capability returns for
// one query. Empty findings are a valid outcome, not a failure.
type SearchOutput struct {
	Findings          []Finding `json:"findings"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
}

// BranchResult is the outcome of executing one sub-query. Immutable after
// creation; consumed by the aggregator and, when depth remains, by the next
// recursion level.
type BranchResult struct {
	SubQuery          SubQuery  `json:"sub_query"`
	Findings          []Finding `json:"findings"`
	FollowUpQuestions []string  `json:"follow_up_questions,omitempty"`
	ResearchGoal      string    `json:"research_goal"`
}

// Params configures one top-level research call. The engine never reads
// environment variables or files itself; callers resolve configuration and
// pass it in here.
type Params struct {
	Topic           string
	Breadth         int
	Depth           int
	MaxContextWords int
}

// Result is what a completed (or cooperatively cancelled) research call
// hands to the downstream synthesizer.
type Result struct {
	// TaskID identifies the run in progress events and logs.
	TaskID string
	// Context is the trimmed view of all accumulated findings.
	Context []Finding
	// Progress is the final progress snapshot for the run.
	Progress ProgressSnapshot
}

// ChildBreadth computes the fan-out for the next recursion level. The
// halving with a floor of 2 keeps total work sub-exponential as the tree
// deepens.
func ChildBreadth(parent int) int {
	child := parent / 2
	if child < 2 {
		child = 2
	}
	return child
}

// NextTopic synthesizes the topic string for a deeper recursion level from a
// branch's research goal and its follow-up questions.
func NextTopic(r BranchResult) string {
	var sb strings.Builder
	sb.WriteString("Previous research goal: ")
	sb.WriteString(r.ResearchGoal)
	if len(r.FollowUpQuestions) > 0 {
		sb.WriteString("\nFollow-up research directions:")
		for _, q := range r.FollowUpQuestions {
			sb.WriteString("\n- ")
			sb.WriteString(q)
		}
	}
	return sb.String()
}

// dedupeQuestions collapses duplicate follow-up questions while preserving
// first-seen order.
func dedupeQuestions(questions []string) []string {
	if len(questions) <= 1 {
		return questions
	}
	seen := make(map[string]struct{}, len(questions))
	out := questions[:0]
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		out = append(out, q)
	}
	return out
}
