package research

import (
	"strings"
	"sync"

	"github.com/fathomlab/fathom/internal/metrics"
)

// TrimPolicy selects a word-bounded view of accumulated findings. It must
// not mutate its input. The returned slice may alias the input.
type TrimPolicy func(findings []Finding, maxWords int) []Finding

// FIFOTrim keeps findings in insertion order until the word budget is
// exhausted and drops everything after. Insertion order is completion
// order, not dispatch order; the pool is an unordered bag as far as
// relevance goes, so this is a budget device rather than a ranking.
func FIFOTrim(findings []Finding, maxWords int) []Finding {
	if maxWords <= 0 {
		return nil
	}
	words := 0
	for i, f := range findings {
		words += countWords(f.Text)
		if words > maxWords {
			return findings[:i]
		}
	}
	return findings
}

func countWords(text string) int {
	return len(strings.Fields(text))
}

// ContextPool is the shared accumulator of all findings across one research
// tree. It grows monotonically during traversal; trimming only ever
// produces a read view and never touches the underlying store. The
// top-level controller owns the pool; recursive calls receive a reference
// and append, never replace.
type ContextPool struct {
	mu       sync.Mutex
	findings []Finding
	policy   TrimPolicy
}

// NewContextPool creates an empty pool. A nil policy selects FIFOTrim.
func NewContextPool(policy TrimPolicy) *ContextPool {
	if policy == nil {
		policy = FIFOTrim
	}
	return &ContextPool{policy: policy}
}

// Append adds findings to the pool. Safe for concurrent use.
func (p *ContextPool) Append(findings ...Finding) {
	if len(findings) == 0 {
		return
	}
	p.mu.Lock()
	p.findings = append(p.findings, findings...)
	p.mu.Unlock()
	metrics.FindingsAppended.Add(float64(len(findings)))
}

// Len reports the number of finding fragments accumulated so far.
func (p *ContextPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.findings)
}

// Findings returns a copy of the accumulated findings in insertion order.
func (p *ContextPool) Findings() []Finding {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Finding, len(p.findings))
	copy(out, p.findings)
	return out
}

// Trim returns a word-bounded view of the pool under its policy. A pool
// already within budget comes back whole, so trimming a small pool is a
// no-op view. The pool itself is never mutated.
func (p *ContextPool) Trim(maxWords int) []Finding {
	all := p.Findings()
	trimmed := p.policy(all, maxWords)
	dropped := 0
	for _, f := range all[len(trimmed):] {
		dropped += countWords(f.Text)
	}
	metrics.ContextWordsTrimmed.Observe(float64(dropped))
	return trimmed
}

// Words reports the total word count currently in the pool.
func (p *ContextPool) Words() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	words := 0
	for _, f := range p.findings {
		words += countWords(f.Text)
	}
	return words
}
