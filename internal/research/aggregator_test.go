package research

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func finding(words int) Finding {
	text := ""
	for i := 0; i < words; i++ {
		if i > 0 {
			text += " "
		}
		text += fmt.Sprintf("w%d", i)
	}
	return Finding{Text: text, Source: "test"}
}

func TestPoolAppendIsMonotonic(t *testing.T) {
	pool := NewContextPool(nil)
	last := 0
	for i := 0; i < 20; i++ {
		pool.Append(finding(3))
		require.Greater(t, pool.Len(), last, "pool size must never decrease")
		last = pool.Len()
	}
	assert.Equal(t, 20, pool.Len())
}

func TestPoolConcurrentAppend(t *testing.T) {
	pool := NewContextPool(nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				pool.Append(finding(2))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 400, pool.Len())
}

func TestTrimNeverExceedsBudget(t *testing.T) {
	pool := NewContextPool(nil)
	for i := 0; i < 10; i++ {
		pool.Append(finding(10))
	}

	for _, budget := range []int{5, 10, 25, 50, 95, 100, 1000} {
		view := pool.Trim(budget)
		words := 0
		for _, f := range view {
			words += countWords(f.Text)
		}
		assert.LessOrEqual(t, words, budget, "budget %d", budget)
	}
}

func TestTrimWithinBudgetIsNoOpView(t *testing.T) {
	pool := NewContextPool(nil)
	pool.Append(finding(5), finding(5), finding(5))

	view := pool.Trim(100)
	assert.Len(t, view, 3, "pool within budget comes back whole")

	// Trimming is a read view: the pool itself is untouched.
	again := pool.Trim(100)
	assert.Len(t, again, 3)
	assert.Equal(t, 3, pool.Len())
}

func TestTrimDropsFromTailInInsertionOrder(t *testing.T) {
	// Insertion order is completion order, not dispatch order; FIFO here
	// means "earliest appended survives", nothing more.
	pool := NewContextPool(nil)
	pool.Append(Finding{Text: "alpha one two"}, Finding{Text: "beta one two"}, Finding{Text: "gamma one two"})

	view := pool.Trim(6)
	require.Len(t, view, 2)
	assert.Equal(t, "alpha one two", view[0].Text)
	assert.Equal(t, "beta one two", view[1].Text)
}

func TestTrimDoesNotMutatePool(t *testing.T) {
	pool := NewContextPool(nil)
	for i := 0; i < 5; i++ {
		pool.Append(finding(10))
	}
	_ = pool.Trim(15)
	assert.Equal(t, 5, pool.Len())
	assert.Equal(t, 50, pool.Words())
}

func TestTrimZeroBudget(t *testing.T) {
	pool := NewContextPool(nil)
	pool.Append(finding(3))
	assert.Empty(t, pool.Trim(0))
}

func TestCustomTrimPolicy(t *testing.T) {
	// Keep only the newest finding, whatever the budget.
	newest := func(findings []Finding, maxWords int) []Finding {
		if len(findings) == 0 {
			return nil
		}
		return findings[len(findings)-1:]
	}
	pool := NewContextPool(newest)
	pool.Append(Finding{Text: "old"}, Finding{Text: "new"})

	view := pool.Trim(1000)
	require.Len(t, view, 1)
	assert.Equal(t, "new", view[0].Text)
}

func TestFindingsReturnsCopy(t *testing.T) {
	pool := NewContextPool(nil)
	pool.Append(Finding{Text: "original"})
	out := pool.Findings()
	out[0].Text = "mutated"
	assert.Equal(t, "original", pool.Findings()[0].Text)
}
