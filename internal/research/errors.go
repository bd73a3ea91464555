package research

import (
	"errors"
	"fmt"
)

// ErrPlanningUnavailable means sub-query generation failed for a subtree.
// The controller terminates that subtree only; siblings and ancestors
// proceed.
var ErrPlanningUnavailable = errors.New("sub-query generation unavailable")

// BranchExecutionError is a hard fault from one branch's search/summarize
// step (capability unreachable, malformed response). The controller treats
// it as a logged skip, never as an abort of sibling branches.
type BranchExecutionError struct {
	Query string
	Err   error
}

func (e *BranchExecutionError) Error() string {
	return fmt.Sprintf("branch execution failed for %q: %v", e.Query, e.Err)
}

func (e *BranchExecutionError) Unwrap() error { return e.Err }
