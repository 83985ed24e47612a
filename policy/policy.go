// Package policy holds the automated review decision policy: a bounded,
// conservative escalation that grants one natural-recovery attempt before
// forcing progress, so stalled sagas never loop on human review forever.
package policy

import (
	"fmt"

	steward "github.com/goliatone/go-steward"
)

// Func is the decision seam. The supervisor calls it through this type so a
// richer heuristic can replace the default without touching control flow.
type Func func(reviewAttempt int, counts steward.DimensionCounts) steward.Decision

// Decide maps a review attempt onto a decision. Pure: no side effects, no
// clock access beyond the arguments.
//
//	attempt <= 1 -> retry_collapsed
//	attempt >  1 -> skip_and_unblock
func Decide(reviewAttempt int, counts steward.DimensionCounts) steward.Decision {
	if reviewAttempt <= 1 {
		return steward.Decision{
			Kind: steward.DecisionRetryCollapsed,
			Reasoning: fmt.Sprintf(
				"first review attempt: retrying %d collapsed dimension(s) before giving up",
				counts.Collapsed,
			),
		}
	}
	return steward.Decision{
		Kind: steward.DecisionSkipAndUnblock,
		Reasoning: fmt.Sprintf(
			"%d dimension(s) remain collapsed after a retry: skipping them to unblock the remaining work",
			counts.Collapsed,
		),
	}
}
