// Package loopguard decides whether the router may commit another
// delegation hop. It is a pure predicate over the delegation history of
// the current request: no LLM calls, no side effects, no state of its own.
package loopguard

import "github.com/workspace-agents/orchestrator/core/protocol"

// DefaultMaxDepth caps the number of delegation hops per top-level request.
const DefaultMaxDepth = 3

// DefaultMaxOccurrences caps how often a single capability may appear
// anywhere in one request's delegation chain.
const DefaultMaxOccurrences = 2

// Reason explains why a candidate was rejected. Allowed candidates carry
// ReasonNone.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonSelfRepeat  Reason = "immediate self-repeat"
	ReasonAlternation Reason = "a-b-a alternation"
	ReasonOccurrences Reason = "occurrence cap exceeded"
	ReasonDepth       Reason = "delegation depth exhausted"
)

// Allow reports whether candidate may be appended to history without
// creating a delegation loop. Rules are evaluated independently and the
// most restrictive wins:
//
//  1. candidate must not equal the last entry (no immediate self-repeat)
//  2. candidate must not equal the second-to-last entry (no A→B→A)
//  3. candidate must not already appear more than DefaultMaxOccurrences
//     times anywhere in history
//  4. history must be shorter than maxDepth, regardless of candidate
//
// maxDepth values below 1 fall back to DefaultMaxDepth.
func Allow(history []protocol.CapabilityID, candidate protocol.CapabilityID, maxDepth int) bool {
	_, reason := Check(history, candidate, maxDepth)
	return reason == ReasonNone
}

// Check is Allow with the rejection reason, for event logs.
func Check(history []protocol.CapabilityID, candidate protocol.CapabilityID, maxDepth int) (bool, Reason) {
	if maxDepth < 1 {
		maxDepth = DefaultMaxDepth
	}

	if len(history) >= maxDepth {
		return false, ReasonDepth
	}

	if n := len(history); n > 0 && history[n-1] == candidate {
		return false, ReasonSelfRepeat
	}

	if n := len(history); n >= 2 && history[n-2] == candidate {
		return false, ReasonAlternation
	}

	occurrences := 0
	for _, id := range history {
		if id == candidate {
			occurrences++
		}
	}
	if occurrences > DefaultMaxOccurrences {
		return false, ReasonOccurrences
	}

	return true, ReasonNone
}
