package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail"
)

// Attribution ties one capability's contribution to the final response.
type Attribution struct {
	Capability protocol.CapabilityID `json:"capability"`
	Text       string                `json:"text,omitempty"`
	Err        string                `json:"error,omitempty"`
}

// PendingAction is the pending-approval shape surfaced to the caller
// while a session is parked.
type PendingAction struct {
	ID         string                `json:"id"`
	Capability protocol.CapabilityID `json:"capability"`
	Action     string                `json:"action"`
	Category   string                `json:"category"`
}

// BlockedInfo carries the guardrail refusal details: the rule category
// that triggered (never the matched sensitive substring) and, for rate
// limits, a retry-after hint.
type BlockedInfo struct {
	Reason     guardrail.BlockReason `json:"reason"`
	Rule       string                `json:"rule"`
	RetryAfter time.Duration         `json:"retry_after,omitempty"`
}

// FinalResponse is the router's answer to one top-level request.
type FinalResponse struct {
	Text         string        `json:"text"`
	Attributions []Attribution `json:"attributions,omitempty"`

	// Pending is set when the session parked on an approval; the text
	// then describes the action awaiting a decision.
	Pending *PendingAction `json:"pending,omitempty"`

	// Blocked is set when a guardrail refused the request or action.
	Blocked *BlockedInfo `json:"blocked,omitempty"`

	// LoopTerminated marks a response synthesized directly from context
	// after the loop guard rejected further delegation.
	LoopTerminated bool `json:"loop_terminated,omitempty"`

	// Partial marks a response missing at least one capability's
	// contribution.
	Partial bool `json:"partial,omitempty"`
}

// aggregate combines per-capability results into one response.
// Concatenation follows invocation order. A lone successful result
// passes through verbatim; failures are reported in a clearly delimited
// partial-failure note rather than silently omitted.
func aggregate(entries []Attribution) FinalResponse {
	resp := FinalResponse{Attributions: entries}

	var ok, failed []Attribution
	for _, e := range entries {
		if e.Err != "" {
			failed = append(failed, e)
		} else {
			ok = append(ok, e)
		}
	}

	var b strings.Builder
	switch {
	case len(ok) == 1 && len(failed) == 0:
		b.WriteString(ok[0].Text)
	default:
		for i, e := range ok {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[%s] %s", e.Capability, e.Text)
		}
	}

	if len(failed) > 0 {
		resp.Partial = true
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("--- partial failure ---")
		for _, e := range failed {
			fmt.Fprintf(&b, "\n%s: %s", e.Capability, e.Err)
		}
	}

	resp.Text = b.String()
	return resp
}
