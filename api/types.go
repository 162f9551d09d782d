package api

import (
	"time"

	"github.com/workspace-agents/orchestrator/guardrail/ratelimit"
	"github.com/workspace-agents/orchestrator/router"
	"github.com/workspace-agents/orchestrator/session"
)

// AskRequest submits one user request to a session. An empty SessionID
// creates a fresh session, whose id comes back on the response.
type AskRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// Attribution labels one capability's contribution to a response.
type Attribution struct {
	Capability string `json:"capability"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
}

// PendingAction describes a proposed action awaiting the user's decision.
type PendingAction struct {
	ID         string `json:"id"`
	Capability string `json:"capability"`
	Action     string `json:"action"`
	Category   string `json:"category"`
}

// Blocked carries the refusal category when a guardrail stopped the
// request or an action.
type Blocked struct {
	Reason     string `json:"reason"`
	Rule       string `json:"rule,omitempty"`
	RetryAfter string `json:"retry_after,omitempty"`
}

// AskResponse is the aggregated outcome of one request.
type AskResponse struct {
	SessionID      string         `json:"session_id"`
	Text           string         `json:"text"`
	Attributions   []Attribution  `json:"attributions,omitempty"`
	Pending        *PendingAction `json:"pending,omitempty"`
	Blocked        *Blocked       `json:"blocked,omitempty"`
	LoopTerminated bool           `json:"loop_terminated,omitempty"`
	Partial        bool           `json:"partial,omitempty"`
}

// ApproveRequest resolves a pending action. Approve false cancels it.
type ApproveRequest struct {
	SessionID  string `json:"session_id"`
	ApprovalID string `json:"approval_id"`
	Approve    bool   `json:"approve"`
}

// StatsRequest asks for one session's standing plus the process-wide
// rate-limit usage.
type StatsRequest struct {
	SessionID string `json:"session_id"`
}

// RateUsage is one rate-limit category's standing in its current window.
type RateUsage struct {
	Max    int    `json:"max"`
	Used   int    `json:"used"`
	Window string `json:"window"`
}

// StatsResponse reports session statistics and limiter usage.
type StatsResponse struct {
	SessionID  string               `json:"session_id"`
	Session    session.Stats        `json:"session"`
	RateLimits map[string]RateUsage `json:"rate_limits"`
}

// ClearRequest resets one session's conversation state.
type ClearRequest struct {
	SessionID string `json:"session_id"`
}

// ClearResponse acknowledges a session reset.
type ClearResponse struct {
	SessionID string `json:"session_id"`
}

func fromFinal(sessionID string, resp *router.FinalResponse) *AskResponse {
	out := &AskResponse{
		SessionID:      sessionID,
		Text:           resp.Text,
		LoopTerminated: resp.LoopTerminated,
		Partial:        resp.Partial,
	}

	for _, a := range resp.Attributions {
		out.Attributions = append(out.Attributions, Attribution{
			Capability: string(a.Capability),
			Text:       a.Text,
			Error:      a.Err,
		})
	}

	if p := resp.Pending; p != nil {
		out.Pending = &PendingAction{
			ID:         p.ID,
			Capability: string(p.Capability),
			Action:     p.Action,
			Category:   p.Category,
		}
	}

	if b := resp.Blocked; b != nil {
		out.Blocked = &Blocked{
			Reason: string(b.Reason),
			Rule:   b.Rule,
		}
		if b.RetryAfter > 0 {
			out.Blocked.RetryAfter = b.RetryAfter.Round(time.Second).String()
		}
	}

	return out
}

func fromUsage(usage map[string]ratelimit.Usage) map[string]RateUsage {
	out := make(map[string]RateUsage, len(usage))
	for category, u := range usage {
		out[category] = RateUsage{
			Max:    u.Max,
			Used:   u.Used,
			Window: u.Window.String(),
		}
	}
	return out
}
