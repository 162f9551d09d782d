// Package session owns the per-conversation state: the ordered message
// log, the live context summary, the delegation history of the current
// request, the guardrail event trail, and the pending-approval parking
// state. A Session is exclusively owned by its conversation; only the
// process-wide rate-limit counters are shared across sessions.
package session

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail"
)

// DelegationRecord is one committed hop of the current request.
type DelegationRecord struct {
	Capability protocol.CapabilityID
	Depth      int // 1-based position in the chain
}

// PendingApproval parks a request that produced a NeedsApproval result.
// While set, the session accepts no new top-level requests; only the
// approval decision may advance it.
type PendingApproval struct {
	ID         string
	Capability protocol.CapabilityID
	Action     string
	Category   string
	Task       protocol.Task
	CreatedAt  time.Time
}

// Session is one logical conversation. Safe for concurrent reads, but
// request handling for a single session is single-flighted by the router;
// the delegation history and context window have one writer at a time.
type Session struct {
	id string

	mu          sync.RWMutex
	messages    []protocol.Message
	summary     *Summary
	delegations []DelegationRecord
	guardrails  []guardrail.Event
	pending     *PendingApproval
	inFlight    bool
	requests    int
}

// Summary is the compressed representation of older messages. At most one
// is live per session; re-summarization supersedes it in place.
type Summary struct {
	Text string
	// Covered is the number of leading log messages folded into Text.
	// Messages at or past this index are still in the visible window.
	Covered int
}

// New creates an empty Session with a UUIDv7 identifier.
func New() *Session {
	return &Session{
		id: uuid.Must(uuid.NewV7()).String(),
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// Append adds a message to the conversation log. Messages are immutable
// once appended.
func (s *Session) Append(msg protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
}

// Messages returns a defensive copy of the full conversation log. This is
// the audit view; reasoning calls receive the bounded working context
// from the context manager instead.
func (s *Session) Messages() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.messages)
}

// Visible returns the messages not yet folded into the live summary.
func (s *Session) Visible() []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	if s.summary != nil {
		start = s.summary.Covered
	}
	return slices.Clone(s.messages[start:])
}

// SetSummary replaces the live summary. The previous summary is
// superseded, not appended to.
func (s *Session) SetSummary(sum Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &sum
}

// CurrentSummary returns the live summary, or nil when none exists.
func (s *Session) CurrentSummary() *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.summary == nil {
		return nil
	}
	copied := *s.summary
	return &copied
}

// BeginRequest marks the session busy and resets the delegation history
// for a fresh top-level request. Returns false when another request is in
// flight or the session is parked on a pending approval.
func (s *Session) BeginRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight || s.pending != nil {
		return false
	}

	s.inFlight = true
	s.delegations = s.delegations[:0]
	s.requests++
	return true
}

// EndRequest clears the in-flight marker.
func (s *Session) EndRequest() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
}

// RecordDelegation appends a committed hop for the current request.
// Depth is assigned monotonically. Exceeding maxDepth means the router
// skipped its loop-guard check, which is a programming error.
func (s *Session) RecordDelegation(id protocol.CapabilityID, maxDepth int) DelegationRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxDepth > 0 && len(s.delegations) >= maxDepth {
		panic("session: delegation depth exceeded without loop-guard rejection")
	}

	rec := DelegationRecord{Capability: id, Depth: len(s.delegations) + 1}
	s.delegations = append(s.delegations, rec)
	return rec
}

// DelegationHistory returns the capability chain of the current request.
func (s *Session) DelegationHistory() []protocol.CapabilityID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]protocol.CapabilityID, len(s.delegations))
	for i, rec := range s.delegations {
		ids[i] = rec.Capability
	}
	return ids
}

// RecordGuardrailEvent appends to the session's append-only audit trail.
// The trail is scoped to the session and never truncated by
// summarization.
func (s *Session) RecordGuardrailEvent(ev guardrail.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.guardrails = append(s.guardrails, ev)
}

// GuardrailEvents returns a copy of the audit trail.
func (s *Session) GuardrailEvents() []guardrail.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.guardrails)
}

// Park suspends the session on a pending approval. Returns false if an
// approval is already pending.
func (s *Session) Park(p PendingApproval) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		return false
	}
	s.pending = &p
	return true
}

// Pending returns the pending approval, or nil when the session is not
// parked.
func (s *Session) Pending() *PendingApproval {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.pending == nil {
		return nil
	}
	copied := *s.pending
	return &copied
}

// Resume clears the pending approval, claims the in-flight slot for the
// resolution, and returns the approval. The resolution mutates the same
// context window as a top-level request, so it holds the single-flight
// gate until the caller releases it with EndRequest. Returns nil,
// claiming nothing, when no approval was pending.
func (s *Session) Resume() *PendingApproval {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.pending
	if p == nil {
		return nil
	}
	s.pending = nil
	s.inFlight = true
	return p
}

// Stats describes the session for the observability surface.
type Stats struct {
	Requests        int `json:"requests"`
	Messages        int `json:"messages"`
	VisibleMessages int `json:"visible_messages"`
	ContextChars    int `json:"context_chars"`
	SummaryChars    int `json:"summary_chars"`
	Delegations     int `json:"delegations"`
	GuardrailEvents int `json:"guardrail_events"`
}

// Snapshot returns current session statistics.
func (s *Session) Snapshot() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := 0
	summaryChars := 0
	if s.summary != nil {
		start = s.summary.Covered
		summaryChars = len(s.summary.Text)
	}

	contextChars := summaryChars
	for _, m := range s.messages[start:] {
		contextChars += m.Len()
	}

	return Stats{
		Requests:        s.requests,
		Messages:        len(s.messages),
		VisibleMessages: len(s.messages) - start,
		ContextChars:    contextChars,
		SummaryChars:    summaryChars,
		Delegations:     len(s.delegations),
		GuardrailEvents: len(s.guardrails),
	}
}

// Clear resets the conversation: log, summary, delegation history,
// guardrail trail, and any pending approval.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.summary = nil
	s.delegations = nil
	s.guardrails = nil
	s.pending = nil
	s.inFlight = false
}
