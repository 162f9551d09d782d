// Package protocol defines the shared conversation types exchanged between
// the router, the context manager, and capability implementations.
package protocol

import "time"

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
)

// CapabilityID names a task-executing capability (e.g. "mail", "calendar").
type CapabilityID string

// General is the fallback capability invoked when intent classification
// is unavailable or produces no usable candidate.
const General CapabilityID = "general"

// Message is a single entry in a session's conversation log. Messages are
// immutable once appended; their insertion order is the reasoning context.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`

	// Capability attributes agent messages to the capability that
	// produced them. Empty for user and system messages.
	Capability CapabilityID `json:"capability,omitempty"`
}

// NewMessage creates a Message with the given role and content, stamped
// with the current time.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content, Timestamp: time.Now()}
}

// Len returns the character length the context manager charges this
// message against the context budget.
func (m Message) Len() int {
	return len(m.Content)
}

// Task is the unit of work handed to a capability: the text to act on plus
// the bounded working context it may reason over.
type Task struct {
	// Text is the instruction for the capability. For the first hop this
	// is the raw user request; for delegated hops it is the delegating
	// capability's follow-up task.
	Text string

	// Context is the bounded view of the conversation: the live summary
	// (if any) followed by the visible message window. Capabilities never
	// see the unbounded raw log.
	Context WorkingContext

	// Approved marks the re-invocation of a previously proposed
	// side-effecting action after the guardrail gate (or a human)
	// approved it. Action carries the approved action description; the
	// capability executes it instead of proposing again.
	Approved bool
	Action   string
}

// WorkingContext is the bounded conversation view passed to reasoning
// calls: an optional summary of older messages plus the recent window.
type WorkingContext struct {
	Summary string    // compressed older history, empty when none exists
	Recent  []Message // visible messages in insertion order
}

// Len returns the combined character length of the summary and the
// visible messages.
func (w WorkingContext) Len() int {
	total := len(w.Summary)
	for _, m := range w.Recent {
		total += m.Len()
	}
	return total
}
