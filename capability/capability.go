// Package capability defines the uniform contract every task-executing
// capability exposes to the router, and a registry for looking them up.
//
// Capabilities never call each other. A capability that needs another
// domain's help returns a Delegate result; the router is the only
// component that resolves the next hop, which keeps loop prevention in
// one place.
package capability

import (
	"context"

	"github.com/workspace-agents/orchestrator/core/protocol"
)

// Kind discriminates the tagged Result variant.
type Kind int

const (
	// KindCompleted carries the capability's final payload.
	KindCompleted Kind = iota
	// KindNeedsApproval suspends the request until a human decides.
	KindNeedsApproval
	// KindDelegate asks the router to continue with another capability.
	KindDelegate
)

func (k Kind) String() string {
	switch k {
	case KindCompleted:
		return "completed"
	case KindNeedsApproval:
		return "needs_approval"
	case KindDelegate:
		return "delegate"
	default:
		return "unknown"
	}
}

// Result is the only value a capability may return to the router.
// Exactly one variant is populated, selected by Kind.
type Result struct {
	Kind Kind

	// Payload is the final answer text. Set for KindCompleted.
	Payload string

	// Action describes the side-effecting operation awaiting approval,
	// and Category its guardrail category. Set for KindNeedsApproval.
	Action   string
	Category string

	// Target and Task name the next hop. Set for KindDelegate.
	Target protocol.CapabilityID
	Task   string
}

// Completed builds a final-answer result.
func Completed(payload string) Result {
	return Result{Kind: KindCompleted, Payload: payload}
}

// NeedsApproval builds a suspension result for a side-effecting action.
func NeedsApproval(action, category string) Result {
	return Result{Kind: KindNeedsApproval, Action: action, Category: category}
}

// Delegate builds a hand-off result naming the capability that should
// continue the task.
func Delegate(target protocol.CapabilityID, task string) Result {
	return Result{Kind: KindDelegate, Target: target, Task: task}
}

// Capability is a task-executing unit. Execute receives the task plus the
// bounded working context and returns one Result variant. Implementations
// must be safe for concurrent use: the router may invoke independent
// capabilities in parallel during fan-out.
type Capability interface {
	// ID returns the stable identifier the classifier routes by.
	ID() protocol.CapabilityID
	// Execute performs the task. An error means the capability's external
	// tooling failed; the router retries once and then reports a partial
	// result.
	Execute(ctx context.Context, task protocol.Task) (Result, error)
}

// Func adapts a plain function to the Capability interface.
type Func struct {
	Name protocol.CapabilityID
	Fn   func(ctx context.Context, task protocol.Task) (Result, error)
}

func (f Func) ID() protocol.CapabilityID { return f.Name }

func (f Func) Execute(ctx context.Context, task protocol.Task) (Result, error) {
	return f.Fn(ctx, task)
}
