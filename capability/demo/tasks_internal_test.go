package demo

import (
	"context"
	"testing"

	"github.com/workspace-agents/orchestrator/capability"
	"github.com/workspace-agents/orchestrator/core/protocol"
)

func TestTasks_AllDone(t *testing.T) {
	orig := demoTodos
	demoTodos = []todo{
		{Title: "Finish roadmap slides", Priority: "urgent", Due: "today", Done: true},
		{Title: "Update onboarding doc", Priority: "low", Due: "next week", Done: true},
	}
	t.Cleanup(func() { demoTodos = orig })

	for _, text := range []string{"what's next", "list my tasks"} {
		res, err := Tasks{}.Execute(context.Background(), protocol.Task{Text: text})
		if err != nil {
			t.Fatalf("Execute(%q) failed: %v", text, err)
		}
		if res.Kind != capability.KindCompleted {
			t.Fatalf("got kind %s, want completed", res.Kind)
		}
		if res.Payload != "No open tasks." {
			t.Errorf("Execute(%q) = %q, want an empty-list answer", text, res.Payload)
		}
	}
}
