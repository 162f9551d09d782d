// Package demo provides canned workspace capabilities for local runs and
// integration-style tests. Each capability conforms to the single result
// contract; side-effecting operations (sending mail, mutating the
// calendar) are proposed as actions so the router's guardrail gate
// decides whether they run, park for approval, or get refused.
package demo

import (
	"context"
	"fmt"
	"strings"

	"github.com/workspace-agents/orchestrator/capability"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail"
)

// RegisterAll adds every demo capability to the registry.
func RegisterAll(reg *capability.Registry) error {
	for _, c := range []capability.Capability{
		Mail{},
		Calendar{},
		Tasks{},
		Documents{},
		Meetings{},
		ContextSwitch{},
		General{},
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Mail triages, searches, and sends email over the canned inbox.
type Mail struct{}

func (Mail) ID() protocol.CapabilityID { return "mail" }

func (Mail) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	if task.Approved {
		return capability.Completed("Sent: " + task.Action), nil
	}

	lower := strings.ToLower(task.Text)
	switch {
	case strings.Contains(lower, "delete all"):
		return capability.NeedsApproval(
			"delete all messages in the inbox",
			guardrail.CategoryBulkOperation,
		), nil

	case strings.Contains(lower, "send") || strings.Contains(lower, "reply"):
		return capability.NeedsApproval(
			"send email: "+task.Text,
			guardrail.CategorySendCommunication,
		), nil

	case strings.Contains(lower, "search"):
		var hits []string
		for _, e := range demoEmails {
			if strings.Contains(strings.ToLower(e.Subject+" "+e.Snippet), strings.ToLower(strings.TrimSpace(strings.TrimPrefix(lower, "search")))) {
				hits = append(hits, e.Subject)
			}
		}
		if len(hits) == 0 {
			return capability.Completed("No messages matched."), nil
		}
		return capability.Completed(fmt.Sprintf("Found %d messages: %s", len(hits), strings.Join(hits, "; "))), nil

	default:
		unread := 0
		var urgent []string
		for _, e := range demoEmails {
			if e.Unread {
				unread++
			}
			if e.Priority == "urgent" {
				urgent = append(urgent, fmt.Sprintf("%s (%s)", e.Subject, e.From))
			}
		}
		summary := fmt.Sprintf("Inbox triage: %d unread of %d.", unread, len(demoEmails))
		if len(urgent) > 0 {
			summary += " Urgent: " + strings.Join(urgent, "; ")
		}
		return capability.Completed(summary), nil
	}
}

// Calendar answers schedule questions and proposes event mutations.
type Calendar struct{}

func (Calendar) ID() protocol.CapabilityID { return "calendar" }

func (Calendar) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	if task.Approved {
		return capability.Completed("Created: " + task.Action), nil
	}

	lower := strings.ToLower(task.Text)
	switch {
	case strings.Contains(lower, "create") || strings.Contains(lower, "book"):
		return capability.NeedsApproval("create event: "+task.Text, "create-event"), nil

	case strings.Contains(lower, "today"):
		var today []string
		for _, e := range demoEvents {
			if e.Today {
				today = append(today, fmt.Sprintf("%s at %s", e.Title, e.Start))
			}
		}
		if len(today) == 0 {
			return capability.Completed("No events today."), nil
		}
		return capability.Completed("Today: " + strings.Join(today, "; ")), nil

	default:
		var all []string
		for _, e := range demoEvents {
			all = append(all, fmt.Sprintf("%s (%s)", e.Title, e.Start))
		}
		return capability.Completed("Upcoming: " + strings.Join(all, "; ")), nil
	}
}

// Tasks prioritizes the canned task list and suggests the next task.
type Tasks struct{}

func (Tasks) ID() protocol.CapabilityID { return "task" }

func (Tasks) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	var lines []string
	for _, t := range demoTodos {
		if t.Done {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s (due %s)", t.Priority, t.Title, t.Due))
	}

	if len(lines) == 0 {
		return capability.Completed("No open tasks."), nil
	}
	if strings.Contains(strings.ToLower(task.Text), "next") {
		return capability.Completed("Suggested next task: " + lines[0]), nil
	}
	return capability.Completed("Open tasks by priority: " + strings.Join(lines, "; ")), nil
}

// Documents summarizes documents; with nothing loaded it reports so.
type Documents struct{}

func (Documents) ID() protocol.CapabilityID { return "document" }

func (Documents) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	return capability.Completed("No documents are loaded in the demo workspace."), nil
}

// Meetings prepares for meetings. Preparation needs the schedule, so it
// delegates to the calendar capability rather than reading it directly.
type Meetings struct{}

func (Meetings) ID() protocol.CapabilityID { return "meeting" }

func (Meetings) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	lower := strings.ToLower(task.Text)
	if strings.Contains(lower, "prep") || strings.Contains(lower, "prepare") {
		return capability.Delegate("calendar", "today's schedule for meeting preparation"), nil
	}

	return capability.Completed("Meeting notes: roadmap review pending; action items tracked in the task list."), nil
}

// ContextSwitch records which project the user is focused on.
type ContextSwitch struct{}

func (ContextSwitch) ID() protocol.CapabilityID { return "context-switch" }

func (ContextSwitch) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	project := strings.TrimSpace(task.Text)
	if idx := strings.LastIndex(strings.ToLower(project), "switch to "); idx >= 0 {
		project = strings.TrimSpace(project[idx+len("switch to "):])
	}
	if project == "" {
		return capability.Completed("Tell me which project to switch to."), nil
	}
	return capability.Completed("Switched working context to " + project + "."), nil
}

// General is the fallback capability: it answers from the working
// context without delegating.
type General struct{}

func (General) ID() protocol.CapabilityID { return protocol.General }

func (General) Execute(ctx context.Context, task protocol.Task) (capability.Result, error) {
	if task.Context.Summary != "" {
		return capability.Completed("Here's what I know so far: " + task.Context.Summary), nil
	}
	return capability.Completed("I can help with mail, calendar, tasks, documents, and meetings. What would you like to do?"), nil
}
