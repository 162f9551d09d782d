package router

import (
	"context"
	"sort"
	"strings"

	"github.com/workspace-agents/orchestrator/core/protocol"
)

// Classifier determines which capability (or capabilities, for
// multi-domain requests) should handle a request. Implementations
// typically wrap an external reasoning call; the router tolerates
// failure by falling back to the default capability, so classifiers may
// return errors freely.
type Classifier interface {
	Classify(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error)

func (f ClassifierFunc) Classify(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error) {
	return f(ctx, wc, userText)
}

// KeywordClassifier routes by keyword match. It serves as the default
// rule-based strategy and as the fallback when an LLM-backed classifier
// is not configured. Two or more matching domains produce a fan-out set.
type KeywordClassifier struct {
	keywords map[protocol.CapabilityID][]string
}

// NewKeywordClassifier creates a classifier with the stock domain
// keyword table.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		keywords: map[protocol.CapabilityID][]string{
			"mail":           {"email", "inbox", "message", "reply"},
			"calendar":       {"calendar", "schedule", "event", "free slot"},
			"task":           {"task", "todo", "priority", "deadline"},
			"document":       {"document", "file", "summarize", "notes"},
			"meeting":        {"meeting", "agenda", "standup"},
			"context-switch": {"project", "switch", "context"},
		},
	}
}

// Classify returns every capability whose keywords appear in the user
// text, sorted for deterministic fan-out order. No match returns the
// default capability.
func (c *KeywordClassifier) Classify(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error) {
	lower := strings.ToLower(userText)

	var matched []protocol.CapabilityID
	for id, words := range c.keywords {
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched = append(matched, id)
				break
			}
		}
	}

	if len(matched) == 0 {
		return []protocol.CapabilityID{protocol.General}, nil
	}

	sort.Slice(matched, func(i, j int) bool { return matched[i] < matched[j] })
	return matched, nil
}
