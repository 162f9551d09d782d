// Package guardrail validates content and side-effecting actions before
// the router lets them execute. Content scanning flags sensitive patterns
// without ever stripping data; action validation routes destructive and
// bulk operations to human approval and enforces the process-wide rate
// limits. Every operation is a deterministic function of its input and
// the current counters.
package guardrail

import (
	"regexp"
	"strings"
	"time"

	"github.com/workspace-agents/orchestrator/guardrail/ratelimit"
)

// Severity classifies a triggered rule.
type Severity string

const (
	SeverityBlock Severity = "block"
	SeverityWarn  Severity = "warn"
)

// Event records a safety-rule trigger. Fragment names the rule category
// or action description that tripped it, never the raw matched sensitive
// substring.
type Event struct {
	Rule      string    `json:"rule"`
	Severity  Severity  `json:"severity"`
	Fragment  string    `json:"fragment"`
	Timestamp time.Time `json:"timestamp"`
}

// Verdict is the outcome of action validation.
type Verdict int

const (
	VerdictAllow Verdict = iota
	VerdictBlock
	VerdictRequireApproval
)

func (v Verdict) String() string {
	switch v {
	case VerdictAllow:
		return "allow"
	case VerdictBlock:
		return "block"
	case VerdictRequireApproval:
		return "require_approval"
	default:
		return "unknown"
	}
}

// BlockReason distinguishes why an action was blocked: flagged content
// versus an exhausted rate limit.
type BlockReason string

const (
	BlockNone      BlockReason = ""
	BlockContent   BlockReason = "sensitive-content"
	BlockRateLimit BlockReason = "rate-limit"
)

// Decision is the result of ValidateAction.
type Decision struct {
	Verdict Verdict
	Reason  BlockReason
	// Rule is the content rule that triggered a content block, or the
	// approval category for VerdictRequireApproval.
	Rule string
	// RetryAfter is set for rate-limit blocks.
	RetryAfter time.Duration
	// Events holds every rule trigger observed during validation, for
	// the session audit trail.
	Events []Event
}

// Action categories with fixed handling.
const (
	CategorySendCommunication = "send-communication"
	CategoryDeleteResource    = "delete-resource"
	CategoryBulkOperation     = "bulk-operation"
)

// sensitivePatterns are the content rules. Matches are flagged at block
// severity; callers decide whether a block event halts the action.
var sensitivePatterns = []struct {
	rule    string
	pattern *regexp.Regexp
}{
	{"payment-card", regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{"government-id", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"password", regexp.MustCompile(`(?i)password[\s:=]+[\w@#$%]+`)},
	{"api-key", regexp.MustCompile(`(?i)api_?key[\s:=]+[\w-]+`)},
}

// destructiveKeywords force an inferred bulk-operation category when a
// capability supplies no category of its own.
var destructiveKeywords = []string{
	"delete all",
	"remove all",
	"drop table",
	"truncate",
	"format drive",
}

// Engine validates content and actions. Stateless apart from the
// injected process-wide rate-limit counters.
type Engine struct {
	limiter *ratelimit.Limiter

	// rateCategories maps an action category to the rate-limit counter
	// category it consumes.
	rateCategories map[string]string
}

// New creates an Engine around the shared limiter.
func New(limiter *ratelimit.Limiter) *Engine {
	return &Engine{
		limiter: limiter,
		rateCategories: map[string]string{
			CategorySendCommunication: "send-email",
			"create-event":            "create-event",
		},
	}
}

// ValidateContent scans text for sensitive patterns and returns one
// block-severity event per triggered rule. The text itself is never
// modified or excerpted into the events.
func (e *Engine) ValidateContent(text string) []Event {
	var events []Event
	for _, p := range sensitivePatterns {
		if p.pattern.MatchString(text) {
			events = append(events, Event{
				Rule:      p.rule,
				Severity:  SeverityBlock,
				Fragment:  "content matched " + p.rule + " pattern",
				Timestamp: time.Now(),
			})
		}
	}
	return events
}

// ClassifyAction infers an action category from its description when the
// capability did not supply one. Destructive phrasing maps to
// bulk-operation; everything else is left uncategorized.
func (e *Engine) ClassifyAction(description string) string {
	lower := strings.ToLower(description)
	for _, kw := range destructiveKeywords {
		if strings.Contains(lower, kw) {
			return CategoryBulkOperation
		}
	}
	return ""
}

// ValidateAction decides whether a side-effecting action may proceed.
// Bulk and destructive categories always require approval regardless of
// content. Other categories block on flagged content, then on exhausted
// rate limit (with a reason distinguishable from content blocks), and
// otherwise allow. Validation never consumes quota; callers invoke
// RecordAction once the action actually proceeds.
func (e *Engine) ValidateAction(description, category string) Decision {
	if category == "" {
		category = e.ClassifyAction(description)
	}

	if category == CategoryDeleteResource || category == CategoryBulkOperation {
		return Decision{
			Verdict: VerdictRequireApproval,
			Rule:    category,
			Events: []Event{{
				Rule:      category,
				Severity:  SeverityWarn,
				Fragment:  description,
				Timestamp: time.Now(),
			}},
		}
	}

	if events := e.ValidateContent(description); len(events) > 0 {
		return Decision{
			Verdict: VerdictBlock,
			Reason:  BlockContent,
			Rule:    events[0].Rule,
			Events:  events,
		}
	}

	if rateCategory, limited := e.rateCategories[category]; limited {
		if err := e.limiter.Check(rateCategory); err != nil {
			rlErr := err.(*ratelimit.Error)
			return Decision{
				Verdict:    VerdictBlock,
				Reason:     BlockRateLimit,
				Rule:       rateCategory,
				RetryAfter: rlErr.RetryAfter,
				Events: []Event{{
					Rule:      "rate-limit:" + rateCategory,
					Severity:  SeverityBlock,
					Fragment:  description,
					Timestamp: time.Now(),
				}},
			}
		}
	}

	return Decision{Verdict: VerdictAllow}
}

// RecordAction consumes quota for the action's category. Call strictly
// after the action is allowed to proceed so speculative checks stay free.
func (e *Engine) RecordAction(category string) {
	if rateCategory, limited := e.rateCategories[category]; limited {
		e.limiter.Record(rateCategory)
		return
	}
	e.limiter.Record(category)
}

// Limiter exposes the shared counters for the stats surface.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}
