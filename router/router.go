// Package router implements the orchestration layer: it routes each user
// request to capabilities, prevents delegation loops, keeps the working
// context bounded, and gates every side-effecting action through the
// guardrail engine before it may execute.
//
//	r, err := router.New(&cfg, router.WithRegistry(reg))
//	resp, err := r.HandleRequest(ctx, sess, "what changed on my calendar today")
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/workspace-agents/orchestrator/capability"
	"github.com/workspace-agents/orchestrator/contextmgr"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail"
	"github.com/workspace-agents/orchestrator/guardrail/ratelimit"
	"github.com/workspace-agents/orchestrator/loopguard"
	"github.com/workspace-agents/orchestrator/observability"
	"github.com/workspace-agents/orchestrator/session"
)

// llmCallCategory is the rate-limit category consumed by classification
// calls.
const llmCallCategory = "llm-call"

// Option configures a Router after config-driven initialization.
type Option func(*Router)

// WithRegistry overrides the capability registry.
func WithRegistry(reg *capability.Registry) Option {
	return func(r *Router) { r.registry = reg }
}

// WithClassifier overrides the intent classifier.
func WithClassifier(c Classifier) Option {
	return func(r *Router) { r.classifier = c }
}

// WithSummarizer overrides the context summarizer.
func WithSummarizer(s contextmgr.Summarizer) Option {
	return func(r *Router) { r.summarizer = s }
}

// WithLimiter overrides the process-wide rate limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(r *Router) { r.limiter = l }
}

// WithObserver overrides the default SlogObserver.
func WithObserver(o observability.Observer) Option {
	return func(r *Router) { r.observer = o }
}

// Router is the top-level controller for a conversation. All capability
// invocations, loop checks, and guardrail decisions flow through it;
// capabilities never call each other directly.
type Router struct {
	registry   *capability.Registry
	classifier Classifier
	summarizer contextmgr.Summarizer
	contextMgr *contextmgr.Manager
	guard      *guardrail.Engine
	limiter    *ratelimit.Limiter
	observer   observability.Observer

	maxDepth          int
	fanoutTimeout     time.Duration
	defaultCapability protocol.CapabilityID
}

// New creates a Router from configuration. Functional options applied
// after initialization override any collaborator for testing or to plug
// in LLM-backed classifier/summarizer implementations.
func New(cfg *Config, opts ...Option) (*Router, error) {
	if cfg == nil {
		def := DefaultConfig()
		cfg = &def
	}

	observer := observability.Observer(observability.NewSlogObserver(defaultLogger()))
	if cfg.Observer != "" {
		resolved, err := observability.GetObserver(cfg.Observer)
		if err != nil {
			return nil, fmt.Errorf("resolve observer: %w", err)
		}
		observer = resolved
	}

	r := &Router{
		registry:          capability.NewRegistry(),
		classifier:        NewKeywordClassifier(),
		summarizer:        contextmgr.NewTruncatingSummarizer(),
		observer:          observer,
		maxDepth:          cfg.MaxDelegationDepth,
		fanoutTimeout:     time.Duration(cfg.FanoutTimeout),
		defaultCapability: cfg.DefaultCapability,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.limiter == nil {
		r.limiter = ratelimit.New(cfg.RateLimits)
	}
	r.guard = guardrail.New(r.limiter)
	r.contextMgr = contextmgr.New(cfg.Context, r.summarizer, r.observer)

	if r.maxDepth < 1 {
		r.maxDepth = loopguard.DefaultMaxDepth
	}
	if r.fanoutTimeout <= 0 {
		r.fanoutTimeout = defaultFanoutTimeout
	}
	if r.defaultCapability == "" {
		r.defaultCapability = protocol.General
	}

	return r, nil
}

// Registry returns the router's capability registry.
func (r *Router) Registry() *capability.Registry {
	return r.registry
}

// Guard returns the guardrail engine, for the stats surface.
func (r *Router) Guard() *guardrail.Engine {
	return r.guard
}

// ContextManager returns the context manager, for the stats surface.
func (r *Router) ContextManager() *contextmgr.Manager {
	return r.contextMgr
}

// chainOutcome accumulates the result of following one delegation chain.
type chainOutcome struct {
	entries        []Attribution
	pending        *session.PendingApproval
	blocked        *BlockedInfo
	loopTerminated bool
}

// HandleRequest processes one top-level user request and returns the
// final response. Only one request may be in flight per session; a
// session parked on a pending approval accepts nothing but the approval
// decision.
func (r *Router) HandleRequest(ctx context.Context, s *session.Session, userText string) (*FinalResponse, error) {
	if !s.BeginRequest() {
		if s.Pending() != nil {
			return nil, ErrApprovalPending
		}
		return nil, ErrSessionBusy
	}
	defer s.EndRequest()

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventRequestStart,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router.HandleRequest",
		Data: map[string]any{
			"session_id":   s.ID(),
			"input_length": len(userText),
		},
	})

	// Critical sensitive data in the raw request is refused before any
	// capability sees it.
	if events := r.guard.ValidateContent(userText); len(events) > 0 {
		for _, ev := range events {
			s.RecordGuardrailEvent(ev)
		}
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventGuardrailBlocked,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "router.HandleRequest",
			Data: map[string]any{
				"session_id": s.ID(),
				"rule":       events[0].Rule,
			},
		})
		resp := &FinalResponse{
			Text: fmt.Sprintf("Request refused: it appears to contain sensitive data (%s). Please remove it and try again.", events[0].Rule),
			Blocked: &BlockedInfo{
				Reason: guardrail.BlockContent,
				Rule:   events[0].Rule,
			},
		}
		return resp, nil
	}

	if err := r.contextMgr.Record(ctx, s, protocol.NewMessage(protocol.RoleUser, userText)); err != nil {
		// Summarization failed even after retry; refuse this request
		// rather than reason over an unbounded or stale context.
		return &FinalResponse{
			Text: "Context unavailable: the conversation history could not be compacted. Please retry, or clear the session history.",
		}, nil
	}

	wc := r.contextMgr.WorkingContext(s)
	candidates := r.classify(ctx, s, wc, userText)

	var out chainOutcome
	if len(candidates) > 1 {
		out = r.runFanout(ctx, s, candidates, userText, wc)
	} else {
		out = r.followChain(ctx, s, candidates[0], userText, wc)
	}

	return r.finish(ctx, s, out)
}

// ResolveApproval resumes a session parked on a pending action. Approve
// executes the action (re-validating rate limits first); deny cancels it.
func (r *Router) ResolveApproval(ctx context.Context, s *session.Session, approvalID string, approve bool) (*FinalResponse, error) {
	p := s.Pending()
	if p == nil {
		return nil, ErrNoPendingApproval
	}
	if p.ID != approvalID {
		return nil, ErrUnknownApproval
	}
	// Resume claims the in-flight slot so no top-level request can mutate
	// the context window while the resolution runs.
	if s.Resume() == nil {
		return nil, ErrNoPendingApproval
	}
	defer s.EndRequest()

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventApprovalResolved,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router.ResolveApproval",
		Data: map[string]any{
			"session_id": s.ID(),
			"capability": string(p.Capability),
			"approved":   approve,
		},
	})

	if !approve {
		out := chainOutcome{entries: []Attribution{{
			Capability: p.Capability,
			Text:       "Cancelled: " + p.Action,
		}}}
		return r.finish(ctx, s, out)
	}

	// Quota may have drained while the session was parked.
	if dec := r.guard.ValidateAction(p.Action, p.Category); dec.Verdict == guardrail.VerdictBlock {
		for _, ev := range dec.Events {
			s.RecordGuardrailEvent(ev)
		}
		return r.finish(ctx, s, chainOutcome{blocked: &BlockedInfo{
			Reason:     dec.Reason,
			Rule:       dec.Rule,
			RetryAfter: dec.RetryAfter,
		}})
	}

	r.guard.RecordAction(p.Category)

	task := p.Task
	task.Approved = true
	task.Action = p.Action

	out := chainOutcome{}
	res, err := r.invoke(ctx, p.Capability, task)
	switch {
	case err != nil:
		out.entries = []Attribution{{Capability: p.Capability, Err: err.Error()}}
	case res.Kind == capability.KindCompleted:
		out.entries = []Attribution{{Capability: p.Capability, Text: res.Payload}}
	default:
		out.entries = []Attribution{{
			Capability: p.Capability,
			Err:        fmt.Sprintf("capability returned %s after approval", res.Kind),
		}}
	}

	return r.finish(ctx, s, out)
}

// classify asks the intent classifier for candidate capabilities,
// tolerating classifier failure and unknown candidates by falling back to
// the default capability. Classification consumes llm-call quota; an
// exhausted quota skips the external call entirely.
func (r *Router) classify(ctx context.Context, s *session.Session, wc protocol.WorkingContext, userText string) []protocol.CapabilityID {
	var candidates []protocol.CapabilityID

	if err := r.limiter.Check(llmCallCategory); err == nil {
		r.limiter.Record(llmCallCategory)

		ids, err := r.classifier.Classify(ctx, wc, userText)
		if err != nil {
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventClassifierFailed,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "router.classify",
				Data: map[string]any{
					"session_id": s.ID(),
					"error":      err.Error(),
				},
			})
		} else {
			candidates = ids
		}
	}

	valid := candidates[:0]
	for _, id := range candidates {
		if r.registry.Has(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		valid = []protocol.CapabilityID{r.defaultCapability}
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventClassified,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "router.classify",
		Data: map[string]any{
			"session_id": s.ID(),
			"candidates": fmt.Sprint(valid),
		},
	})

	return valid
}

// followChain runs one sequential delegation chain starting at candidate.
// Every hop passes the loop guard before it is committed; a rejection
// ends the chain with a loop-terminated outcome answered from available
// context.
func (r *Router) followChain(ctx context.Context, s *session.Session, candidate protocol.CapabilityID, taskText string, wc protocol.WorkingContext) chainOutcome {
	var out chainOutcome

	for {
		allowed, reason := loopguard.Check(s.DelegationHistory(), candidate, r.maxDepth)
		if !allowed {
			s.RecordGuardrailEvent(guardrail.Event{
				Rule:      "loop-guard",
				Severity:  guardrail.SeverityWarn,
				Fragment:  fmt.Sprintf("%s rejected: %s", candidate, reason),
				Timestamp: time.Now(),
			})
			r.observer.OnEvent(ctx, observability.Event{
				Type:      EventLoopBlocked,
				Level:     observability.LevelWarning,
				Timestamp: time.Now(),
				Source:    "router.followChain",
				Data: map[string]any{
					"session_id": s.ID(),
					"candidate":  string(candidate),
					"reason":     string(reason),
				},
			})
			out.loopTerminated = true
			return out
		}

		rec := s.RecordDelegation(candidate, r.maxDepth)
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventDelegation,
			Level:     observability.LevelVerbose,
			Timestamp: time.Now(),
			Source:    "router.followChain",
			Data: map[string]any{
				"session_id": s.ID(),
				"capability": string(candidate),
				"depth":      rec.Depth,
			},
		})

		res, err := r.invoke(ctx, candidate, protocol.Task{Text: taskText, Context: wc})
		if err != nil {
			out.entries = append(out.entries, Attribution{Capability: candidate, Err: err.Error()})
			return out
		}

		switch res.Kind {
		case capability.KindCompleted:
			out.entries = append(out.entries, Attribution{Capability: candidate, Text: res.Payload})
			return out

		case capability.KindDelegate:
			candidate, taskText = res.Target, res.Task
			continue

		case capability.KindNeedsApproval:
			gated := r.gateAction(ctx, s, candidate, res, protocol.Task{Text: taskText, Context: wc})
			out.entries = append(out.entries, gated.entries...)
			out.pending = gated.pending
			out.blocked = gated.blocked
			return out
		}
	}
}

// gateAction passes a proposed side-effecting action through the
// guardrail engine: allow executes it immediately, require_approval parks
// the session, block refuses with the triggering rule category.
func (r *Router) gateAction(ctx context.Context, s *session.Session, id protocol.CapabilityID, res capability.Result, task protocol.Task) chainOutcome {
	var out chainOutcome

	dec := r.guard.ValidateAction(res.Action, res.Category)
	for _, ev := range dec.Events {
		s.RecordGuardrailEvent(ev)
	}

	switch dec.Verdict {
	case guardrail.VerdictBlock:
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventGuardrailBlocked,
			Level:     observability.LevelWarning,
			Timestamp: time.Now(),
			Source:    "router.gateAction",
			Data: map[string]any{
				"session_id": s.ID(),
				"capability": string(id),
				"reason":     string(dec.Reason),
				"rule":       dec.Rule,
			},
		})
		out.blocked = &BlockedInfo{
			Reason:     dec.Reason,
			Rule:       dec.Rule,
			RetryAfter: dec.RetryAfter,
		}
		return out

	case guardrail.VerdictRequireApproval:
		out.pending = &session.PendingApproval{
			ID:         uuid.Must(uuid.NewV7()).String(),
			Capability: id,
			Action:     res.Action,
			Category:   res.Category,
			Task:       task,
			CreatedAt:  time.Now(),
		}
		return out
	}

	// Allowed: consume quota and execute the action.
	r.guard.RecordAction(res.Category)

	task.Approved = true
	task.Action = res.Action

	final, err := r.invoke(ctx, id, task)
	switch {
	case err != nil:
		out.entries = append(out.entries, Attribution{Capability: id, Err: err.Error()})
	case final.Kind == capability.KindCompleted:
		out.entries = append(out.entries, Attribution{Capability: id, Text: final.Payload})
	default:
		out.entries = append(out.entries, Attribution{
			Capability: id,
			Err:        fmt.Sprintf("capability returned %s for an approved action", final.Kind),
		})
	}
	return out
}

// runFanout handles an explicit multi-domain request: every candidate is
// committed sequentially through the loop guard, then the surviving
// branches run concurrently. Delegate results coming back from branches
// are resolved sequentially after the join; the first pending approval
// wins and parks the session.
func (r *Router) runFanout(ctx context.Context, s *session.Session, candidates []protocol.CapabilityID, userText string, wc protocol.WorkingContext) chainOutcome {
	var out chainOutcome
	task := protocol.Task{Text: userText, Context: wc}

	var branches []branch
	for _, id := range candidates {
		allowed, reason := loopguard.Check(s.DelegationHistory(), id, r.maxDepth)
		if !allowed {
			s.RecordGuardrailEvent(guardrail.Event{
				Rule:      "loop-guard",
				Severity:  guardrail.SeverityWarn,
				Fragment:  fmt.Sprintf("%s rejected: %s", id, reason),
				Timestamp: time.Now(),
			})
			out.loopTerminated = true
			continue
		}
		s.RecordDelegation(id, r.maxDepth)
		branches = append(branches, branch{index: len(branches), id: id, task: task})
	}

	if len(branches) == 0 {
		out.loopTerminated = true
		return out
	}

	for _, res := range r.fanOut(ctx, branches) {
		if res.err != nil {
			out.entries = append(out.entries, Attribution{Capability: res.id, Err: res.err.Error()})
			continue
		}

		switch res.result.Kind {
		case capability.KindCompleted:
			out.entries = append(out.entries, Attribution{Capability: res.id, Text: res.result.Payload})

		case capability.KindDelegate:
			chained := r.followChain(ctx, s, res.result.Target, res.result.Task, wc)
			out.entries = append(out.entries, chained.entries...)
			out.loopTerminated = out.loopTerminated || chained.loopTerminated
			if chained.blocked != nil && out.blocked == nil {
				out.blocked = chained.blocked
			}
			if chained.pending != nil && out.pending == nil {
				out.pending = chained.pending
			}

		case capability.KindNeedsApproval:
			gated := r.gateAction(ctx, s, res.id, res.result, task)
			out.entries = append(out.entries, gated.entries...)
			if gated.blocked != nil && out.blocked == nil {
				out.blocked = gated.blocked
			}
			if gated.pending != nil && out.pending == nil {
				out.pending = gated.pending
			}
		}
	}

	return out
}

// finish converts a chain outcome into the final response, records it in
// the session, and parks the session when an approval is pending.
func (r *Router) finish(ctx context.Context, s *session.Session, out chainOutcome) (*FinalResponse, error) {
	var resp FinalResponse

	switch {
	case out.pending != nil:
		s.Park(*out.pending)
		resp = aggregate(out.entries)
		resp.Pending = &PendingAction{
			ID:         out.pending.ID,
			Capability: out.pending.Capability,
			Action:     out.pending.Action,
			Category:   out.pending.Category,
		}
		if resp.Text != "" {
			resp.Text += "\n\n"
		}
		resp.Text += "Approval required: " + out.pending.Action
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventApprovalPending,
			Level:     observability.LevelInfo,
			Timestamp: time.Now(),
			Source:    "router.finish",
			Data: map[string]any{
				"session_id":  s.ID(),
				"capability":  string(out.pending.Capability),
				"category":    out.pending.Category,
				"approval_id": out.pending.ID,
			},
		})

	case out.blocked != nil:
		resp = aggregate(out.entries)
		resp.Blocked = out.blocked
		if resp.Text != "" {
			resp.Text += "\n\n"
		}
		switch out.blocked.Reason {
		case guardrail.BlockRateLimit:
			resp.Text += fmt.Sprintf("Action refused: rate limit for %s exceeded. Retry after %s.",
				out.blocked.Rule, out.blocked.RetryAfter.Round(time.Second))
		default:
			resp.Text += fmt.Sprintf("Action refused: content triggered the %s rule.", out.blocked.Rule)
		}

	default:
		resp = aggregate(out.entries)
		if out.loopTerminated {
			resp.LoopTerminated = true
			if len(out.entries) == 0 {
				resp.Text = r.answerFromContext(s)
			}
		}
	}

	// The final response joins the conversation as an agent message. A
	// summarizer failure here must not lose the answer we already have.
	msg := protocol.NewMessage(protocol.RoleAgent, resp.Text)
	if len(resp.Attributions) == 1 {
		msg.Capability = resp.Attributions[0].Capability
	}
	if err := r.contextMgr.Record(ctx, s, msg); err != nil {
		r.observer.OnEvent(ctx, observability.Event{
			Type:      EventContextDegraded,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "router.finish",
			Data:      map[string]any{"session_id": s.ID(), "error": err.Error()},
		})
	}

	r.observer.OnEvent(ctx, observability.Event{
		Type:      EventResponse,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "router.finish",
		Data: map[string]any{
			"session_id":      s.ID(),
			"response_length": len(resp.Text),
			"attributions":    len(resp.Attributions),
			"partial":         resp.Partial,
			"loop_terminated": resp.LoopTerminated,
		},
	})

	return &resp, nil
}

// answerFromContext synthesizes a direct reply when the loop guard ended
// delegation before any capability completed. It reuses whatever the
// bounded context already holds instead of delegating further.
func (r *Router) answerFromContext(s *session.Session) string {
	wc := r.contextMgr.WorkingContext(s)

	// Most recent agent contribution, if any, is the best material.
	for i := len(wc.Recent) - 1; i >= 0; i-- {
		if wc.Recent[i].Role == protocol.RoleAgent && wc.Recent[i].Content != "" {
			return "I stopped handing this request between capabilities to avoid a loop. From what I already have: " +
				wc.Recent[i].Content
		}
	}
	if wc.Summary != "" {
		return "I stopped handing this request between capabilities to avoid a loop. Summary of the conversation so far: " +
			wc.Summary
	}
	return "I stopped handing this request between capabilities to avoid a loop, and I don't have enough context to answer directly. Could you rephrase the request?"
}
