package router_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/workspace-agents/orchestrator/capability"
	"github.com/workspace-agents/orchestrator/contextmgr"
	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/guardrail"
	"github.com/workspace-agents/orchestrator/guardrail/ratelimit"
	"github.com/workspace-agents/orchestrator/observability"
	"github.com/workspace-agents/orchestrator/router"
	"github.com/workspace-agents/orchestrator/session"
)

// recordingObserver captures emitted events for assertions.
type recordingObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (o *recordingObserver) OnEvent(ctx context.Context, ev observability.Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) has(typ observability.EventType) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, ev := range o.events {
		if ev.Type == typ {
			return true
		}
	}
	return false
}

func newTestRouter(t *testing.T, opts ...router.Option) *router.Router {
	t.Helper()

	opts = append([]router.Option{router.WithObserver(observability.NoOpObserver{})}, opts...)
	r, err := router.New(nil, opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return r
}

func register(t *testing.T, r *router.Router, id string, fn func(ctx context.Context, task protocol.Task) (capability.Result, error)) {
	t.Helper()
	if err := r.Registry().Register(capability.Func{Name: protocol.CapabilityID(id), Fn: fn}); err != nil {
		t.Fatalf("Register %s failed: %v", id, err)
	}
}

func completed(payload string) func(ctx context.Context, task protocol.Task) (capability.Result, error) {
	return func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Completed(payload), nil
	}
}

func TestHandleRequest_SingleCapability(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "calendar", completed("No events today."))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "what changed on my calendar today")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}

	// A lone successful result passes through verbatim.
	if resp.Text != "No events today." {
		t.Errorf("got text %q, want %q", resp.Text, "No events today.")
	}
	if len(resp.Attributions) != 1 || resp.Attributions[0].Capability != "calendar" {
		t.Errorf("got attributions %+v, want one calendar entry", resp.Attributions)
	}
	if resp.Partial || resp.LoopTerminated {
		t.Error("clean single-capability response flagged partial or loop-terminated")
	}

	// Request and response both land in the conversation log.
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].Capability != "calendar" {
		t.Errorf("agent message attributed to %q, want calendar", msgs[1].Capability)
	}
}

func TestHandleRequest_FallbackToGeneral(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "general", completed("happy to help"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "hmm")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if len(resp.Attributions) != 1 || resp.Attributions[0].Capability != "general" {
		t.Errorf("got attributions %+v, want general", resp.Attributions)
	}
}

func TestHandleRequest_ClassifierFailureFallsBack(t *testing.T) {
	r := newTestRouter(t, router.WithClassifier(router.ClassifierFunc(
		func(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error) {
			return nil, errors.New("model endpoint unreachable")
		})))
	register(t, r, "general", completed("fallback answer"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "check my email")
	if err != nil {
		t.Fatalf("classifier failure must not fail the request: %v", err)
	}
	if resp.Text != "fallback answer" {
		t.Errorf("got text %q, want the general capability's answer", resp.Text)
	}
}

func TestHandleRequest_UnknownCandidateFiltered(t *testing.T) {
	r := newTestRouter(t, router.WithClassifier(router.ClassifierFunc(
		func(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error) {
			return []protocol.CapabilityID{"telepathy"}, nil
		})))
	register(t, r, "general", completed("fallback answer"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "do the thing")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if len(resp.Attributions) != 1 || resp.Attributions[0].Capability != "general" {
		t.Errorf("got attributions %+v, want general after filtering", resp.Attributions)
	}
}

func TestHandleRequest_DelegationChain(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "meeting", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("calendar", "today's schedule"), nil
	})
	register(t, r, "calendar", completed("Roadmap review at 10:00"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "prep for my next meeting")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if resp.Text != "Roadmap review at 10:00" {
		t.Errorf("got text %q, want the delegated capability's answer", resp.Text)
	}
	if len(resp.Attributions) != 1 || resp.Attributions[0].Capability != "calendar" {
		t.Errorf("got attributions %+v, want calendar", resp.Attributions)
	}
}

func TestHandleRequest_LoopTerminated(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("calendar", "need schedule"), nil
	})
	register(t, r, "calendar", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("mail", "need the invite email"), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "check my inbox")
	if err != nil {
		t.Fatalf("a delegation loop must terminate gracefully, got error: %v", err)
	}
	if !resp.LoopTerminated {
		t.Error("response not marked loop-terminated")
	}
	if resp.Text == "" {
		t.Error("loop-terminated response has no text")
	}

	// The rejection is auditable on the session trail.
	var found bool
	for _, ev := range s.GuardrailEvents() {
		if ev.Rule == "loop-guard" {
			found = true
		}
	}
	if !found {
		t.Error("loop rejection missing from the guardrail trail")
	}
}

func TestHandleRequest_DepthCap(t *testing.T) {
	r := newTestRouter(t)
	// a -> b -> c -> d would be hop four; the chain must stop at three.
	register(t, r, "general", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("task", "step two"), nil
	})
	register(t, r, "task", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("document", "step three"), nil
	})
	register(t, r, "document", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Delegate("meeting", "step four"), nil
	})
	register(t, r, "meeting", completed("should never run"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "hello")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if !resp.LoopTerminated {
		t.Error("depth-exhausted chain not marked loop-terminated")
	}
	for _, a := range resp.Attributions {
		if a.Capability == "meeting" {
			t.Error("hop past the depth cap was executed")
		}
	}
}

func TestHandleRequest_SensitiveInputRefused(t *testing.T) {
	r := newTestRouter(t)
	invoked := false
	register(t, r, "general", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		invoked = true
		return capability.Completed("leaked"), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "store my card 4111111111111111")
	if err != nil {
		t.Fatalf("refusal must be a response, not an error: %v", err)
	}
	if resp.Blocked == nil || resp.Blocked.Reason != guardrail.BlockContent {
		t.Fatalf("got blocked %+v, want a sensitive-content refusal", resp.Blocked)
	}
	if invoked {
		t.Error("capability saw input that should have been refused")
	}
	if len(s.GuardrailEvents()) == 0 {
		t.Error("refusal missing from the guardrail trail")
	}
	// The refusal text names the rule, never the matched value.
	if strings.Contains(resp.Text, "4111111111111111") {
		t.Error("refusal text leaks the sensitive value")
	}
}

func TestHandleRequest_ApprovalParksSession(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		if task.Approved {
			return capability.Completed("Purged: " + task.Action), nil
		}
		return capability.NeedsApproval("delete all archived emails", guardrail.CategoryBulkOperation), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "clean up my inbox messages")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if resp.Pending == nil {
		t.Fatal("expected a pending approval")
	}
	if resp.Pending.Capability != "mail" || resp.Pending.Category != guardrail.CategoryBulkOperation {
		t.Errorf("got pending %+v, want mail/bulk-operation", resp.Pending)
	}
	if !strings.Contains(resp.Text, "Approval required") {
		t.Errorf("got text %q, want an approval prompt", resp.Text)
	}

	// The parked session accepts nothing but the decision.
	if _, err := r.HandleRequest(context.Background(), s, "anything else"); !errors.Is(err, router.ErrApprovalPending) {
		t.Errorf("got %v, want ErrApprovalPending", err)
	}

	final, err := r.ResolveApproval(context.Background(), s, resp.Pending.ID, true)
	if err != nil {
		t.Fatalf("ResolveApproval failed: %v", err)
	}
	if !strings.Contains(final.Text, "Purged: delete all archived emails") {
		t.Errorf("got text %q, want the executed action", final.Text)
	}
	if s.Pending() != nil {
		t.Error("session still parked after resolution")
	}

	// Normal requests flow again.
	if _, err := r.HandleRequest(context.Background(), s, "check my inbox messages"); err != nil {
		t.Errorf("session unusable after approval: %v", err)
	}
}

func TestResolveApproval_Deny(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.NeedsApproval("delete all archived emails", guardrail.CategoryBulkOperation), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "clean up my inbox messages")
	if err != nil || resp.Pending == nil {
		t.Fatalf("setup failed: resp=%+v err=%v", resp, err)
	}

	final, err := r.ResolveApproval(context.Background(), s, resp.Pending.ID, false)
	if err != nil {
		t.Fatalf("ResolveApproval failed: %v", err)
	}
	if !strings.Contains(final.Text, "Cancelled") {
		t.Errorf("got text %q, want a cancellation notice", final.Text)
	}
	if s.Pending() != nil {
		t.Error("session still parked after denial")
	}
}

func TestResolveApproval_Errors(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.NeedsApproval("delete all archived emails", guardrail.CategoryBulkOperation), nil
	})
	s := session.New()

	if _, err := r.ResolveApproval(context.Background(), s, "ap-x", true); !errors.Is(err, router.ErrNoPendingApproval) {
		t.Errorf("got %v, want ErrNoPendingApproval", err)
	}

	resp, err := r.HandleRequest(context.Background(), s, "clean up my inbox messages")
	if err != nil || resp.Pending == nil {
		t.Fatalf("setup failed: resp=%+v err=%v", resp, err)
	}

	if _, err := r.ResolveApproval(context.Background(), s, "wrong-id", true); !errors.Is(err, router.ErrUnknownApproval) {
		t.Errorf("got %v, want ErrUnknownApproval", err)
	}
	// The mismatched id must not consume the pending approval.
	if s.Pending() == nil {
		t.Error("pending approval lost on id mismatch")
	}
}

func TestResolveApproval_HoldsSingleFlightGate(t *testing.T) {
	r := newTestRouter(t)
	started := make(chan struct{})
	release := make(chan struct{})
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		if task.Approved {
			close(started)
			<-release
			return capability.Completed("Purged: " + task.Action), nil
		}
		return capability.NeedsApproval("delete all archived emails", guardrail.CategoryBulkOperation), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "clean up my inbox messages")
	if err != nil || resp.Pending == nil {
		t.Fatalf("setup failed: resp=%+v err=%v", resp, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := r.ResolveApproval(context.Background(), s, resp.Pending.ID, true)
		done <- err
	}()

	// The resolution owns the session while the approved action runs; a
	// top-level request arriving in that window must be rejected, not
	// interleaved with the in-place context mutation.
	<-started
	if _, err := r.HandleRequest(context.Background(), s, "anything else"); !errors.Is(err, router.ErrSessionBusy) {
		t.Errorf("got %v, want ErrSessionBusy during approval execution", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("ResolveApproval failed: %v", err)
	}

	// The gate releases once the resolution completes.
	if _, err := r.HandleRequest(context.Background(), s, "check my inbox messages"); err != nil {
		t.Errorf("session unusable after resolution: %v", err)
	}
}

func TestHandleRequest_DegradedContextEmitsEvent(t *testing.T) {
	rec := &recordingObserver{}
	cfg := router.DefaultConfig()
	cfg.Context.MaxVisibleMessages = 1
	r, err := router.New(&cfg,
		router.WithObserver(rec),
		router.WithSummarizer(contextmgr.SummarizerFunc(
			func(ctx context.Context, old []protocol.Message, targetLength int) (string, error) {
				return "", errors.New("summarizer endpoint unreachable")
			})))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	register(t, r, "general", completed("happy to help"))
	s := session.New()

	// The agent message pushes the window over the visible cap; the failed
	// fold must degrade to an event, never lose the answer.
	resp, err := r.HandleRequest(context.Background(), s, "hello there")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if resp.Text != "happy to help" {
		t.Errorf("got text %q, want the capability answer despite the failed fold", resp.Text)
	}
	if !rec.has(router.EventContextDegraded) {
		t.Error("degraded-context event not emitted")
	}
}

func TestHandleRequest_AllowedActionExecutesImmediately(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		if task.Approved {
			return capability.Completed("Sent: " + task.Action), nil
		}
		return capability.NeedsApproval("send email: status update", guardrail.CategorySendCommunication), nil
	})
	s := session.New()

	// A clean send within quota proceeds without a human in the loop.
	resp, err := r.HandleRequest(context.Background(), s, "reply to the inbox thread")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if resp.Pending != nil {
		t.Fatalf("clean in-quota send parked the session: %+v", resp.Pending)
	}
	if !strings.Contains(resp.Text, "Sent: send email: status update") {
		t.Errorf("got text %q, want the executed send", resp.Text)
	}
}

func TestHandleRequest_RateLimitedActionRefused(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Limit{
		"send-email": {Max: 1, Window: time.Hour},
	})
	r := newTestRouter(t, router.WithLimiter(limiter))
	register(t, r, "mail", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		if task.Approved {
			return capability.Completed("Sent: " + task.Action), nil
		}
		return capability.NeedsApproval("send email: "+task.Text, guardrail.CategorySendCommunication), nil
	})
	s := session.New()

	if _, err := r.HandleRequest(context.Background(), s, "reply to the build failure email"); err != nil {
		t.Fatalf("first send failed: %v", err)
	}

	resp, err := r.HandleRequest(context.Background(), s, "reply to the renewal email")
	if err != nil {
		t.Fatalf("rate-limit refusal must be a response, not an error: %v", err)
	}
	if resp.Blocked == nil || resp.Blocked.Reason != guardrail.BlockRateLimit {
		t.Fatalf("got blocked %+v, want a rate-limit refusal", resp.Blocked)
	}
	if resp.Blocked.RetryAfter <= 0 {
		t.Error("rate-limit refusal missing retry-after hint")
	}
	if !strings.Contains(resp.Text, "rate limit") {
		t.Errorf("got text %q, want a rate limit explanation", resp.Text)
	}
}

func TestHandleRequest_CapabilityRetriesOnce(t *testing.T) {
	r := newTestRouter(t)
	calls := 0
	register(t, r, "calendar", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		calls++
		if calls == 1 {
			return capability.Result{}, errors.New("calendar backend flaked")
		}
		return capability.Completed("Roadmap review at 10:00"), nil
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "what's on my calendar")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if calls != 2 {
		t.Errorf("capability called %d times, want 2", calls)
	}
	if resp.Text != "Roadmap review at 10:00" {
		t.Errorf("got text %q, want the retried result", resp.Text)
	}
}

func TestHandleRequest_PersistentFailureIsPartial(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "calendar", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Result{}, errors.New("calendar backend down")
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "what's on my calendar")
	if err != nil {
		t.Fatalf("capability failure must not fail the request: %v", err)
	}
	if !resp.Partial {
		t.Error("response with a failed capability not marked partial")
	}
	if len(resp.Attributions) != 1 || resp.Attributions[0].Err == "" {
		t.Errorf("got attributions %+v, want one failed entry", resp.Attributions)
	}
}

func TestHandleRequest_FanOut(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", completed("2 unread messages"))
	register(t, r, "calendar", completed("Roadmap review at 10:00"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "check my email and calendar for today")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}

	if len(resp.Attributions) != 2 {
		t.Fatalf("got %d attributions, want 2", len(resp.Attributions))
	}
	// Deterministic order: candidates sort alphabetically.
	if resp.Attributions[0].Capability != "calendar" || resp.Attributions[1].Capability != "mail" {
		t.Errorf("got attribution order %+v, want calendar then mail", resp.Attributions)
	}
	if !strings.Contains(resp.Text, "[calendar] Roadmap review at 10:00") ||
		!strings.Contains(resp.Text, "[mail] 2 unread messages") {
		t.Errorf("got text %q, want labeled sections for both domains", resp.Text)
	}
}

func TestHandleRequest_FanOutPartialFailure(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "mail", completed("2 unread messages"))
	register(t, r, "calendar", func(ctx context.Context, task protocol.Task) (capability.Result, error) {
		return capability.Result{}, errors.New("calendar backend down")
	})
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "check my email and calendar for today")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if !resp.Partial {
		t.Error("fan-out with one failed branch not marked partial")
	}
	if !strings.Contains(resp.Text, "[mail] 2 unread messages") {
		t.Errorf("got text %q, want the successful branch preserved", resp.Text)
	}
	if !strings.Contains(resp.Text, "partial failure") {
		t.Errorf("got text %q, want an explicit partial-failure note", resp.Text)
	}
}

func TestHandleRequest_SessionBusy(t *testing.T) {
	r := newTestRouter(t)
	register(t, r, "general", completed("ok"))
	s := session.New()

	if !s.BeginRequest() {
		t.Fatal("BeginRequest failed")
	}
	defer s.EndRequest()

	if _, err := r.HandleRequest(context.Background(), s, "hello"); !errors.Is(err, router.ErrSessionBusy) {
		t.Errorf("got %v, want ErrSessionBusy", err)
	}
}

func TestHandleRequest_ClassificationQuotaExhausted(t *testing.T) {
	limiter := ratelimit.New(map[string]ratelimit.Limit{
		"llm-call": {Max: 0, Window: time.Minute},
	})
	classifierCalls := 0
	r := newTestRouter(t,
		router.WithLimiter(limiter),
		router.WithClassifier(router.ClassifierFunc(
			func(ctx context.Context, wc protocol.WorkingContext, userText string) ([]protocol.CapabilityID, error) {
				classifierCalls++
				return []protocol.CapabilityID{"calendar"}, nil
			})))
	register(t, r, "general", completed("fallback answer"))
	register(t, r, "calendar", completed("should not run"))
	s := session.New()

	resp, err := r.HandleRequest(context.Background(), s, "what's on my calendar")
	if err != nil {
		t.Fatalf("HandleRequest failed: %v", err)
	}
	if classifierCalls != 0 {
		t.Errorf("classifier called %d times with exhausted quota, want 0", classifierCalls)
	}
	if resp.Attributions[0].Capability != "general" {
		t.Errorf("got %q, want the default capability", resp.Attributions[0].Capability)
	}
}
