// Package contextmgr keeps a session's reasoning context bounded. It
// tracks the character and message thresholds, folds the oldest visible
// messages into a superseding summary when a threshold is exceeded, and
// assembles the working-context view (summary + recent window) that
// every reasoning call receives in place of the raw log.
package contextmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/workspace-agents/orchestrator/core/protocol"
	"github.com/workspace-agents/orchestrator/observability"
	"github.com/workspace-agents/orchestrator/session"
)

// Context manager event types.
const (
	EventSummarizeStart    observability.EventType = "contextmgr.summarize.start"
	EventSummarizeComplete observability.EventType = "contextmgr.summarize.complete"
	EventSummarizeFailed   observability.EventType = "contextmgr.summarize.failed"
)

// ErrSummarizerUnavailable is returned when the summarization call fails
// and the context cannot be brought back under budget. The router fails
// only the affected request, never proceeds with an unbounded context.
var ErrSummarizerUnavailable = errors.New("summarizer unavailable")

// Summarizer compresses old messages into bounded text. Implementations
// wrap an external reasoning call and should be near-idempotent for
// identical input.
type Summarizer interface {
	Summarize(ctx context.Context, old []protocol.Message, targetLength int) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, old []protocol.Message, targetLength int) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, old []protocol.Message, targetLength int) (string, error) {
	return f(ctx, old, targetLength)
}

// Manager enforces the context thresholds for sessions. It holds no
// per-session state of its own; all state lives in the Session it is
// given.
type Manager struct {
	cfg        Config
	summarizer Summarizer
	observer   observability.Observer
}

// New creates a Manager with the given thresholds and summarizer.
// A nil observer defaults to the no-op observer.
func New(cfg Config, summarizer Summarizer, observer observability.Observer) *Manager {
	if observer == nil {
		observer = observability.NoOpObserver{}
	}
	return &Manager{cfg: cfg, summarizer: summarizer, observer: observer}
}

// Record appends a message to the session log and re-checks the
// thresholds, summarizing if either is exceeded.
func (m *Manager) Record(ctx context.Context, s *session.Session, msg protocol.Message) error {
	s.Append(msg)
	return m.MaybeSummarize(ctx, s)
}

// WorkingContext returns the bounded view for reasoning calls: the live
// summary (logically first) plus the visible message window.
func (m *Manager) WorkingContext(s *session.Session) protocol.WorkingContext {
	wc := protocol.WorkingContext{Recent: s.Visible()}
	if sum := s.CurrentSummary(); sum != nil {
		wc.Summary = sum.Text
	}
	return wc
}

// NeedsSummarization reports whether either threshold is exceeded.
func (m *Manager) NeedsSummarization(s *session.Session) bool {
	visible := s.Visible()
	if len(visible) > m.cfg.MaxVisibleMessages {
		return true
	}
	return m.WorkingContext(s).Len() > m.cfg.MaxContextLength
}

// MaybeSummarize folds the oldest visible messages into the summary when
// a threshold is exceeded. A call under threshold is a no-op and does not
// mutate the existing summary. The superseding summary covers the old
// summary text plus the folded messages; folded messages leave the
// visible window but stay in the session's audit log.
func (m *Manager) MaybeSummarize(ctx context.Context, s *session.Session) error {
	if !m.NeedsSummarization(s) {
		return nil
	}

	visible := s.Visible()

	// Keep the most recent messages in the window; fold the rest. Half
	// the visible cap keeps one summarization cycle from immediately
	// triggering the next.
	keep := m.cfg.MaxVisibleMessages / 2
	if keep < 1 {
		keep = 1
	}
	if keep >= len(visible) {
		keep = len(visible) - 1
	}
	if keep < 0 {
		return nil
	}
	fold := visible[:len(visible)-keep]
	if len(fold) == 0 {
		return nil
	}

	// The old summary is superseded, not appended to: re-summarize it
	// together with the newly folded messages.
	input := fold
	if sum := s.CurrentSummary(); sum != nil && sum.Text != "" {
		input = make([]protocol.Message, 0, len(fold)+1)
		input = append(input, protocol.Message{
			Role:    protocol.RoleSystem,
			Content: "Previous context summary: " + sum.Text,
		})
		input = append(input, fold...)
	}

	m.observer.OnEvent(ctx, observability.Event{
		Type:      EventSummarizeStart,
		Level:     observability.LevelVerbose,
		Timestamp: time.Now(),
		Source:    "contextmgr.MaybeSummarize",
		Data: map[string]any{
			"session_id":    s.ID(),
			"fold_count":    len(fold),
			"keep_count":    keep,
			"target_length": m.cfg.SummaryTargetLength,
		},
	})

	text, err := m.summarizer.Summarize(ctx, input, m.cfg.SummaryTargetLength)
	if err != nil && ctx.Err() == nil {
		// One retry before declaring the context unrecoverable for this
		// request.
		text, err = m.summarizer.Summarize(ctx, input, m.cfg.SummaryTargetLength)
	}
	if err != nil {
		m.observer.OnEvent(ctx, observability.Event{
			Type:      EventSummarizeFailed,
			Level:     observability.LevelError,
			Timestamp: time.Now(),
			Source:    "contextmgr.MaybeSummarize",
			Data: map[string]any{
				"session_id": s.ID(),
				"error":      err.Error(),
			},
		})
		return fmt.Errorf("%w: %w", ErrSummarizerUnavailable, err)
	}

	covered := 0
	if sum := s.CurrentSummary(); sum != nil {
		covered = sum.Covered
	}
	s.SetSummary(session.Summary{
		Text:    text,
		Covered: covered + len(fold),
	})

	m.observer.OnEvent(ctx, observability.Event{
		Type:      EventSummarizeComplete,
		Level:     observability.LevelInfo,
		Timestamp: time.Now(),
		Source:    "contextmgr.MaybeSummarize",
		Data: map[string]any{
			"session_id":     s.ID(),
			"summary_length": len(text),
			"visible_count":  keep,
		},
	})

	return nil
}
