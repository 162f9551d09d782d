// Package ratelimit implements the process-wide action counters shared by
// every session. The resource being protected (external API quota) is
// global to the process, so the limiter is one explicit service object
// injected into the guardrail engine, not a per-session structure.
//
// Windows are fixed, not sliding: each category's counter covers the
// window that began at the first recorded action, and resets to zero when
// that window elapses. A check never consumes quota; only Record does,
// and callers invoke Record strictly after an action is allowed to
// proceed.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Limit configures one operation category.
type Limit struct {
	// Max is the number of actions permitted per window.
	Max int `yaml:"max"`
	// Window is the fixed window duration.
	Window time.Duration `yaml:"window"`
}

// UnmarshalYAML accepts the window as a duration string ("1h", "60s").
func (l *Limit) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Max    int    `yaml:"max"`
		Window string `yaml:"window"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}

	window, err := time.ParseDuration(raw.Window)
	if err != nil {
		return fmt.Errorf("invalid rate limit window %q: %w", raw.Window, err)
	}

	l.Max = raw.Max
	l.Window = window
	return nil
}

// Error reports an exhausted category with a retry-after hint derived
// from the window boundary.
type Error struct {
	Category   string
	Max        int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: %d per %s, retry after %s",
		e.Category, e.Max, e.Window, e.RetryAfter.Round(time.Second))
}

type window struct {
	start time.Time
	count int
}

// Limiter tracks fixed-window counters per category. Safe for concurrent
// use; a single counter increment is atomic under the limiter mutex.
type Limiter struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]*window
	now     func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter with the given per-category limits. Categories
// without a configured limit are unlimited.
func New(limits map[string]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		limits:  make(map[string]Limit, len(limits)),
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for category, limit := range limits {
		l.limits[category] = limit
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultLimits returns the stock category limits: 10 outbound messages
// per hour, 20 calendar mutations per hour, 100 reasoning calls per
// minute.
func DefaultLimits() map[string]Limit {
	return map[string]Limit{
		"send-email":   {Max: 10, Window: time.Hour},
		"create-event": {Max: 20, Window: time.Hour},
		"llm-call":     {Max: 100, Window: time.Minute},
	}
}

// Check reports whether an action in category would be within quota. It
// never consumes quota, so speculative validation is free. A non-nil
// error is always *Error.
func (l *Limiter) Check(category string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(category)
}

// Record consumes one unit of quota for category. Call only after the
// action is actually allowed to proceed.
func (l *Limiter) Record(category string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, limited := l.limits[category]; !limited {
		return
	}

	w := l.currentWindow(category)
	w.count++
}

// Remaining returns the quota left in the current window, or -1 for
// unlimited categories.
func (l *Limiter) Remaining(category string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	limit, limited := l.limits[category]
	if !limited {
		return -1
	}

	used := 0
	if w := l.liveWindow(category); w != nil {
		used = w.count
	}
	remaining := limit.Max - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining
}

// Reset clears all counters, as on a known window boundary after restart.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string]*window)
}

// Snapshot reports per-category usage for the stats surface.
func (l *Limiter) Snapshot() map[string]Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	usage := make(map[string]Usage, len(l.limits))
	for category, limit := range l.limits {
		used := 0
		if w := l.liveWindow(category); w != nil {
			used = w.count
		}
		usage[category] = Usage{
			Max:    limit.Max,
			Used:   used,
			Window: limit.Window,
		}
	}
	return usage
}

// Usage is one category's standing within the current window.
type Usage struct {
	Max    int           `json:"max"`
	Used   int           `json:"used"`
	Window time.Duration `json:"window"`
}

// check assumes l.mu is held.
func (l *Limiter) check(category string) error {
	limit, limited := l.limits[category]
	if !limited {
		return nil
	}

	used := 0
	start := l.now()
	if w := l.liveWindow(category); w != nil {
		used = w.count
		start = w.start
	}
	if used < limit.Max {
		return nil
	}

	return &Error{
		Category:   category,
		Max:        limit.Max,
		Window:     limit.Window,
		RetryAfter: start.Add(limit.Window).Sub(l.now()),
	}
}

// liveWindow returns the unexpired window for category, or nil when none
// exists. Read-only: windows are anchored by currentWindow alone, so a
// speculative check cannot start a category's window. Assumes l.mu is
// held.
func (l *Limiter) liveWindow(category string) *window {
	w, exists := l.windows[category]
	if !exists || l.now().Sub(w.start) >= l.limits[category].Window {
		return nil
	}
	return w
}

// currentWindow returns the live window for category, creating a fresh
// one anchored at now when none exists or the fixed window has elapsed.
// Only Record calls this. Assumes l.mu is held.
func (l *Limiter) currentWindow(category string) *window {
	w := l.liveWindow(category)
	if w == nil {
		w = &window{start: l.now()}
		l.windows[category] = w
	}
	return w
}
