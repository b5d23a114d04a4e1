// package limiter bounds outbound call rates with a per-key sliding window.
//
// A key holds up to Calls timestamps from the trailing Period. [Limiter.Acquire] returns at once while
// the window has room; otherwise it sleeps until the oldest timestamp leaves the window and checks again.
// The lock is never held while sleeping, so callers on other keys and new callers on the same key are
// never blocked by a waiter.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Budget allows Calls calls in any trailing Period.
type Budget struct {
	Calls  int
	Period time.Duration
}

func (b Budget) String() string {
	return fmt.Sprintf("%d/%s", b.Calls, b.Period)
}

func (b Budget) valid() bool {
	return b.Calls > 0 && b.Period > 0
}

// Limiter is safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	budgets map[string]Budget
	windows map[string][]time.Time
	now     func() time.Time
	logger  *log.Logger
}

// Option configures a [Limiter].
type Option func(*Limiter)

// WithLogger logs every suspension at debug level.
func WithLogger(l *log.Logger) Option {
	return func(lim *Limiter) { lim.logger = l }
}

// WithBudget sets the budget for key.
func WithBudget(key string, b Budget) Option {
	return func(lim *Limiter) { lim.budgets[key] = b }
}

// New creates a Limiter. Keys without a budget are not limited.
func New(opts ...Option) *Limiter {
	lim := &Limiter{
		budgets: make(map[string]Budget),
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(lim)
	}
	return lim
}

// SetBudget replaces the budget for key. Existing timestamps are kept.
func (l *Limiter) SetBudget(key string, b Budget) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.budgets[key] = b
}

// Budget returns the budget configured for key.
func (l *Limiter) Budget(key string) (Budget, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.budgets[key]
	return b, ok
}

// Acquire records a call for key, suspending until the window has room or ctx is done.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		wait, ok := l.reserve(key)
		if ok {
			return nil
		}

		if l.logger != nil {
			l.logger.Debug("rate limit reached, waiting", "key", key, "wait", wait)
		}
		if err := Sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// TryAcquire records a call for key only if the window has room.
func (l *Limiter) TryAcquire(key string) bool {
	_, ok := l.reserve(key)
	return ok
}

// reserve prunes the window and takes a slot, or reports how long until the oldest entry expires.
func (l *Limiter) reserve(key string) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[key]
	if !ok || !b.valid() {
		return 0, true
	}

	now := l.now()
	window := prune(l.windows[key], now, b.Period)

	if len(window) < b.Calls {
		l.windows[key] = append(window, now)
		return 0, true
	}

	l.windows[key] = window
	wait := window[0].Add(b.Period).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// InWindow returns how many calls for key fall inside the current window.
func (l *Limiter) InWindow(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[key]
	if !ok {
		return 0
	}
	l.windows[key] = prune(l.windows[key], l.now(), b.Period)
	return len(l.windows[key])
}

// prune drops timestamps at or before now-period. The slice is ordered oldest first.
func prune(window []time.Time, now time.Time, period time.Duration) []time.Time {
	cutoff := now.Add(-period)
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return window
	}
	return append(window[:0], window[i:]...)
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
