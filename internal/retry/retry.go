// package retry re-runs fallible operations with bounded exponential backoff.
//
// An error that carries a server wait hint (see [RetryAfterer]) gets a courtesy pause of exactly
// that hint before the next attempt, and that attempt is not charged to MaxAttempts. Hinted pauses
// are bounded separately by MaxHintedPauses so a server that always answers 429 still terminates.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/limiter"
	"github.com/desertthunder/genrelist/internal/shared"
)

const (
	DefaultMaxAttempts = 5
	DefaultMinWait     = 2 * time.Second
	DefaultMaxWait     = 30 * time.Second
)

// RetryAfterer is implemented by errors that carry a server-provided wait hint.
type RetryAfterer interface {
	RetryAfter() time.Duration
}

// Policy describes how an operation is retried. The zero value uses the defaults.
type Policy struct {
	Op              string // name used in logs and terminal errors
	MaxAttempts     int
	MinWait         time.Duration
	MaxWait         time.Duration
	MaxHintedPauses int
	Retryable       func(error) bool
	Logger          *log.Logger

	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration) error
}

// DefaultPolicy returns a policy with 5 attempts and 2s to 30s backoff.
func DefaultPolicy(op string) Policy {
	return Policy{Op: op}.withDefaults()
}

// FromConfig builds a policy from the [retry] config section.
func FromConfig(op string, c shared.RetryConfig, logger *log.Logger) Policy {
	return Policy{
		Op:          op,
		MaxAttempts: c.MaxAttempts,
		MinWait:     c.MinWait.Duration,
		MaxWait:     c.MaxWait.Duration,
		Logger:      logger,
	}.withDefaults()
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.MinWait <= 0 {
		p.MinWait = DefaultMinWait
	}
	if p.MaxWait <= 0 {
		p.MaxWait = DefaultMaxWait
	}
	if p.MaxWait < p.MinWait {
		p.MaxWait = p.MinWait
	}
	if p.MaxHintedPauses <= 0 {
		p.MaxHintedPauses = p.MaxAttempts
	}
	if p.Retryable == nil {
		p.Retryable = Transient
	}
	if p.sleep == nil {
		p.sleep = limiter.Sleep
	}
	return p
}

// Backoff returns the wait after the given failed attempt (1-based): MinWait doubled per attempt, capped at MaxWait.
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	wait := p.MinWait
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= p.MaxWait {
			return p.MaxWait
		}
	}
	return wait
}

// Do runs op until it succeeds, fails with a non-retryable error, or attempts run out.
//
// Non-retryable errors are returned unchanged. Exhaustion returns a [shared.Error] of kind
// [shared.KindTerminal] wrapping the last error.
func Do(ctx context.Context, p Policy, op func(context.Context) error) error {
	p = p.withDefaults()

	attempt, hinted := 1, 0
	for {
		err := op(ctx)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return err
		}
		if !p.Retryable(err) {
			return err
		}

		if hint := RetryAfterOf(err); hint > 0 && hinted < p.MaxHintedPauses {
			hinted++
			p.warn("rate limited, pausing for server hint", "attempt", attempt, "wait", hint, "error", err)
			if err := p.sleep(ctx, hint); err != nil {
				return err
			}
			continue
		}

		if attempt >= p.MaxAttempts {
			p.warn("giving up", "attempts", attempt, "error", err)
			return shared.NewError(shared.KindTerminal, fmt.Sprintf("%s: gave up after %d attempts", p.opName(), attempt), err)
		}

		wait := p.Backoff(attempt)
		p.warn("retrying", "attempt", attempt, "wait", wait, "error", err)
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
		attempt++
	}
}

// DoValue is [Do] for operations that return a value.
func DoValue[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (p Policy) opName() string {
	if p.Op == "" {
		return "operation"
	}
	return p.Op
}

func (p Policy) warn(msg string, kv ...any) {
	if p.Logger == nil {
		return
	}
	p.Logger.Warn(msg, append([]any{"op", p.opName()}, kv...)...)
}

// RetryAfterOf returns the wait hint carried by err, or 0.
func RetryAfterOf(err error) time.Duration {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0
}

// Transient is the default retry predicate: errors that declare themselves retryable, errors with
// a wait hint, and network errors. Context cancellation is never retried.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if RetryAfterOf(err) > 0 {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
