// package outbound composes the guards every external call passes through.
//
// A guarded call is built from explicit middleware: the rate-limit gate runs first and is acquired once per
// logical call, the retry loop runs inside it, and the call itself runs last. Retries therefore never
// consume extra gate slots; the gate bounds how often a logical operation starts.
package outbound

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/limiter"
	"github.com/desertthunder/genrelist/internal/retry"
)

// Call is a single external operation.
type Call func(ctx context.Context) error

// Middleware wraps a [Call].
type Middleware func(Call) Call

// Chain applies middleware so that the first one listed is the outermost.
func Chain(call Call, mws ...Middleware) Call {
	for i := len(mws) - 1; i >= 0; i-- {
		call = mws[i](call)
	}
	return call
}

// WithRateLimit acquires a slot on key before running the call.
func WithRateLimit(lim *limiter.Limiter, key string) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			if lim != nil {
				if err := lim.Acquire(ctx, key); err != nil {
					return err
				}
			}
			return next(ctx)
		}
	}
}

// WithRetry re-runs the call under policy.
func WithRetry(policy retry.Policy) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			return retry.Do(ctx, policy, next)
		}
	}
}

// WithLogging logs the start and failure of each call at debug level.
func WithLogging(logger *log.Logger, op string) Middleware {
	return func(next Call) Call {
		return func(ctx context.Context) error {
			if logger == nil {
				return next(ctx)
			}
			logger.Debug("calling", "op", op)
			err := next(ctx)
			if err != nil {
				logger.Debug("call failed", "op", op, "error", err)
			}
			return err
		}
	}
}

// Guard bundles the limiter key and retry policy for one call site.
type Guard struct {
	Limiter *limiter.Limiter
	Key     string
	Policy  retry.Policy
	Logger  *log.Logger
}

// Wrap returns call guarded by the gate and then the retry loop.
func (g Guard) Wrap(call Call) Call {
	return Chain(call,
		WithRateLimit(g.Limiter, g.Key),
		WithRetry(g.Policy),
		WithLogging(g.Logger, g.Policy.Op),
	)
}

// Run runs call under g.
func (g Guard) Run(ctx context.Context, call Call) error {
	return g.Wrap(call)(ctx)
}

// Do runs a value-returning call under g.
func Do[T any](ctx context.Context, g Guard, call func(context.Context) (T, error)) (T, error) {
	var result T
	err := g.Run(ctx, func(ctx context.Context) error {
		v, err := call(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
