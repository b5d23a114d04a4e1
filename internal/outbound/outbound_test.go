package outbound

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/desertthunder/genrelist/internal/limiter"
	"github.com/desertthunder/genrelist/internal/retry"
)

type flaky struct{}

func (flaky) Error() string   { return "flaky" }
func (flaky) Retryable() bool { return true }

func fastPolicy(op string) retry.Policy {
	return retry.Policy{Op: op, MaxAttempts: 3, MinWait: time.Millisecond, MaxWait: time.Millisecond}
}

func TestChain(t *testing.T) {
	var order []string
	trace := func(name string) Middleware {
		return func(next Call) Call {
			return func(ctx context.Context) error {
				order = append(order, name)
				return next(ctx)
			}
		}
	}

	call := Chain(func(context.Context) error {
		order = append(order, "call")
		return nil
	}, trace("gate"), trace("retry"))

	if err := call(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if want := []string{"gate", "retry", "call"}; !slices.Equal(order, want) {
		t.Errorf("expected %v, got %v", want, order)
	}
}

func TestGuard(t *testing.T) {
	ctx := context.Background()

	t.Run("Gate Acquired Once Per Logical Call", func(t *testing.T) {
		lim := limiter.New(limiter.WithBudget("catalog", limiter.Budget{Calls: 10, Period: time.Hour}))
		g := Guard{Limiter: lim, Key: "catalog", Policy: fastPolicy("catalog.track")}

		calls := 0
		err := g.Run(ctx, func(context.Context) error {
			calls++
			if calls < 3 {
				return flaky{}
			}
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
		if n := lim.InWindow("catalog"); n != 1 {
			t.Errorf("retries should not take extra gate slots, window has %d", n)
		}
	})

	t.Run("Gate Error Skips Call", func(t *testing.T) {
		lim := limiter.New(limiter.WithBudget("create", limiter.Budget{Calls: 1, Period: time.Hour}))
		lim.TryAcquire("create")
		g := Guard{Limiter: lim, Key: "create", Policy: fastPolicy("create")}

		ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		called := false
		err := g.Run(ctx, func(context.Context) error {
			called = true
			return nil
		})
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
		if called {
			t.Error("call should not run without a gate slot")
		}
	})

	t.Run("Nil Limiter", func(t *testing.T) {
		g := Guard{Policy: fastPolicy("open")}
		got, err := Do(ctx, g, func(context.Context) (int, error) { return 42, nil })
		if err != nil || got != 42 {
			t.Errorf("expected 42, got %d, %v", got, err)
		}
	})
}
