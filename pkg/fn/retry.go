package fn

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy configures the retry combinator. Which errors are retried is an
// explicit predicate on the policy, not inferred at call sites.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff maps a zero-based attempt number to the wait before the next try.
	Backoff func(attempt int) time.Duration
	// Retryable decides whether an error is worth another attempt.
	// A nil predicate retries everything.
	Retryable func(error) bool
	MaxWait   time.Duration
	Jitter    bool
}

// ExpBackoff returns a backoff function of base * 2^attempt.
func ExpBackoff(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base << attempt
	}
}

// DefaultPolicy retries three times with 1s/2s/4s backoff.
var DefaultPolicy = RetryPolicy{
	MaxAttempts: 3,
	Backoff:     ExpBackoff(time.Second),
	MaxWait:     30 * time.Second,
	Jitter:      true,
}

// Retry runs f up to MaxAttempts times, sleeping per the policy's backoff
// between attempts. It returns the last result once attempts are exhausted,
// the error is classified non-retryable, or ctx is cancelled.
func Retry[T any](ctx context.Context, p RetryPolicy, f func(context.Context) Result[T]) Result[T] {
	if p.Backoff == nil {
		p.Backoff = ExpBackoff(time.Second)
	}
	var result Result[T]

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		result = f(ctx)
		if result.IsOk() {
			return result
		}
		_, err := result.Unwrap()
		if p.Retryable != nil && !p.Retryable(err) {
			return result
		}
		if attempt == p.MaxAttempts-1 {
			break
		}

		wait := p.Backoff(attempt)
		if p.Jitter {
			wait = time.Duration(float64(wait) * (0.5 + rand.Float64()))
		}
		if p.MaxWait > 0 && wait > p.MaxWait {
			wait = p.MaxWait
		}

		select {
		case <-ctx.Done():
			return Err[T](ctx.Err())
		case <-time.After(wait):
		}
	}
	return result
}

// RetryStage wraps a Stage with retry logic.
func RetryStage[In, Out any](p RetryPolicy, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		return Retry(ctx, p, func(ctx context.Context) Result[Out] {
			return stage(ctx, in)
		})
	}
}
