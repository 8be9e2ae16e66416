package fn

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastPolicy(attempts int, retryable func(error) bool) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: attempts,
		Backoff:     func(int) time.Duration { return time.Millisecond },
		Retryable:   retryable,
	}
}

func TestRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), fastPolicy(3, nil), func(context.Context) Result[int] {
		calls++
		return Ok(42)
	})
	v, err := r.Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v)", v, err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_EventualSuccess(t *testing.T) {
	calls := 0
	r := Retry(context.Background(), fastPolicy(5, nil), func(context.Context) Result[string] {
		calls++
		if calls < 3 {
			return Errf[string]("transient %d", calls)
		}
		return Ok("done")
	})
	if r.IsErr() {
		_, err := r.Unwrap()
		t.Fatalf("expected ok, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	r := Retry(context.Background(), fastPolicy(4, nil), func(context.Context) Result[int] {
		calls++
		return Err[int](boom)
	})
	_, err := r.Unwrap()
	if !errors.Is(err, boom) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 4 {
		t.Errorf("expected 4 calls, got %d", calls)
	}
}

func TestRetry_NonRetryableStopsEarly(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	pred := func(err error) bool { return !errors.Is(err, fatal) }
	r := Retry(context.Background(), fastPolicy(5, pred), func(context.Context) Result[int] {
		calls++
		return Err[int](fatal)
	})
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
	_, err := r.Unwrap()
	if !errors.Is(err, fatal) {
		t.Errorf("got %v", err)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := RetryPolicy{MaxAttempts: 3, Backoff: func(int) time.Duration { return time.Hour }}
	r := Retry(ctx, p, func(context.Context) Result[int] {
		return Errf[int]("always fails")
	})
	_, err := r.Unwrap()
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExpBackoff(t *testing.T) {
	b := ExpBackoff(time.Second)
	for attempt, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second} {
		if got := b(attempt); got != want {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryStage(t *testing.T) {
	calls := 0
	stage := RetryStage(fastPolicy(3, nil), func(_ context.Context, in int) Result[int] {
		calls++
		if calls < 2 {
			return Errf[int]("nope")
		}
		return Ok(in * 2)
	})
	v, err := stage(context.Background(), 21).Unwrap()
	if err != nil || v != 42 {
		t.Fatalf("got (%d, %v)", v, err)
	}
}
