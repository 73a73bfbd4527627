package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errFlaky = errors.New("connection reset")

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestDoSucceedsAfterRetries(t *testing.T) {
	calls := 0
	var retried []int
	p := fastPolicy(5)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		retried = append(retried, attempt)
	}

	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if len(retried) != 2 || retried[0] != 1 || retried[1] != 2 {
		t.Errorf("unexpected OnRetry attempts: %v", retried)
	}
}

func TestDoGivesUp(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls++
		return errFlaky
	})
	if !errors.Is(err, errFlaky) {
		t.Fatalf("expected wrapped errFlaky, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	permanent := errors.New("syntax error")
	p := fastPolicy(5)
	p.Retryable = func(err error) bool { return errors.Is(err, errFlaky) }

	calls := 0
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Fatalf("expected permanent error unchanged, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not be retried, got %d calls", calls)
	}
}

func TestDoHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := fastPolicy(10)
	p.InitialDelay = time.Hour
	p.MaxDelay = time.Hour
	p.OnRetry = func(int, error, time.Duration) { cancel() }

	err := Do(ctx, p, func(ctx context.Context) error { return errFlaky })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestValueReturnsResult(t *testing.T) {
	calls := 0
	n, err := Value(context.Background(), fastPolicy(3), func(ctx context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})
	if err != nil || n != 42 {
		t.Fatalf("expected 42, got %d, %v", n, err)
	}
}

func TestDelayBounds(t *testing.T) {
	p := Policy{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}

	if d := p.delay(1); d != 100*time.Millisecond {
		t.Errorf("attempt 1 delay = %s", d)
	}
	if d := p.delay(3); d != 400*time.Millisecond {
		t.Errorf("attempt 3 delay = %s", d)
	}
	if d := p.delay(10); d != time.Second {
		t.Errorf("delay should be capped at MaxDelay, got %s", d)
	}

	p.JitterFactor = 0.5
	for i := 0; i < 50; i++ {
		d := p.delay(1)
		if d < 50*time.Millisecond || d > 150*time.Millisecond {
			t.Fatalf("jittered delay %s out of range", d)
		}
	}
}
