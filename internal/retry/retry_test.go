package retry

import (
	"context"
	"testing"
	"time"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
)

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func() error {
		calls++
		if calls < 3 {
			return clierr.New(clierr.CodeNetwork, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned %v, want nil", err)
	}
	if calls != 3 {
		t.Fatalf("op ran %d times, want 3", calls)
	}
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	rejection := clierr.New(clierr.CodeRejected, "reverted")
	err := Do(context.Background(), Policy{MaxAttempts: 5}, func() error {
		calls++
		return rejection
	})
	if clierr.CodeOf(err) != clierr.CodeRejected {
		t.Fatalf("Do returned %v, want the rejection", err)
	}
	if calls != 1 {
		t.Fatalf("op ran %d times, want 1", calls)
	}
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	err := Do(context.Background(), Policy{MaxAttempts: 3}, func() error {
		return clierr.New(clierr.CodeNetwork, "still down")
	})
	if clierr.CodeOf(err) != clierr.CodeNetwork {
		t.Fatalf("Do returned %v, want a network error", err)
	}
}

func TestDoOnFailureCanAbort(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{
		MaxAttempts: 5,
		OnFailure:   func(attempt int, err error) bool { return attempt < 2 },
	}, func() error {
		calls++
		return clierr.New(clierr.CodeNetwork, "down")
	})
	if err == nil {
		t.Fatal("Do returned nil, want the last error")
	}
	if calls != 2 {
		t.Fatalf("op ran %d times, want 2", calls)
	}
}

func TestDoRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Do(ctx, Policy{MaxAttempts: 3}, func() error {
		calls++
		return nil
	})
	if err == nil {
		t.Fatal("Do returned nil on a cancelled context")
	}
	if calls != 0 {
		t.Fatalf("op ran %d times after cancellation, want 0", calls)
	}
}

func TestSleepHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if err := Sleep(ctx, time.Minute); err == nil {
		t.Fatal("Sleep returned nil on a cancelled context")
	}
	if time.Since(start) > time.Second {
		t.Fatal("Sleep did not return promptly after cancellation")
	}
}

func TestSleepZeroReturnsImmediately(t *testing.T) {
	if err := Sleep(context.Background(), 0); err != nil {
		t.Fatalf("Sleep(0) = %v, want nil", err)
	}
}

func TestJitterStaysInBounds(t *testing.T) {
	min, max := 10*time.Millisecond, 50*time.Millisecond
	for i := 0; i < 200; i++ {
		d := Jitter(min, max)
		if d < min || d > max {
			t.Fatalf("Jitter returned %v outside [%v, %v]", d, min, max)
		}
	}
	if d := Jitter(max, min); d != max {
		t.Fatalf("Jitter with inverted bounds = %v, want %v", d, max)
	}
}
