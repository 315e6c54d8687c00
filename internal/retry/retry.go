// Package retry is the single retry helper used by every fallible read
// path, replacing per-call-site retry loops with one parameterized policy.
package retry

import (
	"context"
	"math/rand"
	"time"

	clierr "github.com/buldozerch/plume-runner/internal/errors"
)

// Policy bounds one retryable operation. Classify decides whether an error
// is worth another attempt; OnFailure observes each classified failure (the
// workflow hooks proxy-health accounting in here) and may ask for an early
// stop.
type Policy struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	Classify    func(error) bool
	// OnFailure runs after each failed attempt. Returning false aborts the
	// loop immediately with the last error.
	OnFailure func(attempt int, err error) bool
}

// Do runs op until it succeeds, exhausts the attempt budget, hits a
// non-retryable error, or the context ends. The last error is returned
// untouched so callers can inspect its code.
func Do(ctx context.Context, policy Policy, op func() error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	classify := policy.Classify
	if classify == nil {
		classify = clierr.IsRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return clierr.Wrap(clierr.CodeInternal, "operation cancelled", err)
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if policy.OnFailure != nil && !policy.OnFailure(attempt, lastErr) {
			return lastErr
		}
		if attempt < attempts {
			if err := Sleep(ctx, jitter(policy.BackoffMin, policy.BackoffMax)); err != nil {
				return err
			}
		}
	}
	return lastErr
}

// Sleep waits d or until the context ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return clierr.Wrap(clierr.CodeInternal, "sleep cancelled", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// Jitter returns a uniform duration in [min, max].
func Jitter(min, max time.Duration) time.Duration {
	return jitter(min, max)
}

func jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)+1))
}
