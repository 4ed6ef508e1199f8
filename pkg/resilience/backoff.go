package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Backoff retries a unit of work with exponentially growing waits:
// the wait after failed attempt n (1-based) is BaseDelay * 2^(n-1), capped by
// MaxDelay when it is positive.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// IsRetryable decides whether a failed attempt may be retried. Nil retries everything.
	IsRetryable func(error) bool
	// Sleep waits for d or until ctx is done. Nil uses a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// RetryExhaustedError reports that every allowed attempt failed.
type RetryExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// IsRetryExhausted reports whether err came from a consumed retry budget.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

func NewBackoff(maxAttempts int, base, max time.Duration) Backoff {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	return Backoff{MaxAttempts: maxAttempts, BaseDelay: base, MaxDelay: max}
}

// Delay returns the wait that follows failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			break
		}
		if d > math.MaxInt64/2 {
			break
		}
		d *= 2
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		d = b.MaxDelay
	}
	return d
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget is consumed, or ctx is done. fn receives the 1-based attempt number.
// Exhaustion is reported as *RetryExhaustedError; a non-retryable error is
// returned as is. A provider retry hint longer than the computed delay wins.
func (b Backoff) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	maxAttempts := b.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := b.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}
		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if b.IsRetryable != nil && !b.IsRetryable(err) {
			return attempt, err
		}
		if attempt == maxAttempts {
			break
		}
		delay := b.Delay(attempt)
		if hint := RetryAfterOf(err); hint > delay {
			delay = hint
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return attempt, err
		}
	}
	return maxAttempts, &RetryExhaustedError{Attempts: maxAttempts, Err: lastErr}
}

// SleepContext waits for d or until ctx is done.
func SleepContext(ctx context.Context, d time.Duration) error {
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
