package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Policy describes how often and how patiently a failing call is retried.
// Base delay doubles on each attempt: 200ms -> 400ms -> 800ms, etc., capped
// at MaxDelay. Random jitter of 0-50% of the current delay is added to avoid
// thundering herd.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep can be replaced in unit tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// Default is the policy used for tracking-store and notification transports
// unless configured otherwise.
var Default = Policy{MaxAttempts: 4, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent wraps err so that Do returns it immediately instead of retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// Do executes fn up to p.MaxAttempts times with jittered exponential backoff
// and returns the last error. It gives up early when ctx is done or fn
// returns a Permanent error.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	delay := p.BaseDelay
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if IsPermanent(lastErr) || attempt == maxAttempts {
			break
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if err := sleep(ctx, delay+jitter(delay)); err != nil {
			return lastErr
		}
		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}
	return lastErr
}

func jitter(delay time.Duration) time.Duration {
	if delay/2 <= 0 {
		return 0
	}
	//nolint:gosec // not crypto-relevant
	return time.Duration(rand.Int63n(int64(delay / 2)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
