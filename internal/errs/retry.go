package errs

import (
	"context"
	"time"
)

// RetryPolicy bounds the exponential backoff applied to transient failures.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

// DefaultRetry is the policy used for gateway and transcription calls.
var DefaultRetry = RetryPolicy{Attempts: 4, Base: 100 * time.Millisecond, Max: 2 * time.Second}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// policy is exhausted. Backoff doubles per attempt, capped at Max. A context
// timeout surfaces as "unknown outcome": the caller must re-query before
// resubmitting.
func Retry(ctx context.Context, policy RetryPolicy, fn func() error) error {
	delay := policy.Base
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.Max {
			delay = policy.Max
		}
	}
	return err
}
