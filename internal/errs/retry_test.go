package errs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testRetry = RetryPolicy{Attempts: 3, Base: time.Millisecond, Max: 4 * time.Millisecond}

func TestRetryRecoversFromTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testRetry, func() error {
		calls++
		if calls < 3 {
			return &TransientError{Op: "transcribe", Err: errors.New("timeout")}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	perm := &ValidationError{Field: "audio", Reason: "empty"}
	err := Retry(context.Background(), testRetry, func() error {
		calls++
		return perm
	})
	assert.Equal(t, 1, calls)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestRetryExhaustsPolicy(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), testRetry, func() error {
		calls++
		return &TransientError{Op: "publish", Err: errors.New("broker down")}
	})
	assert.Equal(t, testRetry.Attempts, calls)
	assert.True(t, IsTransient(err))
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Retry(ctx, RetryPolicy{Attempts: 10, Base: 50 * time.Millisecond, Max: time.Second}, func() error {
		calls++
		cancel()
		return &TransientError{Op: "transcribe", Err: errors.New("timeout")}
	})
	assert.Equal(t, 1, calls)
	require.ErrorIs(t, err, context.Canceled)
}

func TestIsTransientUnwraps(t *testing.T) {
	inner := errors.New("connection reset")
	wrapped := &TransientError{Op: "dial", Err: inner}
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(inner))
	assert.False(t, IsTransient(nil))
}
