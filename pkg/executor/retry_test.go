package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	out, err := Run(context.Background(), "op", RetryPolicy{MaxRetries: 3, Delay: time.Millisecond}, func(ctx context.Context) (string, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, 1, calls)
}

func TestRunRecoversAfterFailures(t *testing.T) {
	calls := 0
	out, err := Run(context.Background(), "op", RetryPolicy{MaxRetries: 5, Delay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, out)
	assert.Equal(t, 3, calls)
}

func TestRunExhaustsRetries(t *testing.T) {
	calls := 0
	last := errors.New("still broken")
	_, err := Run(context.Background(), "op", RetryPolicy{MaxRetries: 2, Delay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, last
	})
	require.Error(t, err)
	assert.Equal(t, last, err)
	// first attempt plus two retries
	assert.Equal(t, 3, calls)
}

func TestRunPermanentErrorNotRetried(t *testing.T) {
	calls := 0
	boom := errors.New("do not retry")
	_, err := Run(context.Background(), "op", RetryPolicy{MaxRetries: 5, Delay: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, Permanent(boom)
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRunTimeoutDistinctFromFailure(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 100, Delay: 10 * time.Millisecond, Timeout: 35 * time.Millisecond}
	_, err := Run(context.Background(), "slow-op", policy, func(ctx context.Context) (int, error) {
		return 0, errors.New("flaky")
	})
	require.Error(t, err)

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow-op", timeoutErr.Op)
	assert.EqualError(t, timeoutErr.Cause, "flaky")
}
