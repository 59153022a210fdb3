package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/types"
)

func TestRetryer_SucceedsFirstAttempt(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Millisecond}, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryer_LinearBackoff(t *testing.T) {
	var delays []time.Duration
	policy := &RetryPolicy{
		MaxAttempts: 3,
		BackoffUnit: 10 * time.Millisecond,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	}
	r := NewRetryer(policy, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	// 线性退避：第 n 次重试前等待 n × 单位时间
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, delays)
}

func TestRetryer_SucceedsAfterFailures(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Millisecond}, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryer_NonRetryableStopsImmediately(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Millisecond}, zap.NewNop())

	calls := 0
	err := r.Do(context.Background(), func() error {
		calls++
		return types.NewError(types.ErrConfiguration, "bad config")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrConfiguration, types.GetErrorCode(err))
}

func TestRetryer_ContextCancelDuringBackoff(t *testing.T) {
	r := NewRetryer(&RetryPolicy{MaxAttempts: 3, BackoffUnit: time.Second}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := r.Do(ctx, func() error {
		calls++
		return errors.New("transient")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}
