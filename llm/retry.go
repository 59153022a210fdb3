package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/types"
)

// RetryPolicy 定义线性退避的重试策略。
// 第 n 次重试前等待 n × BackoffUnit。
type RetryPolicy struct {
	// 最大尝试次数（含首次）
	MaxAttempts int
	// 线性退避的时间单位
	BackoffUnit time.Duration
	// 重试回调（可选）
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryPolicy 返回默认重试策略：3 次尝试，1 秒线性退避
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BackoffUnit: time.Second,
	}
}

// Retryer 基于线性退避的重试器
type Retryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewRetryer 创建重试器
func NewRetryer(policy *RetryPolicy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.BackoffUnit <= 0 {
		policy.BackoffUnit = time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do 执行 fn，失败时按线性退避重试。
// 不可重试的错误（types.IsRetryable 为假且带有错误码）立即返回。
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := time.Duration(attempt-1) * r.policy.BackoffUnit

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.policy.MaxAttempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		// 配置类错误重试没有意义
		if types.GetErrorCode(lastErr) != "" && !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("all %d attempts failed: %w", r.policy.MaxAttempts, lastErr)
}
