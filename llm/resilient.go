package llm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/internal/metrics"
	"github.com/BaSui01/cookgraph/types"
)

// FallbackAnswer 是生成流程全部失败后返回给用户的兜底回答。
// 调用方永远不会看到裸错误文本，也不会收到 panic。
const FallbackAnswer = "抱歉，生成回答时出现了问题，请稍后再试。"

// Client 在 Provider 之上提供带重试与降级的生成能力：
// 流式生成按线性退避重试，重试耗尽后降级为一次非流式调用，
// 仍失败则返回兜底回答。降级是硬性要求，不是可选优化。
type Client struct {
	provider Provider
	retryer  *Retryer
	policy   *RetryPolicy
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// ClientOption 配置 Client
type ClientOption func(*Client)

// WithRetryPolicy 覆盖默认重试策略
func WithRetryPolicy(policy *RetryPolicy) ClientOption {
	return func(c *Client) { c.policy = policy }
}

// WithMetrics 挂接指标收集器
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient 创建带重试与降级的生成客户端
func NewClient(provider Provider, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		provider: provider,
		logger:   logger.With(zap.String("component", "llm_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.policy == nil {
		c.policy = DefaultRetryPolicy()
	}
	if c.metrics != nil {
		base := c.policy.OnRetry
		c.policy.OnRetry = func(attempt int, err error, delay time.Duration) {
			c.metrics.RecordGenerationRetry()
			if base != nil {
				base(attempt, err, delay)
			}
		}
	}
	c.retryer = NewRetryer(c.policy, c.logger)
	return c
}

// Generate 同步生成，带重试；供关键词扩充等内部调用使用。
// 失败时返回错误而非兜底回答，调用方自行决定降级策略。
func (c *Client) Generate(ctx context.Context, req *GenerateRequest) (string, error) {
	var content string
	err := c.retryer.Do(ctx, func() error {
		resp, genErr := c.provider.Generate(ctx, req)
		if genErr != nil {
			return genErr
		}
		content = resp.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// GenerateAnswer 流式生成完整回答。
// onDelta 非空时每个增量片段都会回调一次，可用于边生成边展示；
// 消费方取消 ctx 即提前终止，返回已累计的内容。
// 全部重试与降级手段耗尽后返回 FallbackAnswer，绝不向调用方抛出异常。
func (c *Client) GenerateAnswer(ctx context.Context, req *GenerateRequest, onDelta func(string)) string {
	var content string

	// 重试会重新开始整个流；只向消费方转发尚未送达的后缀，避免重复片段
	delivered := 0
	var attemptText strings.Builder
	forward := func(delta string) {
		attemptText.WriteString(delta)
		if onDelta == nil {
			return
		}
		if attemptText.Len() > delivered {
			onDelta(attemptText.String()[delivered:])
			delivered = attemptText.Len()
		}
	}

	err := c.retryer.Do(ctx, func() error {
		attemptText.Reset()
		text, streamErr := c.consumeStream(ctx, req, forward)
		if streamErr != nil {
			return streamErr
		}
		content = text
		return nil
	})
	if err == nil {
		return content
	}
	if ctx.Err() != nil {
		// 调用方主动取消，返回已累计的内容即可
		return attemptText.String()
	}

	// 流式重试耗尽，降级为非流式调用
	c.logger.Warn("streaming generation exhausted retries, falling back", zap.Error(err))
	if c.metrics != nil {
		c.metrics.RecordGenerationFallback()
	}

	resp, fallbackErr := c.provider.Generate(ctx, req)
	if fallbackErr == nil {
		if onDelta != nil && len(resp.Content) > delivered {
			onDelta(resp.Content[delivered:])
		}
		return resp.Content
	}

	c.logger.Error("generation failed after retries and fallback",
		zap.Error(types.NewError(types.ErrGeneration, "all generation paths failed").
			WithCause(fallbackErr)))
	return FallbackAnswer
}

// consumeStream 消费一次流式生成，聚合全部增量
func (c *Client) consumeStream(ctx context.Context, req *GenerateRequest, onDelta func(string)) (string, error) {
	stream, err := c.provider.Stream(ctx, req)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for chunk := range stream {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		if chunk.Delta != "" {
			sb.WriteString(chunk.Delta)
			if onDelta != nil {
				onDelta(chunk.Delta)
			}
		}
	}
	return sb.String(), nil
}
