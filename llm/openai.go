package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/cookgraph/internal/tlsutil"
	"github.com/BaSui01/cookgraph/types"
)

// OpenAIConfig 配置 OpenAI 兼容端点的客户端（GLM、DeepSeek 等均走此协议）
type OpenAIConfig struct {
	// 服务地址，如 https://api.siliconflow.cn/v1
	BaseURL string `json:"base_url"`
	// API Key（必填）
	APIKey string `json:"api_key"`
	// 模型名
	Model string `json:"model"`
	// 默认温度
	Temperature float64 `json:"temperature,omitempty"`
	// 默认最大 Token 数
	MaxTokens int `json:"max_tokens,omitempty"`
	// 请求超时
	Timeout time.Duration `json:"timeout,omitempty"`
	// 每秒请求数限制，0 表示不限流
	RateLimitRPS float64 `json:"rate_limit_rps,omitempty"`
}

// OpenAIProvider 通过 OpenAI 兼容的 chat/completions 协议调用 LLM
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewOpenAIProvider 创建 OpenAI 兼容客户端。
// 缺少 API Key 属于配置错误，初始化阶段即失败。
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, types.NewError(types.ErrConfiguration, "llm api key is required").
			WithComponent("llm")
	}
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrConfiguration, "llm base url is required").
			WithComponent("llm")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}

	return &OpenAIProvider{
		cfg:     cfg,
		client:  tlsutil.SecureHTTPClient(timeout),
		limiter: limiter,
		logger:  logger.With(zap.String("component", "llm"), zap.String("model", cfg.Model)),
	}, nil
}

// Name 实现 Provider.Name
func (p *OpenAIProvider) Name() string { return "openai-compat" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *OpenAIProvider) buildRequest(req *GenerateRequest, stream bool) chatRequest {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	return chatRequest{
		Model:       p.cfg.Model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "llm endpoint unreachable").
			WithCause(err).WithRetryable(true).WithComponent("llm")
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, types.Newf(types.ErrGeneration, "llm request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload))).
			WithRetryable(retryable).WithComponent("llm")
	}

	return resp, nil
}

// Generate 实现 Provider.Generate
func (p *OpenAIProvider) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, types.NewError(types.ErrGeneration, "decode llm response").
			WithCause(err).WithComponent("llm")
	}
	if len(parsed.Choices) == 0 {
		return nil, types.NewError(types.ErrGeneration, "llm returned no choices").
			WithComponent("llm")
	}

	return &GenerateResponse{
		Content:          parsed.Choices[0].Message.Content,
		Model:            parsed.Model,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
	}, nil
}

// Stream 实现 Provider.Stream，解析 SSE 增量事件
func (p *OpenAIProvider) Stream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "" || payload == "[DONE]" {
				if payload == "[DONE]" {
					return
				}
				continue
			}

			var event chatStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				p.logger.Warn("skip malformed stream event", zap.Error(err))
				continue
			}
			if len(event.Choices) == 0 {
				continue
			}

			chunk := StreamChunk{
				Delta:        event.Choices[0].Delta.Content,
				FinishReason: event.Choices[0].FinishReason,
			}
			select {
			case out <- chunk:
			case <-ctx.Done():
				// 消费方提前取消，不是错误
				return
			}
		}

		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			streamErr := types.NewError(types.ErrGeneration, "llm stream interrupted").
				WithCause(err).WithRetryable(true).WithComponent("llm")
			select {
			case out <- StreamChunk{Err: streamErr}:
			case <-ctx.Done():
			}
		}
	}()

	return out, nil
}
