// Package llm 提供生成协作方的统一接口：prompt → text，以及流式变体。
package llm

import (
	"context"
)

// GenerateRequest 一次生成请求
type GenerateRequest struct {
	// 提示词
	Prompt string `json:"prompt"`
	// 系统提示词（可选）
	System string `json:"system,omitempty"`
	// 温度参数，0 使用 Provider 默认值
	Temperature float64 `json:"temperature,omitempty"`
	// 最大 Token 数，0 使用 Provider 默认值
	MaxTokens int `json:"max_tokens,omitempty"`
}

// GenerateResponse 一次生成的完整响应
type GenerateResponse struct {
	Content string `json:"content"`
	Model   string `json:"model,omitempty"`
	// Token 用量（部分端点不返回）
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
}

// StreamChunk 流式响应的增量片段。
// Err 非空表示流在该点失败，消费方应停止读取。
type StreamChunk struct {
	Delta        string `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
	Err          error  `json:"-"`
}

// Provider 定义统一的生成接口。
// 消费方可以随时通过取消 ctx 提前终止流式生成，这不是错误。
type Provider interface {
	// Generate 发起同步生成请求，返回完整响应
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResponse, error)

	// Stream 发起流式生成请求，返回增量片段通道。
	// 通道在流结束或出错后关闭。
	Stream(ctx context.Context, req *GenerateRequest) (<-chan StreamChunk, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
