package rag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/llm"
)

const enrichmentSystemPrompt = `你是烹饪知识索引助手。给定一条菜谱关系描述，` +
	`输出 3 到 5 个简短的中文主题词用于检索索引。` +
	`只输出 JSON，格式严格为 {"keywords": ["词1", "词2", "词3"]}，不要任何其他内容。`

// LLMKeywordEnricher 用 LLM 为关系记录建议主题词，实现 KeywordEnricher。
// 响应走严格 JSON 校验，不符合结构时由调用方整体放弃扩展。
type LLMKeywordEnricher struct {
	client *llm.Client
	logger *zap.Logger
}

// NewLLMKeywordEnricher 创建关键词扩展器
func NewLLMKeywordEnricher(client *llm.Client, logger *zap.Logger) *LLMKeywordEnricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMKeywordEnricher{
		client: client,
		logger: logger.With(zap.String("component", "keyword_enricher")),
	}
}

// SuggestKeywords 实现 KeywordEnricher.SuggestKeywords
func (e *LLMKeywordEnricher) SuggestKeywords(ctx context.Context, content string) ([]string, error) {
	raw, err := e.client.Generate(ctx, &llm.GenerateRequest{
		System: enrichmentSystemPrompt,
		Prompt: fmt.Sprintf("关系描述：%s", content),
	})
	if err != nil {
		return nil, fmt.Errorf("keyword suggestion: %w", err)
	}
	return ParseKeywordResponse(raw)
}
