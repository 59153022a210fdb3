package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/internal/tlsutil"
	"github.com/BaSui01/cookgraph/types"
)

// Embedder 嵌入协作方接口：text → float 向量，支持批量。
type Embedder interface {
	// Embed 嵌入单条文本
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch 批量嵌入，结果顺序与输入一致
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension 返回输出向量维度
	Dimension() int
}

// EmbedderConfig 配置 OpenAI 兼容的嵌入端点
type EmbedderConfig struct {
	// 服务地址
	BaseURL string `json:"base_url"`
	// API Key（本地服务可为空）
	APIKey string `json:"api_key,omitempty"`
	// 模型名，如 BAAI/bge-small-zh-v1.5
	Model string `json:"model"`
	// 输出维度
	Dimension int `json:"dimension"`
	// 单批最大文本数
	MaxBatch int `json:"max_batch,omitempty"`
	// 请求超时
	Timeout time.Duration `json:"timeout,omitempty"`
}

// HTTPEmbedder 通过 OpenAI 兼容的 /embeddings 端点生成向量
type HTTPEmbedder struct {
	cfg    EmbedderConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPEmbedder 创建嵌入客户端。维度非法属于配置错误。
func NewHTTPEmbedder(cfg EmbedderConfig, logger *zap.Logger) (*HTTPEmbedder, error) {
	if cfg.BaseURL == "" {
		return nil, types.NewError(types.ErrConfiguration, "embedding base url is required").
			WithComponent("embedder")
	}
	if cfg.Dimension <= 0 {
		return nil, types.NewError(types.ErrConfiguration, "embedding dimension must be positive").
			WithComponent("embedder")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 100
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPEmbedder{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(cfg.Timeout),
		logger: logger.With(zap.String("component", "embedder"), zap.String("model", cfg.Model)),
	}, nil
}

// Dimension 实现 Embedder.Dimension
func (e *HTTPEmbedder) Dimension() int { return e.cfg.Dimension }

// Embed 实现 Embedder.Embed
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedBatch 实现 Embedder.EmbedBatch，按 MaxBatch 切分请求
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.MaxBatch {
		end := start + e.cfg.MaxBatch
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := e.embedOnce(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	data, err := json.Marshal(embeddingRequest{Model: e.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(e.cfg.BaseURL, "/")+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, types.NewError(types.ErrConnection, "embedding endpoint unreachable").
			WithCause(err).WithRetryable(true).WithComponent("embedder")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, types.Newf(types.ErrConnection, "embedding request failed: status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(payload))).
			WithRetryable(resp.StatusCode >= 500).WithComponent("embedder")
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(texts), len(parsed.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		if len(item.Embedding) != e.cfg.Dimension {
			return nil, types.Newf(types.ErrConfiguration,
				"embedding dimension mismatch: want %d, got %d", e.cfg.Dimension, len(item.Embedding)).
				WithComponent("embedder")
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
