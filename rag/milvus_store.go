package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/internal/tlsutil"
	"github.com/BaSui01/cookgraph/types"
)

// =============================================================================
// 🗄️ Milvus 向量存储（REST API v2）
// =============================================================================

// MilvusConfig 配置 Milvus 向量存储
type MilvusConfig struct {
	// 连接设置
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url"` // 覆盖 host:port

	// 认证
	Username string `json:"username,omitempty" yaml:"username"`
	Password string `json:"password,omitempty" yaml:"password"`
	Token    string `json:"token,omitempty" yaml:"token"`

	// 集合设置
	Collection string `json:"collection" yaml:"collection"`
	Database   string `json:"database,omitempty" yaml:"database"`
	Dimension  int    `json:"dimension" yaml:"dimension"`

	// 行为设置
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout"`
	BatchSize int           `json:"batch_size,omitempty" yaml:"batch_size"`
}

// MilvusStore 基于 Milvus REST API v2 的向量存储，实现 VectorStore 接口
type MilvusStore struct {
	cfg     MilvusConfig
	baseURL string
	client  *http.Client
	logger  *zap.Logger

	ensureOnce sync.Once
	ensureErr  error
}

// NewMilvusStore 创建 Milvus 向量存储
func NewMilvusStore(cfg MilvusConfig, logger *zap.Logger) (*MilvusStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Collection) == "" {
		return nil, types.NewError(types.ErrConfiguration, "milvus collection name is required").
			WithComponent("milvus_store")
	}
	if cfg.Dimension <= 0 {
		return nil, types.NewError(types.ErrConfiguration, "milvus vector dimension must be positive").
			WithComponent("milvus_store")
	}

	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 19530
	}
	if cfg.Database == "" {
		cfg.Database = "default"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1000
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
	}

	return &MilvusStore{
		cfg:     cfg,
		baseURL: baseURL,
		client:  tlsutil.SecureHTTPClient(cfg.Timeout),
		logger:  logger.With(zap.String("component", "milvus_store")),
	}, nil
}

// milvusNamespace 用于从文档 ID 生成稳定的主键 UUID
var milvusNamespace = uuid.MustParse("7f1bfa21-3c44-4d02-9e5a-c80de6a9b3f1")

func milvusPointID(docID string) string {
	return uuid.NewSHA1(milvusNamespace, []byte(docID)).String()
}

func (s *MilvusStore) applyHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}
	if s.cfg.Username != "" && s.cfg.Password != "" {
		req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	}
}

// doJSON 执行 JSON 请求并解码响应。
// Milvus REST API 出错时仍可能返回 200，必须检查响应体里的 code。
func (s *MilvusStore) doJSON(ctx context.Context, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	s.applyHeaders(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return types.Newf(types.ErrConnection, "milvus unreachable: %v", err).
			WithRetryable(true).WithComponent("milvus_store")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var baseResp struct {
		Code    int    `json:"code"`
		Message string `json:"message,omitempty"`
	}
	if err := json.Unmarshal(respBody, &baseResp); err == nil && baseResp.Code != 0 {
		return fmt.Errorf("milvus error: code=%d message=%s", baseResp.Code, baseResp.Message)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("milvus request failed: path=%s status=%d body=%s",
			path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// ensureCollection 确保集合存在，进程内只创建一次
func (s *MilvusStore) ensureCollection(ctx context.Context) error {
	s.ensureOnce.Do(func() {
		s.ensureErr = s.createCollectionIfNotExists(ctx)
	})
	return s.ensureErr
}

func (s *MilvusStore) createCollectionIfNotExists(ctx context.Context) error {
	exists, err := s.HasCollection(ctx)
	if err != nil {
		s.logger.Warn("failed to check collection existence", zap.Error(err))
	}
	if exists {
		s.logger.Debug("collection already exists", zap.String("collection", s.cfg.Collection))
		return nil
	}

	if err := s.createCollection(ctx); err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	if err := s.createIndex(ctx); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	if err := s.loadCollection(ctx); err != nil {
		return fmt.Errorf("load collection: %w", err)
	}

	s.logger.Info("collection created and loaded",
		zap.String("collection", s.cfg.Collection),
		zap.Int("dimension", s.cfg.Dimension))
	return nil
}

// HasCollection 实现 VectorStore.HasCollection
func (s *MilvusStore) HasCollection(ctx context.Context) (bool, error) {
	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			HasCollection bool `json:"has"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/has", req, &resp); err != nil {
		return false, fmt.Errorf("check collection existence: %w", err)
	}
	return resp.Data.HasCollection, nil
}

func (s *MilvusStore) createCollection(ctx context.Context) error {
	schema := map[string]any{
		"autoId": false,
		"fields": []map[string]any{
			{
				"fieldName": "id",
				"dataType":  "VarChar",
				"isPrimary": true,
				"elementTypeParams": map[string]any{
					"max_length": 128,
				},
			},
			{
				"fieldName": "vector",
				"dataType":  "FloatVector",
				"elementTypeParams": map[string]any{
					"dim": s.cfg.Dimension,
				},
			},
			{
				"fieldName": "content",
				"dataType":  "VarChar",
				"elementTypeParams": map[string]any{
					"max_length": 65535,
				},
			},
			{
				"fieldName": "metadata",
				"dataType":  "JSON",
			},
			{
				"fieldName": "doc_id",
				"dataType":  "VarChar",
				"elementTypeParams": map[string]any{
					"max_length": 256,
				},
			},
		},
	}

	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
		"schema":         schema,
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/create", req, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

func (s *MilvusStore) createIndex(ctx context.Context) error {
	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
		"indexParams": []map[string]any{
			{
				"fieldName":  "vector",
				"indexName":  "vector_idx",
				"metricType": "COSINE",
				"indexType":  "IVF_FLAT",
				"params":     map[string]any{"nlist": 1024},
			},
		},
	}
	if err := s.doJSON(ctx, "/v2/vectordb/indexes/create", req, nil); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

func (s *MilvusStore) loadCollection(ctx context.Context) error {
	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/load", req, nil); err != nil {
		return fmt.Errorf("load collection %s: %w", s.cfg.Collection, err)
	}
	return nil
}

// AddDocuments 实现 VectorStore.AddDocuments，分批写入
func (s *MilvusStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	for i, doc := range docs {
		if doc.ID == "" {
			return types.Newf(types.ErrInvalidRequest, "document[%d] has empty id", i)
		}
		if len(doc.Embedding) != s.cfg.Dimension {
			return types.Newf(types.ErrConfiguration,
				"document[%d] embedding dimension mismatch: got=%d want=%d",
				i, len(doc.Embedding), s.cfg.Dimension)
		}
	}

	if err := s.ensureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	for i := 0; i < len(docs); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(docs) {
			end = len(docs)
		}
		if err := s.insertBatch(ctx, docs[i:end]); err != nil {
			return fmt.Errorf("insert batch %d-%d: %w", i, end, err)
		}
	}

	s.logger.Debug("milvus insert completed", zap.Int("count", len(docs)))
	return nil
}

func (s *MilvusStore) insertBatch(ctx context.Context, docs []Document) error {
	data := make([]map[string]any, 0, len(docs))
	for _, doc := range docs {
		metadata := doc.Metadata
		if metadata == nil {
			metadata = make(map[string]any)
		}
		data = append(data, map[string]any{
			"id":       milvusPointID(doc.ID),
			"vector":   doc.Embedding,
			"content":  truncateString(doc.Content, 65535),
			"metadata": metadata,
			"doc_id":   doc.ID,
		})
	}

	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
		"data":           data,
	}
	if err := s.doJSON(ctx, "/v2/vectordb/entities/insert", req, nil); err != nil {
		return fmt.Errorf("insert entities: %w", err)
	}
	return nil
}

// Search 实现 VectorStore.Search，按余弦相似度取前 topK
func (s *MilvusStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]VectorSearchResult, error) {
	if topK <= 0 {
		return []VectorSearchResult{}, nil
	}
	if len(queryEmbedding) == 0 {
		return nil, types.NewError(types.ErrInvalidRequest, "query embedding is required")
	}

	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
		"data":           [][]float32{queryEmbedding},
		"annsField":      "vector",
		"limit":          topK,
		"outputFields":   []string{"id", "content", "metadata", "doc_id"},
		"searchParams":   map[string]any{"nprobe": 16},
	}

	var resp struct {
		Code int `json:"code"`
		Data [][]struct {
			ID       string         `json:"id"`
			Distance float64        `json:"distance"`
			Entity   map[string]any `json:"entity"`
		} `json:"data"`
	}

	if err := s.doJSON(ctx, "/v2/vectordb/entities/search", req, &resp); err != nil {
		return nil, fmt.Errorf("search entities: %w", err)
	}

	results := make([]VectorSearchResult, 0)
	if len(resp.Data) > 0 {
		for _, hit := range resp.Data[0] {
			doc := Document{ID: hit.ID}
			if hit.Entity != nil {
				if docID, ok := hit.Entity["doc_id"].(string); ok {
					doc.ID = docID
				}
				if content, ok := hit.Entity["content"].(string); ok {
					doc.Content = content
				}
				if metadata, ok := hit.Entity["metadata"].(map[string]any); ok {
					doc.Metadata = metadata
				}
			}
			// COSINE 度量下距离即相似度
			results = append(results, VectorSearchResult{
				Document: doc,
				Score:    hit.Distance,
				Distance: hit.Distance,
			})
		}
	}
	return results, nil
}

// Count 实现 VectorStore.Count，取集合行数
func (s *MilvusStore) Count(ctx context.Context) (int, error) {
	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
	var resp struct {
		Code int `json:"code"`
		Data struct {
			RowCount int `json:"rowCount"`
		} `json:"data"`
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/get_stats", req, &resp); err != nil {
		return 0, fmt.Errorf("get collection stats: %w", err)
	}
	return resp.Data.RowCount, nil
}

// DropCollection 实现 VectorStore.DropCollection
func (s *MilvusStore) DropCollection(ctx context.Context) error {
	req := map[string]any{
		"dbName":         s.cfg.Database,
		"collectionName": s.cfg.Collection,
	}
	if err := s.doJSON(ctx, "/v2/vectordb/collections/drop", req, nil); err != nil {
		return fmt.Errorf("drop collection %s: %w", s.cfg.Collection, err)
	}
	s.logger.Info("collection dropped", zap.String("collection", s.cfg.Collection))
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
