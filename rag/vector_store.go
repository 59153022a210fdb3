package rag

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// VectorStore 向量存储协作方契约
type VectorStore interface {
	// 批量写入文档
	AddDocuments(ctx context.Context, docs []Document) error

	// 按余弦相似度搜索前 topK 个文档
	Search(ctx context.Context, queryEmbedding []float32, topK int) ([]VectorSearchResult, error)

	// 文档总数
	Count(ctx context.Context) (int, error)

	// 集合是否已存在
	HasCollection(ctx context.Context) (bool, error)

	// 删除整个集合
	DropCollection(ctx context.Context) error
}

// VectorSearchResult 向量搜索结果
type VectorSearchResult struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
	Distance float64  `json:"distance"`
}

// ===== 💾 内存向量存储（测试与嵌入式场景）=====

// InMemoryVectorStore 内存向量存储，实现 VectorStore 接口
type InMemoryVectorStore struct {
	mu        sync.RWMutex
	documents []Document
	logger    *zap.Logger
}

// NewInMemoryVectorStore 创建内存向量存储
func NewInMemoryVectorStore(logger *zap.Logger) *InMemoryVectorStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryVectorStore{
		logger: logger.With(zap.String("component", "memory_vector_store")),
	}
}

// AddDocuments 实现 VectorStore.AddDocuments
func (s *InMemoryVectorStore) AddDocuments(ctx context.Context, docs []Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, doc := range docs {
		if len(doc.Embedding) == 0 {
			s.logger.Warn("document without embedding skipped", zap.String("id", doc.ID))
			continue
		}
		s.documents = append(s.documents, doc)
	}
	return nil
}

// Search 实现 VectorStore.Search
func (s *InMemoryVectorStore) Search(ctx context.Context, queryEmbedding []float32, topK int) ([]VectorSearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || len(s.documents) == 0 {
		return []VectorSearchResult{}, nil
	}

	results := make([]VectorSearchResult, 0, len(s.documents))
	for _, doc := range s.documents {
		sim := cosineSimilarity(queryEmbedding, doc.Embedding)
		results = append(results, VectorSearchResult{
			Document: doc,
			Score:    sim,
			Distance: 1.0 - sim,
		})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Count 实现 VectorStore.Count
func (s *InMemoryVectorStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents), nil
}

// HasCollection 实现 VectorStore.HasCollection
func (s *InMemoryVectorStore) HasCollection(ctx context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents) > 0, nil
}

// DropCollection 实现 VectorStore.DropCollection
func (s *InMemoryVectorStore) DropCollection(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents = nil
	return nil
}

// cosineSimilarity 余弦相似度，零向量相似度为 0
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
