package rag

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cookgraph/graph"
	"github.com/BaSui01/cookgraph/internal/metrics"
	"github.com/BaSui01/cookgraph/llm"
	"github.com/BaSui01/cookgraph/types"
)

// =============================================================================
// 🔀 混合检索器：关键词 + 向量 + 一跳图扩展
// =============================================================================

// HybridConfig 配置混合检索器
type HybridConfig struct {
	// 默认返回条数
	TopK int
}

// HybridRetriever 融合三路信号回答自由文本查询。
// 对 KeyValueIndex 只持只读引用；单路失败降级为部分结果，
// 三路全空时返回空列表而不报错。
type HybridRetriever struct {
	cfg      HybridConfig
	keyword  *KeywordIndex
	vector   VectorStore
	embedder llm.Embedder
	kvIndex  *KeyValueIndex
	metrics  *metrics.Collector
	logger   *zap.Logger

	// 图键值索引的构建钩子，成功一次后不再触发；失败后下次 Initialize 重试
	kvBuild func(ctx context.Context) error

	mu          sync.Mutex
	kvBuilt     bool
	initialized bool
}

// HybridOption 混合检索器可选装配
type HybridOption func(*HybridRetriever)

// WithHybridMetrics 启用指标采集
func WithHybridMetrics(m *metrics.Collector) HybridOption {
	return func(h *HybridRetriever) { h.metrics = m }
}

// WithKVBuild 注册图键值索引的构建钩子，成功后不再重复执行
func WithKVBuild(build func(ctx context.Context) error) HybridOption {
	return func(h *HybridRetriever) { h.kvBuild = build }
}

// NewHybridRetriever 创建混合检索器。vector 与 embedder 可为 nil（跳过向量路）。
func NewHybridRetriever(cfg HybridConfig, keyword *KeywordIndex, vector VectorStore, embedder llm.Embedder, kvIndex *KeyValueIndex, logger *zap.Logger, opts ...HybridOption) *HybridRetriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &HybridRetriever{
		cfg:      cfg,
		keyword:  keyword,
		vector:   vector,
		embedder: embedder,
		kvIndex:  kvIndex,
		logger:   logger.With(zap.String("component", "hybrid_retriever")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Initialize 在语料上构建关键词索引，并触发图键值索引构建。
// 空语料是配置错误而不是静默的空索引。重复调用只重建关键词索引；
// 图索引构建成功一次后跳过，失败则保持未构建状态，下次调用重试。
func (h *HybridRetriever) Initialize(ctx context.Context, chunks []graph.TextChunk) error {
	if len(chunks) == 0 {
		return types.NewError(types.ErrConfiguration, "corpus is empty, chunk source is required").
			WithComponent("hybrid_retriever")
	}

	h.keyword.Build(chunks)

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.kvBuild != nil && !h.kvBuilt {
		if err := h.kvBuild(ctx); err != nil {
			return err
		}
		h.kvBuilt = true
	}

	h.initialized = true
	h.logger.Info("hybrid retriever initialized", zap.Int("chunks", len(chunks)))
	return nil
}

// Initialized 返回是否已完成初始化
func (h *HybridRetriever) Initialized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initialized
}

// Retrieve 并发执行三路检索并轮转交错融合。
// 结果顺序由交错位置决定，不按原始得分重排。
func (h *HybridRetriever) Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	if topK <= 0 {
		topK = h.cfg.TopK
	}
	start := time.Now()

	var keywordRes, vectorRes, graphRes []RetrievalResult

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		keywordRes = h.keyword.Search(query, topK)
		return nil
	})
	g.Go(func() error {
		res, err := h.vectorRetrieve(gctx, query, topK)
		if err != nil {
			h.logger.Warn("vector retrieval degraded", zap.Error(err))
			return nil
		}
		vectorRes = res
		return nil
	})
	g.Go(func() error {
		graphRes = h.graphExpand(query, topK)
		return nil
	})
	// 各路失败都已就地降级，errgroup 只用于同步
	_ = g.Wait()

	merged := RoundRobinMerge(topK, keywordRes, vectorRes, graphRes)
	if h.metrics != nil {
		h.metrics.RecordRetrieval("hybrid", time.Since(start), len(merged))
	}
	h.logger.Debug("hybrid retrieval completed",
		zap.Int("keyword", len(keywordRes)),
		zap.Int("vector", len(vectorRes)),
		zap.Int("graph", len(graphRes)),
		zap.Int("merged", len(merged)))
	return merged, nil
}

// vectorRetrieve 查询向量路：嵌入查询后做相似度搜索
func (h *HybridRetriever) vectorRetrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	if h.vector == nil || h.embedder == nil {
		return nil, nil
	}

	embedding, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := h.vector.Search(ctx, embedding, topK)
	if err != nil {
		return nil, err
	}

	results := make([]RetrievalResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, RetrievalResult{
			Content:        hit.Document.Content,
			Score:          hit.Score,
			Source:         SourceVector,
			RetrievalLevel: LevelEntity,
			Metadata:       hit.Document.Metadata,
		})
	}
	return results, nil
}

// graphExpand 图扩展路：查询里出现的实体名做子串匹配，
// 拉取命中实体及其一跳关系作为补充候选。纯内存，不失败。
func (h *HybridRetriever) graphExpand(query string, topK int) []RetrievalResult {
	if h.kvIndex == nil {
		return nil
	}

	var results []RetrievalResult
	seenEntity := make(map[string]struct{})
	seenRel := make(map[string]struct{})

	for _, key := range h.kvIndex.Keys() {
		if len(results) >= topK {
			break
		}
		if key == "" || !strings.Contains(query, key) {
			continue
		}

		entityIDs, _ := h.kvIndex.LookupByKey(key)
		for _, id := range entityIDs {
			if _, dup := seenEntity[id]; dup {
				continue
			}
			seenEntity[id] = struct{}{}

			rec, ok := h.kvIndex.Entity(id)
			if !ok {
				continue
			}
			results = append(results, RetrievalResult{
				Content:        rec.Content,
				Score:          1.0,
				Source:         SourceGraph,
				RetrievalLevel: LevelEntity,
				Metadata:       map[string]any{"entity_id": id, "entity_type": rec.EntityType},
			})

			// 一跳扩展：关系内容与对端实体内容
			for _, relID := range h.kvIndex.RelationsOf(id) {
				rel, ok := h.kvIndex.Relation(relID)
				if !ok {
					continue
				}
				if _, dup := seenRel[relID]; !dup {
					seenRel[relID] = struct{}{}
					results = append(results, RetrievalResult{
						Content:        rel.Content,
						Score:          0.8,
						Source:         SourceGraph,
						RetrievalLevel: LevelEntity,
						Metadata:       map[string]any{"relation_id": relID, "relation_type": rel.RelationType},
					})
				}

				other := rel.TargetEntityID
				if other == id {
					other = rel.SourceEntityID
				}
				if _, dup := seenEntity[other]; dup {
					continue
				}
				seenEntity[other] = struct{}{}
				if otherRec, ok := h.kvIndex.Entity(other); ok {
					results = append(results, RetrievalResult{
						Content:        otherRec.Content,
						Score:          0.6,
						Source:         SourceGraph,
						RetrievalLevel: LevelEntity,
						Metadata:       map[string]any{"entity_id": other, "entity_type": otherRec.EntityType},
					})
				}
			}
		}
	}
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}
