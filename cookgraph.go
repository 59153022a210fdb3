// Package cookgraph 是烹饪知识混合检索引擎的顶层装配入口。
//
// 用法:
//
//	cfg, _ := config.NewLoader().WithConfigPath("config.yaml").Load()
//	sys, err := cookgraph.NewSystem(cfg, store, logger)
//	if err != nil { ... }
//	if err := sys.InitSystem(ctx); err != nil { ... }
//	if err := sys.BuildKnowledgeBase(ctx); err != nil { ... }
//	answer := sys.Answer(ctx, "红烧肉需要什么食材", nil)
//
// System 按 config → 图存储 → 索引 → 检索器 → 路由器的顺序装配全部组件。
package cookgraph

import (
	"context"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/config"
	"github.com/BaSui01/cookgraph/graph"
	"github.com/BaSui01/cookgraph/internal/cache"
	"github.com/BaSui01/cookgraph/internal/metrics"
	"github.com/BaSui01/cookgraph/llm"
	"github.com/BaSui01/cookgraph/rag"
	"github.com/BaSui01/cookgraph/types"
)

const answerSystemPrompt = `你是专业的烹饪助手。根据提供的检索上下文回答用户的烹饪问题，` +
	`回答要具体实用；上下文不足以回答时，如实说明。`

// System 聚合检索引擎的全部组件
type System struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	store    graph.Store
	data     *graph.DataModule
	kvIndex  *rag.KeyValueIndex
	keyword  *rag.KeywordIndex
	vector   rag.VectorStore
	embedder llm.Embedder
	llm      *llm.Client
	hybrid   *rag.HybridRetriever
	engine   *rag.GraphTraversalEngine
	router   *rag.QueryRouter
	redis    *cache.Manager
}

// SystemOption 装配期可选覆盖
type SystemOption func(*System)

// WithVectorStore 覆盖向量存储（默认 Milvus）
func WithVectorStore(vs rag.VectorStore) SystemOption {
	return func(s *System) { s.vector = vs }
}

// WithEmbedder 覆盖嵌入协作方
func WithEmbedder(e llm.Embedder) SystemOption {
	return func(s *System) { s.embedder = e }
}

// WithLLMClient 覆盖 LLM 客户端
func WithLLMClient(c *llm.Client) SystemOption {
	return func(s *System) { s.llm = c }
}

// WithMetricsRegistry 注册指标到给定 registry（默认不采集指标）
func WithMetricsRegistry(reg prometheus.Registerer) SystemOption {
	return func(s *System) {
		s.metrics = metrics.NewCollector("cookgraph", reg, s.logger)
	}
}

// NewSystem 装配检索系统。配置校验失败时返回 CONFIGURATION 错误。
func NewSystem(cfg *config.Config, store graph.Store, logger *zap.Logger, opts ...SystemOption) (*System, error) {
	if cfg == nil {
		return nil, types.NewError(types.ErrConfiguration, "config is required")
	}
	if store == nil {
		return nil, types.NewError(types.ErrConfiguration, "graph store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &System{cfg: cfg, store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}

	if s.llm == nil {
		provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL:      cfg.LLM.BaseURL,
			APIKey:       cfg.LLM.APIKey,
			Model:        cfg.LLM.Model,
			Temperature:  cfg.LLM.Temperature,
			MaxTokens:    cfg.LLM.MaxTokens,
			Timeout:      cfg.LLM.Timeout,
			RateLimitRPS: cfg.LLM.RateLimitRPS,
		}, logger)
		if err != nil {
			return nil, err
		}
		var clientOpts []llm.ClientOption
		if cfg.LLM.MaxRetries > 0 {
			clientOpts = append(clientOpts,
				llm.WithRetryPolicy(&llm.RetryPolicy{MaxAttempts: cfg.LLM.MaxRetries}))
		}
		if s.metrics != nil {
			clientOpts = append(clientOpts, llm.WithMetrics(s.metrics))
		}
		s.llm = llm.NewClient(provider, logger, clientOpts...)
	}

	if s.embedder == nil {
		embedder, err := llm.NewHTTPEmbedder(llm.EmbedderConfig{
			BaseURL:   cfg.Embedding.BaseURL,
			APIKey:    cfg.Embedding.APIKey,
			Model:     cfg.Embedding.Model,
			Dimension: cfg.Embedding.Dimension,
			MaxBatch:  cfg.Embedding.MaxBatch,
			Timeout:   cfg.Embedding.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.embedder = embedder
	}

	if s.vector == nil {
		vector, err := rag.NewMilvusStore(rag.MilvusConfig{
			Host:       cfg.Milvus.Host,
			Port:       cfg.Milvus.Port,
			Collection: cfg.Milvus.Collection,
			Dimension:  cfg.Milvus.Dimension,
			Timeout:    cfg.Milvus.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.vector = vector
	}

	var enricher rag.KeywordEnricher
	if cfg.Retrieval.EnableKeyEnrichment {
		enricher = rag.NewLLMKeywordEnricher(s.llm, logger)
	}
	s.kvIndex = rag.NewKeyValueIndex(rag.KeyValueIndexConfig{
		EnableKeyEnrichment: cfg.Retrieval.EnableKeyEnrichment,
	}, enricher, logger)

	s.data = graph.NewDataModule(store, graph.DataConfig{
		NodeIDThreshold: cfg.Graph.NodeIDThreshold,
		ChunkSize:       cfg.Retrieval.ChunkSize,
		ChunkOverlap:    cfg.Retrieval.ChunkOverlap,
	}, logger)

	s.keyword = rag.NewKeywordIndex(rag.DefaultKeywordIndexConfig(), logger)

	hybridOpts := []rag.HybridOption{rag.WithKVBuild(s.buildKVIndex)}
	if s.metrics != nil {
		hybridOpts = append(hybridOpts, rag.WithHybridMetrics(s.metrics))
	}
	s.hybrid = rag.NewHybridRetriever(rag.HybridConfig{TopK: cfg.Retrieval.TopK},
		s.keyword, s.vector, s.embedder, s.kvIndex, logger, hybridOpts...)

	var engineOpts []rag.TraversalOption
	if cfg.Redis.Enabled {
		mgr, err := cache.NewManager(cache.Config{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			DefaultTTL: cfg.Redis.DefaultTTL,
			PoolSize:   cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			return nil, err
		}
		s.redis = mgr
		engineOpts = append(engineOpts, rag.WithSubgraphRedisCache(mgr))
	}
	if s.metrics != nil {
		engineOpts = append(engineOpts, rag.WithTraversalMetrics(s.metrics))
	}
	s.engine = rag.NewGraphTraversalEngine(store, s.kvIndex, rag.TraversalConfig{
		MaxDepth:         cfg.Retrieval.MaxGraphDepth,
		EntityCacheLimit: cfg.Retrieval.EntityCacheLimit,
	}, logger, engineOpts...)

	var routerOpts []rag.RouterOption
	if s.metrics != nil {
		routerOpts = append(routerOpts, rag.WithRouterMetrics(s.metrics))
	}
	s.router = rag.NewQueryRouter(rag.RouterConfig{TopK: cfg.Retrieval.TopK},
		s.hybrid, s.engine, logger, routerOpts...)

	return s, nil
}

// buildKVIndex 从图存储构建键值索引，由混合检索器在首次初始化时触发一次
func (s *System) buildKVIndex(ctx context.Context) error {
	s.kvIndex.IndexEntities(s.data.Recipes(), s.data.Ingredients(), s.data.Steps())

	relations, err := s.store.Relations(ctx, s.cfg.Graph.RelationLimit)
	if err != nil {
		return fmt.Errorf("load relations: %w", err)
	}
	s.kvIndex.IndexRelations(ctx, relations)
	s.kvIndex.Deduplicate()
	return nil
}

// InitSystem 连接协作方并加载图数据
func (s *System) InitSystem(ctx context.Context) error {
	if err := s.data.LoadGraphData(ctx); err != nil {
		return fmt.Errorf("load graph data: %w", err)
	}
	if err := s.engine.Initialize(ctx); err != nil {
		return fmt.Errorf("init traversal engine: %w", err)
	}
	s.logger.Info("system initialized")
	return nil
}

// BuildKnowledgeBase 构建检索语料：关键词索引、键值索引、向量集合。
// 向量集合已存在且非空时直接复用，不重复嵌入。
func (s *System) BuildKnowledgeBase(ctx context.Context) error {
	chunks, err := s.data.BuildChunks()
	if err != nil {
		return err
	}
	if err := s.hybrid.Initialize(ctx, chunks); err != nil {
		return err
	}

	exists, err := s.vector.HasCollection(ctx)
	if err != nil {
		s.logger.Warn("collection check failed, rebuilding", zap.Error(err))
	}
	if exists {
		if count, err := s.vector.Count(ctx); err == nil && count > 0 {
			s.logger.Info("vector collection reused", zap.Int("documents", count))
			return nil
		}
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed corpus: %w", err)
	}

	docs := make([]rag.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = rag.Document{
			ID:        c.ID,
			Content:   c.Text,
			Embedding: vectors[i],
			Metadata:  c.Metadata,
		}
	}
	if err := s.vector.AddDocuments(ctx, docs); err != nil {
		return fmt.Errorf("insert corpus: %w", err)
	}

	s.logger.Info("knowledge base built", zap.Int("chunks", len(chunks)))
	return nil
}

// Retrieve 只做检索路由，不触发生成
func (s *System) Retrieve(ctx context.Context, query string) ([]rag.RetrievalResult, rag.RoutingDecision, error) {
	return s.router.Answer(ctx, query)
}

// Answer 检索并生成最终回答。onDelta 非空时流式吐出增量文本。
// 生成层的失败在内部已兜底成致歉文案，调用方拿到的永远是可展示的字符串。
func (s *System) Answer(ctx context.Context, query string, onDelta func(string)) string {
	results, decision, err := s.router.Answer(ctx, query)
	if err != nil {
		s.logger.Error("retrieval failed", zap.Error(err))
	}

	prompt := buildAnswerPrompt(query, results)
	s.logger.Debug("answering query",
		zap.String("decision", string(decision)),
		zap.Int("context_results", len(results)))

	return s.llm.GenerateAnswer(ctx, &llm.GenerateRequest{
		System: answerSystemPrompt,
		Prompt: prompt,
	}, onDelta)
}

// buildAnswerPrompt 把检索结果装配成生成上下文
func buildAnswerPrompt(query string, results []rag.RetrievalResult) string {
	var sb strings.Builder
	if len(results) > 0 {
		sb.WriteString("检索上下文:\n")
		for i, r := range results {
			sb.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, r.Source, r.Content))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("问题: " + query)
	return sb.String()
}

// KnowledgeBaseStats 聚合数据、索引、向量与路由的统计信息
func (s *System) KnowledgeBaseStats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"data":    s.data.Statistics(),
		"index":   s.kvIndex.Statistics(),
		"routing": s.router.Statistics(),
	}
	if count, err := s.vector.Count(ctx); err == nil {
		stats["vector_documents"] = count
	} else {
		s.logger.Warn("vector stats unavailable", zap.Error(err))
	}
	return stats
}

// Router 暴露路由器，供调用方直接读取路由统计
func (s *System) Router() *rag.QueryRouter { return s.router }

// Close 释放外部连接
func (s *System) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}
