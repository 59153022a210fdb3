package rag

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/cookgraph/internal/metrics"
)

// =============================================================================
// 🧭 智能查询路由
// =============================================================================

// RoutingDecision 检索策略
type RoutingDecision string

const (
	// DecisionTraditional 传统混合检索（关键词 + 向量 + 一跳）
	DecisionTraditional RoutingDecision = "traditional"
	// DecisionGraphRAG 多跳图遍历检索
	DecisionGraphRAG RoutingDecision = "graph_rag"
	// DecisionCombined 双引擎并行后融合
	DecisionCombined RoutingDecision = "combined"
)

// RoutingStats 路由计数快照
type RoutingStats struct {
	TraditionalCount int64 `json:"traditional_count"`
	GraphCount       int64 `json:"graph_count"`
	CombinedCount    int64 `json:"combined_count"`
	TotalQueries     int64 `json:"total_queries"`
}

// RouterStatistics 路由统计，比率在零查询时为 0 而不是除零错误
type RouterStatistics struct {
	RoutingStats
	TraditionalRatio float64 `json:"traditional_ratio"`
	GraphRatio       float64 `json:"graph_ratio"`
	CombinedRatio    float64 `json:"combined_ratio"`
}

// RouterConfig 配置查询路由器
type RouterConfig struct {
	// 融合返回条数
	TopK int
}

// QueryRouter 按查询的关系密集度选择检索策略并跟踪路由结果。
// 计数器用原子操作维护，支持多调用方并发查询。
type QueryRouter struct {
	cfg     RouterConfig
	hybrid  *HybridRetriever
	engine  *GraphTraversalEngine
	metrics *metrics.Collector
	logger  *zap.Logger

	traditionalCount atomic.Int64
	graphCount       atomic.Int64
	combinedCount    atomic.Int64
	totalQueries     atomic.Int64
}

// RouterOption 路由器可选装配
type RouterOption func(*QueryRouter)

// WithRouterMetrics 启用指标采集
func WithRouterMetrics(m *metrics.Collector) RouterOption {
	return func(r *QueryRouter) { r.metrics = m }
}

// NewQueryRouter 创建查询路由器
func NewQueryRouter(cfg RouterConfig, hybrid *HybridRetriever, engine *GraphTraversalEngine, logger *zap.Logger, opts ...RouterOption) *QueryRouter {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &QueryRouter{
		cfg:    cfg,
		hybrid: hybrid,
		engine: engine,
		logger: logger.With(zap.String("component", "query_router")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// 关系词：出现即说明查询关心实体之间的联系
var relationTerms = []string{
	"contains", "requires", "belongs to", "related", "relationship", "pair",
	"包含", "需要", "属于", "相关", "关系", "搭配", "配料", "一起", "和",
}

// 比较词：多实体对比倾向图结构推理
var comparisonTerms = []string{
	"difference", "compare", " vs ", "versus",
	"区别", "对比", "还是", "哪个", "哪种",
}

// 多跳词：链式或间接关系表述
var multiHopTerms = []string{
	"through", "indirect", "chain", "path",
	"通过", "间接", "之间", "层层", "依次",
}

// 直查词：单实体查找型问句
var lookupTerms = []string{
	"how to make", "how do i make", "recipe for",
	"怎么做", "如何做", "做法", "的步骤", "怎么煮",
}

// Route 估计查询的关系密集度并给出路由决策（阈值启发式，非学习模型）。
// 含关系表述的查询绝不走纯传统检索。
func (r *QueryRouter) Route(query string) RoutingDecision {
	lower := strings.ToLower(query)

	relationHits := countTerms(lower, relationTerms)
	comparisonHits := countTerms(lower, comparisonTerms)
	multiHopHits := countTerms(lower, multiHopTerms)
	lookupHits := countTerms(lower, lookupTerms)

	relationalDensity := relationHits + comparisonHits + multiHopHits

	switch {
	case multiHopHits > 0 || relationalDensity >= 2:
		return DecisionGraphRAG
	case relationalDensity > 0:
		// 关系表述与直查意图混合，双引擎并行
		return DecisionCombined
	case lookupHits > 0:
		return DecisionTraditional
	default:
		// 意图不明，两路都跑
		return DecisionCombined
	}
}

func countTerms(query string, terms []string) int {
	hits := 0
	for _, t := range terms {
		if strings.Contains(query, t) {
			hits++
		}
	}
	return hits
}

// Answer 执行路由并分发检索，返回融合后的结果。
// 部分引擎失败降级为部分结果并记录；所有被分发的引擎全部失败时
// 返回空结果加错误，绝不让一次查询崩溃。
func (r *QueryRouter) Answer(ctx context.Context, query string) ([]RetrievalResult, RoutingDecision, error) {
	decision := r.Route(query)

	r.totalQueries.Add(1)
	switch decision {
	case DecisionTraditional:
		r.traditionalCount.Add(1)
	case DecisionGraphRAG:
		r.graphCount.Add(1)
	case DecisionCombined:
		r.combinedCount.Add(1)
	}
	if r.metrics != nil {
		r.metrics.RecordRoutingDecision(string(decision))
	}

	start := time.Now()
	var results []RetrievalResult
	var retrieveErr error
	switch decision {
	case DecisionTraditional:
		res, err := r.hybrid.Retrieve(ctx, query, r.cfg.TopK)
		if err != nil {
			r.logger.Error("hybrid retrieval failed", zap.Error(err))
			retrieveErr = err
		} else {
			results = res
		}
	case DecisionGraphRAG:
		res, err := r.engine.Retrieve(ctx, query, r.cfg.TopK)
		if err != nil {
			r.logger.Error("graph retrieval failed", zap.Error(err))
			retrieveErr = err
		} else {
			results = res
		}
	case DecisionCombined:
		results, retrieveErr = r.combined(ctx, query)
	}

	if r.metrics != nil {
		r.metrics.RecordRetrieval(string(decision), time.Since(start), len(results))
	}
	r.logger.Debug("query routed",
		zap.String("decision", string(decision)),
		zap.Int("results", len(results)))
	return results, decision, retrieveErr
}

// combined 并行跑两个引擎，失败侧降级为空，再做轮转交错融合
func (r *QueryRouter) combined(ctx context.Context, query string) ([]RetrievalResult, error) {
	var hybridRes, graphRes []RetrievalResult
	var hybridErr, graphErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := r.hybrid.Retrieve(gctx, query, r.cfg.TopK)
		if err != nil {
			r.logger.Warn("hybrid side degraded in combined mode", zap.Error(err))
			hybridErr = err
			return nil
		}
		hybridRes = res
		return nil
	})
	g.Go(func() error {
		res, err := r.engine.Retrieve(gctx, query, r.cfg.TopK)
		if err != nil {
			r.logger.Warn("graph side degraded in combined mode", zap.Error(err))
			graphErr = err
			return nil
		}
		graphRes = res
		return nil
	})
	_ = g.Wait()

	// 单侧失败降级为部分结果，双侧全失败才向上报错
	if hybridErr != nil && graphErr != nil {
		return nil, fmt.Errorf("all retrieval sources failed: hybrid: %w; graph: %v", hybridErr, graphErr)
	}
	return RoundRobinMerge(r.cfg.TopK, hybridRes, graphRes), nil
}

// Statistics 返回路由统计，比率分母为零时全部为 0
func (r *QueryRouter) Statistics() RouterStatistics {
	stats := RoutingStats{
		TraditionalCount: r.traditionalCount.Load(),
		GraphCount:       r.graphCount.Load(),
		CombinedCount:    r.combinedCount.Load(),
		TotalQueries:     r.totalQueries.Load(),
	}

	out := RouterStatistics{RoutingStats: stats}
	if stats.TotalQueries > 0 {
		total := float64(stats.TotalQueries)
		out.TraditionalRatio = float64(stats.TraditionalCount) / total
		out.GraphRatio = float64(stats.GraphCount) / total
		out.CombinedRatio = float64(stats.CombinedCount) / total
	}
	return out
}
