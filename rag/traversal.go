package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/graph"
	"github.com/BaSui01/cookgraph/internal/cache"
	"github.com/BaSui01/cookgraph/internal/metrics"
	"github.com/BaSui01/cookgraph/types"
)

// =============================================================================
// 🕸️ 多跳图遍历引擎
// =============================================================================

// EngineState 遍历引擎状态机：未初始化 → 已连接 → 已建缓存。
// 已连接但未建缓存时允许查询，只是走无缓存慢路径。
type EngineState int32

const (
	StateUninitialized EngineState = iota
	StateConnected
	StateIndexed
)

// String 实现 fmt.Stringer
func (s EngineState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateIndexed:
		return "indexed"
	default:
		return "uninitialized"
	}
}

// Subgraph 一次遍历或抽取得到的子图
type Subgraph struct {
	SeedID    string           `json:"seed_id,omitempty"`
	Depth     int              `json:"depth,omitempty"`
	Nodes     []graph.Node     `json:"nodes"`
	Relations []graph.Relation `json:"relations"`
}

// TraversalConfig 配置遍历引擎
type TraversalConfig struct {
	// 遍历深度上限
	MaxDepth int
	// 实体缓存容量（按度数取前 N）
	EntityCacheLimit int
}

// GraphTraversalEngine 面向关系推理的多跳检索引擎。
// 持有 KeyValueIndex 的只读引用用于从查询解析种子实体，绝不写入。
type GraphTraversalEngine struct {
	store    graph.Store
	kvIndex  *KeyValueIndex
	cfg      TraversalConfig
	redis    *cache.Manager
	metrics  *metrics.Collector
	logger   *zap.Logger
	state    atomic.Int32
	storeOps atomic.Int64

	mu           sync.RWMutex
	entityCache  []graph.Node
	relationFreq map[string]int
	subgraphs    map[string]*Subgraph
}

// TraversalOption 遍历引擎可选装配
type TraversalOption func(*GraphTraversalEngine)

// WithSubgraphRedisCache 启用 Redis 子图二级缓存
func WithSubgraphRedisCache(mgr *cache.Manager) TraversalOption {
	return func(e *GraphTraversalEngine) { e.redis = mgr }
}

// WithTraversalMetrics 启用指标采集
func WithTraversalMetrics(m *metrics.Collector) TraversalOption {
	return func(e *GraphTraversalEngine) { e.metrics = m }
}

// NewGraphTraversalEngine 创建遍历引擎。kvIndex 仅作种子解析的只读引用。
func NewGraphTraversalEngine(store graph.Store, kvIndex *KeyValueIndex, cfg TraversalConfig, logger *zap.Logger, opts ...TraversalOption) *GraphTraversalEngine {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.EntityCacheLimit <= 0 {
		cfg.EntityCacheLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &GraphTraversalEngine{
		store:     store,
		kvIndex:   kvIndex,
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "graph_traversal")),
		subgraphs: make(map[string]*Subgraph),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State 返回当前状态
func (e *GraphTraversalEngine) State() EngineState {
	return EngineState(e.state.Load())
}

// StoreOps 返回累计的图存储往返次数，供缓存行为验证
func (e *GraphTraversalEngine) StoreOps() int64 {
	return e.storeOps.Load()
}

// Initialize 连接图存储并预热缓存。
// 连接失败返回 CONNECTION 错误；缓存预热失败只降级为无缓存遍历，
// 不影响初始化结果。
func (e *GraphTraversalEngine) Initialize(ctx context.Context) error {
	if err := e.store.Ping(ctx); err != nil {
		return types.NewError(types.ErrConnection, "graph store unreachable").
			WithCause(err).WithComponent("graph_traversal")
	}
	e.state.Store(int32(StateConnected))

	warmed := true

	e.storeOps.Add(1)
	top, err := e.store.TopNodesByDegree(ctx, e.cfg.EntityCacheLimit)
	if err != nil {
		e.logger.Warn("entity cache warm-up failed, traversal runs uncached", zap.Error(err))
		warmed = false
		top = nil
	}

	e.storeOps.Add(1)
	freq, err := e.store.RelationTypeCounts(ctx)
	if err != nil {
		e.logger.Warn("relation frequency warm-up failed", zap.Error(err))
		warmed = false
		freq = nil
	}

	e.mu.Lock()
	e.entityCache = top
	e.relationFreq = freq
	e.mu.Unlock()

	if warmed {
		e.state.Store(int32(StateIndexed))
		e.logger.Info("traversal engine indexed",
			zap.Int("cached_entities", len(top)),
			zap.Int("relation_types", len(freq)))
	}
	return nil
}

// RelationFrequency 返回预热的关系类型频次（未预热时为 nil）
func (e *GraphTraversalEngine) RelationFrequency() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.relationFreq))
	for k, v := range e.relationFreq {
		out[k] = v
	}
	return out
}

func subgraphKey(seedID string, depth int) string {
	return fmt.Sprintf("%s:%d", seedID, depth)
}

// Traverse 从种子出发做广度优先扩展，最多 maxDepth 跳。
// (种子, 深度) 相同且图未变化时直接命中子图缓存，不再访问图存储。
// 访问过的节点不重复展开，环不会导致死循环。
func (e *GraphTraversalEngine) Traverse(ctx context.Context, seedID string, maxDepth int) (*Subgraph, error) {
	if e.State() == StateUninitialized {
		return nil, types.NewError(types.ErrNotReady, "traversal engine not initialized").
			WithComponent("graph_traversal")
	}
	if maxDepth <= 0 || maxDepth > e.cfg.MaxDepth {
		maxDepth = e.cfg.MaxDepth
	}

	key := subgraphKey(seedID, maxDepth)

	e.mu.RLock()
	cached, ok := e.subgraphs[key]
	e.mu.RUnlock()
	if ok {
		if e.metrics != nil {
			e.metrics.RecordCacheHit("subgraph")
		}
		return cached, nil
	}

	// 二级 Redis 缓存，未命中或不可用都继续走存储
	if e.redis != nil {
		var sg Subgraph
		if err := e.redis.GetJSON(ctx, cache.SubgraphKey(seedID, maxDepth), &sg); err == nil {
			e.mu.Lock()
			e.subgraphs[key] = &sg
			e.mu.Unlock()
			if e.metrics != nil {
				e.metrics.RecordCacheHit("subgraph_redis")
			}
			return &sg, nil
		} else if !cache.IsCacheMiss(err) {
			e.logger.Warn("redis subgraph lookup failed", zap.Error(err))
		}
	}
	if e.metrics != nil {
		e.metrics.RecordCacheMiss("subgraph")
	}

	sg, err := e.expand(ctx, seedID, maxDepth)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.subgraphs[key] = sg
	e.mu.Unlock()
	if e.redis != nil {
		if err := e.redis.SetJSON(ctx, cache.SubgraphKey(seedID, maxDepth), sg, 0); err != nil {
			e.logger.Warn("redis subgraph store failed", zap.Error(err))
		}
	}
	return sg, nil
}

// expand 执行实际的 BFS 扩展
func (e *GraphTraversalEngine) expand(ctx context.Context, seedID string, maxDepth int) (*Subgraph, error) {
	e.storeOps.Add(1)
	seed, err := e.store.Node(ctx, seedID)
	if err != nil {
		return nil, fmt.Errorf("resolve seed %s: %w", seedID, err)
	}

	sg := &Subgraph{
		SeedID: seedID,
		Depth:  maxDepth,
		Nodes:  []graph.Node{*seed},
	}
	visited := map[string]struct{}{seedID: {}}
	seenRel := make(map[string]struct{})
	frontier := []string{seedID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, nodeID := range frontier {
			e.storeOps.Add(1)
			rels, err := e.store.Neighbors(ctx, nodeID)
			if err != nil {
				e.logger.Warn("neighbor expansion failed, branch skipped",
					zap.String("node", nodeID), zap.Error(err))
				continue
			}
			for _, rel := range rels {
				relKey := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Type
				if _, dup := seenRel[relKey]; !dup {
					seenRel[relKey] = struct{}{}
					sg.Relations = append(sg.Relations, rel)
				}

				other := rel.TargetID
				if other == nodeID {
					other = rel.SourceID
				}
				if _, seen := visited[other]; seen {
					continue
				}
				visited[other] = struct{}{}

				e.storeOps.Add(1)
				node, err := e.store.Node(ctx, other)
				if err != nil {
					e.logger.Warn("neighbor node missing, skipped",
						zap.String("node", other), zap.Error(err))
					continue
				}
				sg.Nodes = append(sg.Nodes, *node)
				next = append(next, other)
			}
		}
		frontier = next
	}
	return sg, nil
}

// ExtractSubgraph 返回实体集合的诱导子图：仅保留两端都在集合内的关系
func (e *GraphTraversalEngine) ExtractSubgraph(ctx context.Context, entityIDs []string) (*Subgraph, error) {
	if e.State() == StateUninitialized {
		return nil, types.NewError(types.ErrNotReady, "traversal engine not initialized").
			WithComponent("graph_traversal")
	}

	inSet := make(map[string]struct{}, len(entityIDs))
	sg := &Subgraph{}
	for _, id := range entityIDs {
		if _, dup := inSet[id]; dup {
			continue
		}
		e.storeOps.Add(1)
		node, err := e.store.Node(ctx, id)
		if err != nil {
			if types.IsCode(err, types.ErrNotFound) {
				e.logger.Warn("entity missing, excluded from subgraph", zap.String("id", id))
				continue
			}
			return nil, err
		}
		inSet[id] = struct{}{}
		sg.Nodes = append(sg.Nodes, *node)
	}

	seenRel := make(map[string]struct{})
	for id := range inSet {
		e.storeOps.Add(1)
		rels, err := e.store.Neighbors(ctx, id)
		if err != nil {
			e.logger.Warn("neighbor fetch failed during extraction",
				zap.String("node", id), zap.Error(err))
			continue
		}
		for _, rel := range rels {
			if _, ok := inSet[rel.SourceID]; !ok {
				continue
			}
			if _, ok := inSet[rel.TargetID]; !ok {
				continue
			}
			relKey := rel.SourceID + "\x00" + rel.TargetID + "\x00" + rel.Type
			if _, dup := seenRel[relKey]; dup {
				continue
			}
			seenRel[relKey] = struct{}{}
			sg.Relations = append(sg.Relations, rel)
		}
	}

	sort.Slice(sg.Nodes, func(i, j int) bool { return sg.Nodes[i].ID < sg.Nodes[j].ID })
	return sg, nil
}

// Retrieve 将查询映射为种子实体并遍历，把子图渲染为检索结果。
// 没有任何种子命中时返回空列表。
func (e *GraphTraversalEngine) Retrieve(ctx context.Context, query string, topK int) ([]RetrievalResult, error) {
	if e.State() == StateUninitialized {
		return nil, types.NewError(types.ErrNotReady, "traversal engine not initialized").
			WithComponent("graph_traversal")
	}

	seeds := e.resolveSeeds(query)
	if len(seeds) == 0 {
		return nil, nil
	}

	var results []RetrievalResult
	for _, seedID := range seeds {
		if topK > 0 && len(results) >= topK {
			break
		}
		sg, err := e.Traverse(ctx, seedID, e.cfg.MaxDepth)
		if err != nil {
			e.logger.Warn("traversal failed for seed, skipped",
				zap.String("seed", seedID), zap.Error(err))
			continue
		}
		content := renderSubgraph(sg)
		if content == "" {
			continue
		}
		results = append(results, RetrievalResult{
			Content:        content,
			Score:          1.0,
			Source:         SourceGraph,
			RetrievalLevel: LevelTheme,
			Metadata: map[string]any{
				"seed_id":   seedID,
				"depth":     sg.Depth,
				"nodes":     len(sg.Nodes),
				"relations": len(sg.Relations),
			},
		})
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// resolveSeeds 在键值索引键上做子串匹配，把查询映射为种子实体 ID
func (e *GraphTraversalEngine) resolveSeeds(query string) []string {
	if e.kvIndex == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var seeds []string
	for _, key := range e.kvIndex.Keys() {
		if key == "" || !strings.Contains(query, key) {
			continue
		}
		entityIDs, _ := e.kvIndex.LookupByKey(key)
		for _, id := range entityIDs {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			seeds = append(seeds, id)
		}
	}
	sort.Strings(seeds)
	return seeds
}

// renderSubgraph 把子图渲染为文本，节点在前关系在后
func renderSubgraph(sg *Subgraph) string {
	if sg == nil || len(sg.Nodes) == 0 {
		return ""
	}
	var sb strings.Builder
	names := make(map[string]string, len(sg.Nodes))
	for _, n := range sg.Nodes {
		name := n.Name
		if name == "" {
			name = n.ID
		}
		names[n.ID] = name
	}

	sb.WriteString("相关实体: ")
	for i, n := range sg.Nodes {
		if i > 0 {
			sb.WriteString("、")
		}
		sb.WriteString(names[n.ID])
	}
	// 端点节点可能在展开期取失败而缺席，回退到原始 ID
	endpoint := func(id string) string {
		if name, ok := names[id]; ok {
			return name
		}
		return id
	}
	for _, rel := range sg.Relations {
		sb.WriteString(fmt.Sprintf("\n%s %s %s",
			endpoint(rel.SourceID), relationPhrase(rel.Type), endpoint(rel.TargetID)))
	}
	return sb.String()
}
