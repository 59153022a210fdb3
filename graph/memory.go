package graph

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/types"
)

// MemoryStore 内存图存储，实现 Store 接口。
// 适合测试与中小规模的嵌入式部署；生产环境可替换为远程图数据库适配器。
type MemoryStore struct {
	nodes     map[string]*Node
	relations []Relation
	outRels   map[string][]int // nodeID -> relation indexes
	inRels    map[string][]int
	logger    *zap.Logger
	mu        sync.RWMutex
}

// NewMemoryStore 创建内存图存储
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		nodes:   make(map[string]*Node),
		outRels: make(map[string][]int),
		inRels:  make(map[string][]int),
		logger:  logger.With(zap.String("component", "memory_graph")),
	}
}

// AddNode 添加节点，同 ID 覆盖旧值
func (s *MemoryStore) AddNode(node Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := node
	s.nodes[node.ID] = &n
}

// AddRelation 添加关系。两端节点必须已存在，否则返回 NOT_FOUND。
func (s *MemoryStore) AddRelation(rel Relation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodes[rel.SourceID]; !ok {
		return types.Newf(types.ErrNotFound, "source node %s not found", rel.SourceID)
	}
	if _, ok := s.nodes[rel.TargetID]; !ok {
		return types.Newf(types.ErrNotFound, "target node %s not found", rel.TargetID)
	}

	idx := len(s.relations)
	s.relations = append(s.relations, rel)
	s.outRels[rel.SourceID] = append(s.outRels[rel.SourceID], idx)
	s.inRels[rel.TargetID] = append(s.inRels[rel.TargetID], idx)
	return nil
}

// Ping 实现 Store.Ping
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// NodesByLabel 实现 Store.NodesByLabel
func (s *MemoryStore) NodesByLabel(ctx context.Context, label string, minID string) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Node
	for _, n := range s.nodes {
		if minID != "" && n.ID < minID {
			continue
		}
		for _, l := range n.Labels {
			if l == label {
				result = append(result, *n)
				break
			}
		}
	}
	// 稳定输出顺序，保证重建索引时记录一致
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Node 实现 Store.Node
func (s *MemoryStore) Node(ctx context.Context, id string) (*Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, types.Newf(types.ErrNotFound, "node %s not found", id)
	}
	copied := *n
	return &copied, nil
}

// Neighbors 实现 Store.Neighbors
func (s *MemoryStore) Neighbors(ctx context.Context, nodeID string) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Relation
	for _, idx := range s.outRels[nodeID] {
		result = append(result, s.relations[idx])
	}
	for _, idx := range s.inRels[nodeID] {
		result = append(result, s.relations[idx])
	}
	return result, nil
}

// Relations 实现 Store.Relations
func (s *MemoryStore) Relations(ctx context.Context, limit int) ([]Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.relations) {
		limit = len(s.relations)
	}
	result := make([]Relation, limit)
	copy(result, s.relations[:limit])
	return result, nil
}

// RelationTypeCounts 实现 Store.RelationTypeCounts
func (s *MemoryStore) RelationTypeCounts(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, rel := range s.relations {
		counts[rel.Type]++
	}
	return counts, nil
}

// NodeDegree 实现 Store.NodeDegree
func (s *MemoryStore) NodeDegree(ctx context.Context, nodeID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.nodes[nodeID]; !ok {
		return 0, types.Newf(types.ErrNotFound, "node %s not found", nodeID)
	}
	return len(s.outRels[nodeID]) + len(s.inRels[nodeID]), nil
}

// TopNodesByDegree 实现 Store.TopNodesByDegree
func (s *MemoryStore) TopNodesByDegree(ctx context.Context, limit int) ([]Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type nodeDegree struct {
		node   *Node
		degree int
	}
	all := make([]nodeDegree, 0, len(s.nodes))
	for id, n := range s.nodes {
		all = append(all, nodeDegree{node: n, degree: len(s.outRels[id]) + len(s.inRels[id])})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].degree != all[j].degree {
			return all[i].degree > all[j].degree
		}
		return all[i].node.ID < all[j].node.ID
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	result := make([]Node, len(all))
	for i, nd := range all {
		result[i] = *nd.node
	}
	return result, nil
}
