// Package graph 定义图数据库协作方的查询契约，并提供内存实现与
// 类型化的菜谱数据加载层。
package graph

import (
	"context"
)

// Node 图节点行数据
type Node struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Relation 图关系行数据
type Relation struct {
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
}

// 节点标签
const (
	LabelRecipe     = "Recipe"
	LabelIngredient = "Ingredient"
	LabelStep       = "Step"
)

// 关系类型
const (
	RelRequires  = "REQUIRES"   // 菜谱 → 食材
	RelHasStep   = "HAS_STEP"   // 菜谱 → 烹饪步骤
	RelBelongsTo = "BELONGS_TO" // 菜谱 → 分类
)

// Store 是图数据库协作方的最小查询契约。
// 核心引擎只需要：按标签取节点、取一跳邻接关系、全局关系抽取（带显式上限）、
// 关系类型频次聚合、节点度数与高度数节点。
type Store interface {
	// Ping 测试连接
	Ping(ctx context.Context) error

	// NodesByLabel 返回给定标签且 ID 不小于 minID 的节点；minID 为空返回全部
	NodesByLabel(ctx context.Context, label string, minID string) ([]Node, error)

	// Node 按 ID 取单个节点
	Node(ctx context.Context, id string) (*Node, error)

	// Neighbors 返回节点的全部一跳邻接关系（出边与入边）
	Neighbors(ctx context.Context, nodeID string) ([]Relation, error)

	// Relations 返回全局关系，最多 limit 条。
	// limit 是显式的采样上限，由 config.GraphConfig.RelationLimit 提供。
	Relations(ctx context.Context, limit int) ([]Relation, error)

	// RelationTypeCounts 返回关系类型 → 出现次数的聚合
	RelationTypeCounts(ctx context.Context) (map[string]int, error)

	// NodeDegree 返回节点的关联关系数
	NodeDegree(ctx context.Context, nodeID string) (int, error)

	// TopNodesByDegree 返回按度数降序的前 limit 个节点
	TopNodesByDegree(ctx context.Context, limit int) ([]Node, error)
}
