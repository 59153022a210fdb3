// Package rag 实现混合检索与路由引擎：图键值索引、关键词/向量检索、
// 多跳图遍历，以及按查询意图选择检索策略的路由器。
package rag

// Source 标记检索结果的来源信号
type Source string

const (
	SourceKeyword Source = "keyword"
	SourceVector  Source = "vector"
	SourceGraph   Source = "graph"
)

// RetrievalLevel 标记检索结果的层级
type RetrievalLevel string

const (
	// LevelEntity 实体级：单个实体或其一跳邻接
	LevelEntity RetrievalLevel = "entity"
	// LevelTheme 主题级：跨实体的主题聚合
	LevelTheme RetrievalLevel = "theme"
)

// RetrievalResult 统一的检索结果。
// 融合后的排序以交错位置为准，Score 仅反映来源内部的相对强度。
type RetrievalResult struct {
	Content        string         `json:"content"`
	Score          float64        `json:"score"`
	Source         Source         `json:"source"`
	RetrievalLevel RetrievalLevel `json:"retrieval_level"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Document 向量存储中的一条文档
type Document struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Embedding []float32      `json:"embedding,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
