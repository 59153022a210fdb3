package graph

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Snapshot 图数据的 JSON 快照，用于离线导入内存图存储。
type Snapshot struct {
	Nodes     []Node     `json:"nodes"`
	Relations []Relation `json:"relations"`
}

// LoadSnapshotFile 从 JSON 文件加载图快照并构建内存存储。
// 关系端点必须在快照节点中存在，悬挂关系会被拒绝。
func LoadSnapshotFile(path string, logger *zap.Logger) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}

	store := NewMemoryStore(logger)
	for _, node := range snap.Nodes {
		store.AddNode(node)
	}
	for i, rel := range snap.Relations {
		if err := store.AddRelation(rel); err != nil {
			return nil, fmt.Errorf("snapshot relation %d: %w", i, err)
		}
	}

	if logger != nil {
		logger.Info("图快照加载完成",
			zap.String("path", path),
			zap.Int("nodes", len(snap.Nodes)),
			zap.Int("relations", len(snap.Relations)),
		)
	}
	return store, nil
}
