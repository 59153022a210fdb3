// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	// 验证图数据库默认值
	assert.Equal(t, "bolt://localhost:7687", cfg.Graph.URI)
	assert.Equal(t, "200000000", cfg.Graph.NodeIDThreshold)
	assert.Equal(t, 1000, cfg.Graph.RelationLimit)

	// 验证 Milvus 默认值
	assert.Equal(t, "localhost", cfg.Milvus.Host)
	assert.Equal(t, 19530, cfg.Milvus.Port)
	assert.Equal(t, "cooking_knowledge", cfg.Milvus.Collection)
	assert.Equal(t, 512, cfg.Milvus.Dimension)

	// 验证 LLM 默认值
	assert.Equal(t, 0.1, cfg.LLM.Temperature)
	assert.Equal(t, 2048, cfg.LLM.MaxTokens)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 3, cfg.LLM.MaxRetries)

	// 验证检索默认值
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.Equal(t, 2, cfg.Retrieval.MaxGraphDepth)
	assert.Equal(t, 100, cfg.Retrieval.EntityCacheLimit)
	assert.False(t, cfg.Retrieval.EnableKeyEnrichment)

	// 验证日志默认值
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "cooking_knowledge", cfg.Milvus.Collection)
	assert.Equal(t, 2, cfg.Retrieval.MaxGraphDepth)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
milvus:
  host: milvus.internal
  dimension: 768
retrieval:
  top_k: 10
  max_graph_depth: 3
graph:
  relation_limit: 5000
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "milvus.internal", cfg.Milvus.Host)
	assert.Equal(t, 768, cfg.Milvus.Dimension)
	assert.Equal(t, 10, cfg.Retrieval.TopK)
	assert.Equal(t, 3, cfg.Retrieval.MaxGraphDepth)
	assert.Equal(t, 5000, cfg.Graph.RelationLimit)
	// 未覆盖的字段保留默认值
	assert.Equal(t, 19530, cfg.Milvus.Port)
}

func TestLoader_EnvOverride(t *testing.T) {
	t.Setenv("COOKGRAPH_MILVUS_HOST", "milvus.prod")
	t.Setenv("COOKGRAPH_LLM_API_KEY", "sk-test")
	t.Setenv("COOKGRAPH_RETRIEVAL_TOP_K", "7")
	t.Setenv("COOKGRAPH_LLM_TIMEOUT", "90s")
	t.Setenv("COOKGRAPH_REDIS_ENABLED", "true")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "milvus.prod", cfg.Milvus.Host)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
	assert.Equal(t, 90*time.Second, cfg.LLM.Timeout)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 512, cfg.Milvus.Dimension)
}

// --- 验证测试 ---

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")
}

func TestValidate_DimensionMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	cfg.Embedding.Dimension = 768

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension")
}

func TestValidate_OK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
}
