// =============================================================================
// 📦 CookGraph 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Graph:     DefaultGraphConfig(),
		Milvus:    DefaultMilvusConfig(),
		Embedding: DefaultEmbeddingConfig(),
		LLM:       DefaultLLMConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Redis:     DefaultRedisConfig(),
		Log:       DefaultLogConfig(),
	}
}

// DefaultGraphConfig 返回默认图数据库配置
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		URI:             "bolt://localhost:7687",
		User:            "neo4j",
		Database:        "neo4j",
		NodeIDThreshold: "200000000",
		RelationLimit:   1000,
		QueryTimeout:    10 * time.Second,
	}
}

// DefaultMilvusConfig 返回默认 Milvus 配置
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Host:       "localhost",
		Port:       19530,
		Collection: "cooking_knowledge",
		Dimension:  512, // BGE-small-zh-v1.5 输出维度
		Timeout:    10 * time.Second,
	}
}

// DefaultEmbeddingConfig 返回默认嵌入配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:     "BAAI/bge-small-zh-v1.5",
		Dimension: 512,
		MaxBatch:  100,
		Timeout:   30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:        "zai-org/GLM-4.6",
		Temperature:  0.1,
		MaxTokens:    2048,
		Timeout:      60 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 5,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:                5,
		MaxGraphDepth:       2,
		EntityCacheLimit:    100,
		EnableKeyEnrichment: false,
		ChunkSize:           500,
		ChunkOverlap:        50,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Enabled:    false,
		Addr:       "localhost:6379",
		DefaultTTL: 30 * time.Minute,
		PoolSize:   10,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stdout"},
	}
}
