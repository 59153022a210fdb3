// =============================================================================
// 📦 CookGraph 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("COOKGRAPH").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CookGraph 检索引擎的完整配置结构
type Config struct {
	// Graph 图数据库配置
	Graph GraphConfig `yaml:"graph" env:"GRAPH"`

	// Milvus 向量存储配置
	Milvus MilvusConfig `yaml:"milvus" env:"MILVUS"`

	// Embedding 嵌入模型配置
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Retrieval 检索配置
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Redis 子图缓存配置（可选二级缓存）
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// GraphConfig 图数据库配置
type GraphConfig struct {
	// 连接 URI
	URI string `yaml:"uri" env:"URI"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Database string `yaml:"database" env:"DATABASE"`
	// 业务节点 ID 下限，低于该值的是系统节点
	NodeIDThreshold string `yaml:"node_id_threshold" env:"NODE_ID_THRESHOLD"`
	// 关系抽取上限（显式采样边界，不是静默截断）
	RelationLimit int `yaml:"relation_limit" env:"RELATION_LIMIT"`
	// 查询超时
	QueryTimeout time.Duration `yaml:"query_timeout" env:"QUERY_TIMEOUT"`
}

// MilvusConfig Milvus 向量存储配置
type MilvusConfig struct {
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 集合名
	Collection string `yaml:"collection" env:"COLLECTION"`
	// 向量维度（必须与嵌入模型输出一致）
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// EmbeddingConfig 嵌入模型配置
type EmbeddingConfig struct {
	// 模型名
	Model string `yaml:"model" env:"MODEL"`
	// 服务地址（OpenAI 兼容端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// API Key（可选，本地服务可为空）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 输出维度
	Dimension int `yaml:"dimension" env:"DIMENSION"`
	// 单批最大文本数
	MaxBatch int `yaml:"max_batch" env:"MAX_BATCH"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 模型名
	Model string `yaml:"model" env:"MODEL"`
	// API Key（必填）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 服务地址（OpenAI 兼容端点）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 温度参数
	Temperature float64 `yaml:"temperature" env:"TEMPERATURE"`
	// 最大 Token 数
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 每秒请求数限制
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
}

// RetrievalConfig 检索配置
type RetrievalConfig struct {
	// 默认返回结果数
	TopK int `yaml:"top_k" env:"TOP_K"`
	// 图遍历最大深度
	MaxGraphDepth int `yaml:"max_graph_depth" env:"MAX_GRAPH_DEPTH"`
	// 实体缓存容量（预热高度数节点的上限）
	EntityCacheLimit int `yaml:"entity_cache_limit" env:"ENTITY_CACHE_LIMIT"`
	// 是否启用 LLM 关键词扩充
	EnableKeyEnrichment bool `yaml:"enable_key_enrichment" env:"ENABLE_KEY_ENRICHMENT"`
	// 文档分块大小
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// 分块重叠
	ChunkOverlap int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 是否启用二级子图缓存
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 默认过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" env:"DEFAULT_TTL"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "COOKGRAPH",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != reflect.TypeOf(time.Duration(0)) {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// Validate 验证配置
// 初始化必需项缺失属于致命错误，向上传播终止启动
func (c *Config) Validate() error {
	var errs []string

	if c.LLM.APIKey == "" {
		errs = append(errs, "llm api_key is required")
	}
	if c.Milvus.Dimension <= 0 {
		errs = append(errs, "milvus dimension must be positive")
	}
	if c.Embedding.Dimension > 0 && c.Embedding.Dimension != c.Milvus.Dimension {
		errs = append(errs, fmt.Sprintf("embedding dimension %d does not match milvus dimension %d",
			c.Embedding.Dimension, c.Milvus.Dimension))
	}
	if c.Retrieval.TopK <= 0 {
		errs = append(errs, "retrieval top_k must be positive")
	}
	if c.Retrieval.MaxGraphDepth <= 0 {
		errs = append(errs, "retrieval max_graph_depth must be positive")
	}
	if c.Graph.RelationLimit <= 0 {
		errs = append(errs, "graph relation_limit must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(errs, "; "))
	}
	return nil
}
