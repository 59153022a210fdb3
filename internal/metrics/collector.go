// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 检索指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 路由指标
	routingDecisionsTotal *prometheus.CounterVec

	// 检索指标
	retrievalDuration *prometheus.HistogramVec
	retrievalResults  *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 生成指标
	generationRetriesTotal  prometheus.Counter
	generationFallbackTotal prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到给定的 Registerer。
// reg 为 nil 时使用默认全局注册表。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 路由指标
	c.routingDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Total number of routing decisions by strategy",
		},
		[]string{"decision"}, // traditional, graph_rag, combined
	)

	// 检索指标
	c.retrievalDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"retriever"}, // hybrid, graph
	)

	c.retrievalResults = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_results",
			Help:      "Number of results returned per retrieval",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50},
		},
		[]string{"retriever"},
	)

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache"}, // subgraph, entity, routing
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// 生成指标
	c.generationRetriesTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_retries_total",
			Help:      "Total number of LLM generation retries",
		},
	)

	c.generationFallbackTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_fallbacks_total",
			Help:      "Total number of falls back to non-streaming generation",
		},
	)

	return c
}

// RecordRoutingDecision 记录一次路由决策
func (c *Collector) RecordRoutingDecision(decision string) {
	c.routingDecisionsTotal.WithLabelValues(decision).Inc()
}

// RecordRetrieval 记录一次检索的耗时与结果数
func (c *Collector) RecordRetrieval(retriever string, duration time.Duration, results int) {
	c.retrievalDuration.WithLabelValues(retriever).Observe(duration.Seconds())
	c.retrievalResults.WithLabelValues(retriever).Observe(float64(results))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cache string) {
	c.cacheHits.WithLabelValues(cache).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cache string) {
	c.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordGenerationRetry 记录一次生成重试
func (c *Collector) RecordGenerationRetry() {
	c.generationRetriesTotal.Inc()
}

// RecordGenerationFallback 记录一次降级到非流式生成
func (c *Collector) RecordGenerationFallback() {
	c.generationFallbackTotal.Inc()
}
