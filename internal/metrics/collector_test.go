package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestCollector() *Collector {
	// 独立注册表避免测试间指标冲突
	return NewCollector("cookgraph_test", prometheus.NewRegistry(), zap.NewNop())
}

func TestCollector_RoutingDecisions(t *testing.T) {
	c := newTestCollector()

	c.RecordRoutingDecision("traditional")
	c.RecordRoutingDecision("graph_rag")
	c.RecordRoutingDecision("graph_rag")

	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.routingDecisionsTotal.WithLabelValues("traditional")))
	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.routingDecisionsTotal.WithLabelValues("graph_rag")))
}

func TestCollector_CacheCounters(t *testing.T) {
	c := newTestCollector()

	c.RecordCacheHit("subgraph")
	c.RecordCacheHit("subgraph")
	c.RecordCacheMiss("subgraph")

	assert.Equal(t, float64(2),
		testutil.ToFloat64(c.cacheHits.WithLabelValues("subgraph")))
	assert.Equal(t, float64(1),
		testutil.ToFloat64(c.cacheMisses.WithLabelValues("subgraph")))
}

func TestCollector_GenerationCounters(t *testing.T) {
	c := newTestCollector()

	c.RecordGenerationRetry()
	c.RecordGenerationRetry()
	c.RecordGenerationFallback()

	assert.Equal(t, float64(2), testutil.ToFloat64(c.generationRetriesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(c.generationFallbackTotal))
}

func TestCollector_RetrievalObservations(t *testing.T) {
	c := newTestCollector()

	// 直方图观测不 panic 即可，具体分布由 prometheus 保证
	c.RecordRetrieval("hybrid", 120*time.Millisecond, 5)
	c.RecordRetrieval("graph", 300*time.Millisecond, 0)
}
