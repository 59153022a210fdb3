package rag

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/BaSui01/cookgraph/graph"
)

func newTestRouter(t *testing.T) *QueryRouter {
	t.Helper()

	store := graph.NewMemoryStore(nil)
	store.AddNode(graph.Node{ID: "r1", Labels: []string{graph.LabelRecipe}, Name: "红烧肉"})
	store.AddNode(graph.Node{ID: "i1", Labels: []string{graph.LabelIngredient}, Name: "五花肉"})
	if err := store.AddRelation(graph.Relation{SourceID: "r1", TargetID: "i1", Type: graph.RelRequires}); err != nil {
		t.Fatal(err)
	}

	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)
	kv.IndexEntities(
		[]graph.RecipeNode{{ID: "r1", Name: "红烧肉"}},
		[]graph.IngredientNode{{ID: "i1", Name: "五花肉"}},
		nil)
	kv.IndexRelations(context.Background(), []graph.Relation{
		{SourceID: "r1", TargetID: "i1", Type: graph.RelRequires},
	})

	keyword := NewKeywordIndex(DefaultKeywordIndexConfig(), nil)
	hybrid := NewHybridRetriever(HybridConfig{TopK: 5}, keyword, nil, nil, kv, nil)
	if err := hybrid.Initialize(context.Background(), testChunks); err != nil {
		t.Fatal(err)
	}

	engine := NewGraphTraversalEngine(store, kv, TraversalConfig{MaxDepth: 2}, nil)
	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	return NewQueryRouter(RouterConfig{TopK: 5}, hybrid, engine, nil)
}

func TestRouteDecisions(t *testing.T) {
	r := newTestRouter(t)

	cases := []struct {
		query string
		want  RoutingDecision
	}{
		{"红烧肉怎么做", DecisionTraditional},
		{"how to make braised pork", DecisionTraditional},
		{"红烧肉需要什么搭配", DecisionGraphRAG},
		{"哪些菜属于川菜", DecisionCombined},
		{"红烧肉和番茄炒蛋的区别", DecisionGraphRAG},
		{"今天吃什么", DecisionCombined},
	}
	for _, tc := range cases {
		if got := r.Route(tc.query); got != tc.want {
			t.Errorf("Route(%q) = %v, want %v", tc.query, got, tc.want)
		}
	}
}

func TestRouteRelationPhrasingNeverTraditional(t *testing.T) {
	r := newTestRouter(t)

	queries := []string{
		"五花肉和冰糖一起怎么用",
		"什么食材可以和鸡蛋一起炒",
		"which dish contains eggs",
	}
	for _, q := range queries {
		if got := r.Route(q); got == DecisionTraditional {
			t.Errorf("Route(%q) = traditional, relation phrasing must route to graph or combined", q)
		}
	}
}

func TestRouterStatisticsZeroQueries(t *testing.T) {
	r := newTestRouter(t)

	stats := r.Statistics()
	if stats.TotalQueries != 0 {
		t.Fatalf("fresh router has %d queries", stats.TotalQueries)
	}
	for name, ratio := range map[string]float64{
		"traditional": stats.TraditionalRatio,
		"graph":       stats.GraphRatio,
		"combined":    stats.CombinedRatio,
	} {
		if ratio != 0 {
			t.Errorf("%s ratio = %v with zero queries, want 0", name, ratio)
		}
		if math.IsNaN(ratio) {
			t.Errorf("%s ratio is NaN", name)
		}
	}
}

func TestRouterAnswerCountsAndTags(t *testing.T) {
	r := newTestRouter(t)
	ctx := context.Background()

	if _, decision, err := r.Answer(ctx, "红烧肉怎么做"); err != nil || decision != DecisionTraditional {
		t.Fatalf("traditional answer: decision=%v err=%v", decision, err)
	}
	if _, decision, err := r.Answer(ctx, "红烧肉需要什么搭配"); err != nil || decision != DecisionGraphRAG {
		t.Fatalf("graph answer: decision=%v err=%v", decision, err)
	}
	results, decision, err := r.Answer(ctx, "今天吃什么")
	if err != nil || decision != DecisionCombined {
		t.Fatalf("combined answer: decision=%v err=%v", decision, err)
	}
	for _, res := range results {
		if res.Source == "" {
			t.Errorf("merged result missing source tag: %+v", res)
		}
	}

	stats := r.Statistics()
	if stats.TotalQueries != 3 {
		t.Errorf("total = %d, want 3", stats.TotalQueries)
	}
	if stats.TraditionalCount != 1 || stats.GraphCount != 1 || stats.CombinedCount != 1 {
		t.Errorf("counts = %+v", stats.RoutingStats)
	}
	sum := stats.TraditionalRatio + stats.GraphRatio + stats.CombinedRatio
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("ratios sum to %v, want 1", sum)
	}
}

func TestRouterConcurrentAnswers(t *testing.T) {
	r := newTestRouter(t)

	const workers = 8
	const perWorker = 25

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_, _, _ = r.Answer(context.Background(), "红烧肉需要什么搭配")
			}
		}()
	}
	wg.Wait()

	stats := r.Statistics()
	if stats.TotalQueries != workers*perWorker {
		t.Errorf("lost updates: total = %d, want %d", stats.TotalQueries, workers*perWorker)
	}
	if stats.GraphCount != workers*perWorker {
		t.Errorf("graph count = %d, want %d", stats.GraphCount, workers*perWorker)
	}
}

func TestAnswerSurfacesAllSourcesFailed(t *testing.T) {
	store := graph.NewMemoryStore(nil)
	store.AddNode(graph.Node{ID: "r1", Labels: []string{graph.LabelRecipe}, Name: "红烧肉"})

	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)
	kv.IndexEntities([]graph.RecipeNode{{ID: "r1", Name: "红烧肉"}}, nil, nil)

	keyword := NewKeywordIndex(DefaultKeywordIndexConfig(), nil)
	hybrid := NewHybridRetriever(HybridConfig{TopK: 5}, keyword, nil, nil, kv, nil)
	if err := hybrid.Initialize(context.Background(), testChunks); err != nil {
		t.Fatal(err)
	}

	// 引擎未初始化：图检索路必然 NOT_READY
	engine := NewGraphTraversalEngine(store, kv, TraversalConfig{MaxDepth: 2}, nil)
	r := NewQueryRouter(RouterConfig{TopK: 5}, hybrid, engine, nil)

	// 纯图路由：唯一被分发的引擎失败，错误向上传播且结果为空
	query := "红烧肉通过什么食材和哪些菜之间有关系"
	if r.Route(query) != DecisionGraphRAG {
		t.Fatalf("query %q should route to graph_rag", query)
	}
	results, decision, err := r.Answer(context.Background(), query)
	if err == nil {
		t.Fatal("expected error when the only dispatched engine fails")
	}
	if decision != DecisionGraphRAG {
		t.Errorf("decision = %s, want graph_rag", decision)
	}
	if len(results) != 0 {
		t.Errorf("expected empty results on total failure, got %d", len(results))
	}

	// 双路并行：图侧失败降级为部分结果，不报错
	combinedQuery := "今天吃什么"
	if r.Route(combinedQuery) != DecisionCombined {
		t.Fatalf("query %q should route to combined", combinedQuery)
	}
	results, _, err = r.Answer(context.Background(), combinedQuery)
	if err != nil {
		t.Fatalf("combined with one healthy side should not error: %v", err)
	}
	for _, res := range results {
		if res.RetrievalLevel == LevelTheme {
			t.Errorf("degraded graph side still produced subgraph result: %+v", res)
		}
	}
}
