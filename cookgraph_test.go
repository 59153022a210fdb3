package cookgraph

import (
	"context"
	"strings"
	"testing"

	"github.com/BaSui01/cookgraph/config"
	"github.com/BaSui01/cookgraph/graph"
	"github.com/BaSui01/cookgraph/llm"
	"github.com/BaSui01/cookgraph/rag"
)

// stubProvider 返回固定回答的 LLM 协作方
type stubProvider struct {
	answer string
}

func (p *stubProvider) Name() string { return "stub" }

func (p *stubProvider) Generate(ctx context.Context, req *llm.GenerateRequest) (*llm.GenerateResponse, error) {
	return &llm.GenerateResponse{Content: p.answer, Model: "stub"}, nil
}

func (p *stubProvider) Stream(ctx context.Context, req *llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Delta: p.answer}
	ch <- llm.StreamChunk{FinishReason: "stop"}
	close(ch)
	return ch, nil
}

// hashEmbedder 确定性词袋嵌入
type hashEmbedder struct{ dim int }

func (h *hashEmbedder) Dimension() int { return h.dim }

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, h.dim)
	for _, r := range text {
		vec[int(r)%h.dim]++
	}
	return vec, nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		v, _ := h.Embed(ctx, t)
		out = append(out, v)
	}
	return out, nil
}

func seedGraph(t *testing.T) *graph.MemoryStore {
	t.Helper()
	s := graph.NewMemoryStore(nil)
	s.AddNode(graph.Node{
		ID: "200000001", Labels: []string{graph.LabelRecipe}, Name: "红烧肉",
		Properties: map[string]any{"description": "经典本帮菜，肥而不腻", "category": "荤菜"},
	})
	s.AddNode(graph.Node{ID: "200000010", Labels: []string{graph.LabelIngredient}, Name: "五花肉"})
	s.AddNode(graph.Node{ID: "200000020", Labels: []string{graph.LabelStep}, Name: "炒糖色"})
	for _, rel := range []graph.Relation{
		{SourceID: "200000001", TargetID: "200000010", Type: graph.RelRequires},
		{SourceID: "200000001", TargetID: "200000020", Type: graph.RelHasStep},
	} {
		if err := s.AddRelation(rel); err != nil {
			t.Fatal(err)
		}
	}
	return s
}

func newTestSystem(t *testing.T) *System {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Graph.NodeIDThreshold = "200000000"

	client := llm.NewClient(&stubProvider{answer: "先煸炒五花肉，再炒糖色上色。"}, nil)
	sys, err := NewSystem(cfg, seedGraph(t), nil,
		WithLLMClient(client),
		WithEmbedder(&hashEmbedder{dim: 16}),
		WithVectorStore(rag.NewInMemoryVectorStore(nil)),
	)
	if err != nil {
		t.Fatal(err)
	}
	return sys
}

func TestSystemLifecycle(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()

	if err := sys.InitSystem(ctx); err != nil {
		t.Fatalf("InitSystem: %v", err)
	}
	if err := sys.BuildKnowledgeBase(ctx); err != nil {
		t.Fatalf("BuildKnowledgeBase: %v", err)
	}

	results, decision, err := sys.Retrieve(ctx, "红烧肉怎么做")
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if decision != rag.DecisionTraditional {
		t.Errorf("decision = %v", decision)
	}
	if len(results) == 0 {
		t.Fatal("expected retrieval results")
	}

	stats := sys.KnowledgeBaseStats(ctx)
	index := stats["index"].(map[string]int)
	if index["entity_count"] != 3 {
		t.Errorf("entity_count = %d, want 3", index["entity_count"])
	}
	if stats["vector_documents"].(int) == 0 {
		t.Error("vector corpus empty after build")
	}
	routing := stats["routing"].(rag.RouterStatistics)
	if routing.TotalQueries != 1 {
		t.Errorf("total queries = %d, want 1", routing.TotalQueries)
	}
}

func TestSystemAnswerStreams(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	if err := sys.InitSystem(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sys.BuildKnowledgeBase(ctx); err != nil {
		t.Fatal(err)
	}

	var streamed strings.Builder
	answer := sys.Answer(ctx, "红烧肉需要什么食材", func(delta string) {
		streamed.WriteString(delta)
	})

	if answer == "" {
		t.Fatal("answer must never be empty")
	}
	if !strings.Contains(answer, "五花肉") {
		t.Errorf("answer = %q", answer)
	}
	if streamed.String() != answer {
		t.Errorf("streamed %q != final %q", streamed.String(), answer)
	}
}

func TestSystemBuildKnowledgeBaseReusesCollection(t *testing.T) {
	sys := newTestSystem(t)
	ctx := context.Background()
	if err := sys.InitSystem(ctx); err != nil {
		t.Fatal(err)
	}
	if err := sys.BuildKnowledgeBase(ctx); err != nil {
		t.Fatal(err)
	}
	first, _ := sys.vector.Count(ctx)

	// 再次构建不应重复嵌入写入
	if err := sys.BuildKnowledgeBase(ctx); err != nil {
		t.Fatal(err)
	}
	second, _ := sys.vector.Count(ctx)
	if first != second {
		t.Errorf("document count changed on rebuild: %d -> %d", first, second)
	}
}

func TestSystemRequiresConfigAndStore(t *testing.T) {
	if _, err := NewSystem(nil, seedGraph(t), nil); err == nil {
		t.Error("nil config accepted")
	}
	if _, err := NewSystem(config.DefaultConfig(), nil, nil); err == nil {
		t.Error("nil store accepted")
	}
}
