package graph

import (
	"context"
	"strings"
	"testing"

	"github.com/BaSui01/cookgraph/types"
)

func TestDataModuleLoadGraphData(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	s.AddNode(Node{
		ID: "200000001", Labels: []string{LabelRecipe}, Name: "红烧肉",
		Properties: map[string]any{
			"description":  "经典本帮菜",
			"category":     "荤菜",
			"difficulty":   "中等",
			"time_minutes": float64(90),
		},
	})
	s.AddNode(Node{ID: "200000010", Labels: []string{LabelIngredient}, Name: "五花肉",
		Properties: map[string]any{"category": "肉类"}})
	s.AddNode(Node{ID: "200000020", Labels: []string{LabelStep},
		Properties: map[string]any{"technique": "炒"}})
	s.AddNode(Node{ID: "100000001", Labels: []string{LabelRecipe}, Name: "系统占位"})

	dm := NewDataModule(s, DataConfig{NodeIDThreshold: "200000000", ChunkSize: 500, ChunkOverlap: 50}, nil)
	if err := dm.LoadGraphData(context.Background()); err != nil {
		t.Fatalf("LoadGraphData: %v", err)
	}

	recipes := dm.Recipes()
	if len(recipes) != 1 {
		t.Fatalf("expected 1 recipe, got %d", len(recipes))
	}
	r := recipes[0]
	if r.Name != "红烧肉" {
		t.Errorf("recipe name = %q", r.Name)
	}
	if r.Description == nil || *r.Description != "经典本帮菜" {
		t.Errorf("description not mapped: %v", r.Description)
	}
	if r.TimeMinutes == nil || *r.TimeMinutes != 90 {
		t.Errorf("time_minutes not mapped from float64: %v", r.TimeMinutes)
	}
	if r.Cuisine != nil {
		t.Errorf("absent cuisine should be nil, got %q", *r.Cuisine)
	}

	steps := dm.Steps()
	if len(steps) != 1 {
		t.Fatalf("expected 1 step, got %d", len(steps))
	}
	// 无名节点回退为 标签_ID
	if steps[0].Name != "step_200000020" {
		t.Errorf("fallback name = %q", steps[0].Name)
	}
}

func TestDataModuleBuildChunks(t *testing.T) {
	t.Parallel()
	s := NewMemoryStore(nil)
	desc := strings.Repeat("先炒糖色再收汁。", 30)
	s.AddNode(Node{
		ID: "200000001", Labels: []string{LabelRecipe}, Name: "红烧肉",
		Properties: map[string]any{"description": desc},
	})

	dm := NewDataModule(s, DataConfig{ChunkSize: 100, ChunkOverlap: 20}, nil)
	if err := dm.LoadGraphData(context.Background()); err != nil {
		t.Fatalf("LoadGraphData: %v", err)
	}
	chunks, err := dm.BuildChunks()
	if err != nil {
		t.Fatalf("BuildChunks: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("long document should split into multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.RecipeID != "200000001" {
			t.Errorf("chunk %d recipe_id = %q", i, c.RecipeID)
		}
		if n := len([]rune(c.Text)); n > 100 {
			t.Errorf("chunk %d has %d runes, exceeds size", i, n)
		}
	}
	// 相邻块之间有重叠
	first := []rune(chunks[0].Text)
	second := []rune(chunks[1].Text)
	if string(first[len(first)-20:]) != string(second[:20]) {
		t.Errorf("chunks do not overlap as configured")
	}

	stats := dm.Statistics()
	if stats["total_chunks"] != len(chunks) {
		t.Errorf("statistics chunks = %d, want %d", stats["total_chunks"], len(chunks))
	}
}

func TestDataModuleBuildChunksWithoutLoad(t *testing.T) {
	t.Parallel()
	dm := NewDataModule(NewMemoryStore(nil), DataConfig{}, nil)
	_, err := dm.BuildChunks()
	if !types.IsCode(err, types.ErrConfiguration) {
		t.Fatalf("expected CONFIGURATION error, got %v", err)
	}
}
