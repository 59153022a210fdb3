package rag

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/BaSui01/cookgraph/graph"
)

func strPtr(s string) *string { return &s }

func buildTestIndex(t *testing.T) *KeyValueIndex {
	t.Helper()
	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)

	kv.IndexEntities(
		[]graph.RecipeNode{
			{ID: "r1", Name: "红烧肉", Category: strPtr("荤菜"), Difficulty: strPtr("中等")},
			{ID: "r2", Name: "番茄炒蛋"},
		},
		[]graph.IngredientNode{
			{ID: "i1", Name: "五花肉", Storage: strPtr("冷藏")},
			{ID: "i2", Name: "鸡蛋"},
		},
		[]graph.StepNode{
			{ID: "s1", Name: "炒糖色", Technique: strPtr("炒")},
		},
	)
	kv.IndexRelations(context.Background(), []graph.Relation{
		{SourceID: "r1", TargetID: "i1", Type: graph.RelRequires},
		{SourceID: "r1", TargetID: "s1", Type: graph.RelHasStep},
		{SourceID: "r2", TargetID: "i2", Type: graph.RelRequires},
	})
	return kv
}

func TestKeyValueIndexDisplayNameInKeys(t *testing.T) {
	kv := buildTestIndex(t)

	for _, id := range []string{"r1", "r2", "i1", "i2", "s1"} {
		rec, ok := kv.Entity(id)
		if !ok {
			t.Fatalf("entity %s missing", id)
		}
		found := false
		for _, k := range rec.IndexKeys {
			if k == rec.DisplayName {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("entity %s: display name %q not in index keys %v", id, rec.DisplayName, rec.IndexKeys)
		}
	}
}

func TestKeyValueIndexFallbackName(t *testing.T) {
	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)
	kv.IndexEntities([]graph.RecipeNode{{ID: "42"}}, nil, nil)

	rec, ok := kv.Entity("42")
	if !ok {
		t.Fatal("entity missing")
	}
	if rec.DisplayName != "recipe_42" {
		t.Errorf("fallback display name = %q, want recipe_42", rec.DisplayName)
	}
}

func TestKeyValueIndexIdempotentRebuild(t *testing.T) {
	kv := buildTestIndex(t)
	before, _ := kv.Entity("r1")
	snapshot := *before

	kv.IndexEntities(
		[]graph.RecipeNode{{ID: "r1", Name: "红烧肉", Category: strPtr("荤菜"), Difficulty: strPtr("中等")}},
		nil, nil)

	after, _ := kv.Entity("r1")
	if after.DisplayName != snapshot.DisplayName ||
		after.Content != snapshot.Content ||
		!reflect.DeepEqual(after.IndexKeys, snapshot.IndexKeys) ||
		!reflect.DeepEqual(after.Metadata, snapshot.Metadata) {
		t.Errorf("repeat indexing changed record:\nbefore %+v\nafter  %+v", snapshot, *after)
	}
}

func TestKeyValueIndexRelationEndpointIntegrity(t *testing.T) {
	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)
	kv.IndexEntities([]graph.RecipeNode{{ID: "r1", Name: "红烧肉"}}, nil, nil)

	rels := kv.IndexRelations(context.Background(), []graph.Relation{
		{SourceID: "r1", TargetID: "ghost", Type: graph.RelRequires},
		{SourceID: "ghost", TargetID: "r1", Type: graph.RelRequires},
	})
	if len(rels) != 0 {
		t.Fatalf("dangling relations must be dropped, got %d", len(rels))
	}

	stats := kv.Statistics()
	if stats["relation_count"] != 0 {
		t.Errorf("relation_count = %d, want 0", stats["relation_count"])
	}
}

func TestKeyValueIndexDeterministicRelationID(t *testing.T) {
	rels := []graph.Relation{
		{SourceID: "r1", TargetID: "i1", Type: graph.RelRequires},
		{SourceID: "r1", TargetID: "s1", Type: graph.RelHasStep},
	}

	build := func() []string {
		kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)
		kv.IndexEntities(
			[]graph.RecipeNode{{ID: "r1", Name: "红烧肉"}},
			[]graph.IngredientNode{{ID: "i1", Name: "五花肉"}},
			[]graph.StepNode{{ID: "s1", Name: "炒糖色"}},
		)
		out := kv.IndexRelations(context.Background(), rels)
		ids := make([]string, 0, len(out))
		for id := range out {
			ids = append(ids, id)
		}
		return ids
	}

	first := build()
	second := build()
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("expected 2 relations per build, got %d and %d", len(first), len(second))
	}
	set := make(map[string]struct{})
	for _, id := range first {
		set[id] = struct{}{}
	}
	for _, id := range second {
		if _, ok := set[id]; !ok {
			t.Errorf("relation id %q not stable across rebuilds", id)
		}
	}
}

func TestKeyValueIndexThemeKeys(t *testing.T) {
	kv := buildTestIndex(t)

	entityIDs, relationIDs := kv.LookupByKey("食材搭配")
	if len(entityIDs) != 0 {
		t.Errorf("theme key should not match entities, got %v", entityIDs)
	}
	if len(relationIDs) != 2 {
		t.Errorf("expected 2 REQUIRES relations under 食材搭配, got %v", relationIDs)
	}

	_, relationIDs = kv.LookupByKey("红烧肉_食材")
	if len(relationIDs) != 1 {
		t.Errorf("expected source-scoped theme key hit, got %v", relationIDs)
	}

	// 目标实体名同时作为关系主题键
	entityIDs, relationIDs = kv.LookupByKey("五花肉")
	if len(entityIDs) != 1 || len(relationIDs) != 1 {
		t.Errorf("target name key: entities=%v relations=%v", entityIDs, relationIDs)
	}

	// 精确匹配，不做模糊
	if e, r := kv.LookupByKey("食材"); len(e) != 0 || len(r) != 0 {
		t.Errorf("partial key must not match: entities=%v relations=%v", e, r)
	}
}

type scriptedEnricher struct {
	keywords []string
	err      error
	calls    int
}

func (s *scriptedEnricher) SuggestKeywords(ctx context.Context, content string) ([]string, error) {
	s.calls++
	return s.keywords, s.err
}

func TestKeyValueIndexEnrichment(t *testing.T) {
	cases := []struct {
		name     string
		enricher *scriptedEnricher
		wantKey  string
		wantHit  bool
	}{
		{"valid", &scriptedEnricher{keywords: []string{"家常菜", "下饭", "经典"}}, "下饭", true},
		{"error degrades", &scriptedEnricher{err: errors.New("llm down")}, "下饭", false},
		{"too few discarded", &scriptedEnricher{keywords: []string{"下饭"}}, "下饭", false},
		{"too many discarded", &scriptedEnricher{keywords: []string{"a", "b", "c", "d", "e", "f"}}, "a", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kv := NewKeyValueIndex(KeyValueIndexConfig{EnableKeyEnrichment: true}, tc.enricher, nil)
			kv.IndexEntities(
				[]graph.RecipeNode{{ID: "r1", Name: "红烧肉"}},
				[]graph.IngredientNode{{ID: "i1", Name: "五花肉"}},
				nil)
			kv.IndexRelations(context.Background(), []graph.Relation{
				{SourceID: "r1", TargetID: "i1", Type: graph.RelRequires},
			})

			if tc.enricher.calls == 0 {
				t.Fatal("enricher never consulted")
			}
			_, relationIDs := kv.LookupByKey(tc.wantKey)
			if tc.wantHit && len(relationIDs) != 1 {
				t.Errorf("enriched key %q missing", tc.wantKey)
			}
			if !tc.wantHit && len(relationIDs) != 0 {
				t.Errorf("discarded enrichment leaked key %q", tc.wantKey)
			}
			// 扩展失败不影响基础键
			if _, rels := kv.LookupByKey(graph.RelRequires); len(rels) != 1 {
				t.Error("base relation type key lost")
			}
		})
	}
}

func TestKeyValueIndexDeduplicate(t *testing.T) {
	kv := NewKeyValueIndex(KeyValueIndexConfig{}, nil, nil)

	// 同名同类型的两次收录，后者带新的元数据
	kv.IndexEntities([]graph.RecipeNode{{ID: "old", Name: "红烧肉", Category: strPtr("家常")}}, nil, nil)
	kv.IndexEntities([]graph.RecipeNode{{ID: "new", Name: "红烧肉", Category: strPtr("荤菜")}}, nil, nil)

	kv.Deduplicate()

	stats := kv.Statistics()
	if stats["entity_count"] != 1 {
		t.Fatalf("entity_count = %d, want 1", stats["entity_count"])
	}
	if _, ok := kv.Entity("new"); !ok {
		t.Error("newest record must survive dedup")
	}
	if _, ok := kv.Entity("old"); ok {
		t.Error("older duplicate must be collapsed")
	}
	rec, _ := kv.Entity("new")
	if rec.Metadata["category"] != "荤菜" {
		t.Errorf("newer metadata must win: %v", rec.Metadata)
	}

	// 键索引重建后仍可查
	entityIDs, _ := kv.LookupByKey("红烧肉")
	if len(entityIDs) != 1 || entityIDs[0] != "new" {
		t.Errorf("key index not rebuilt after dedup: %v", entityIDs)
	}
}

func TestKeyValueIndexStatistics(t *testing.T) {
	kv := buildTestIndex(t)
	stats := kv.Statistics()
	if stats["entity_count"] != 5 {
		t.Errorf("entity_count = %d, want 5", stats["entity_count"])
	}
	if stats["relation_count"] != 3 {
		t.Errorf("relation_count = %d, want 3", stats["relation_count"])
	}
	if stats["key_count"] == 0 {
		t.Error("key_count must be positive")
	}
}

func TestParseKeywordResponse(t *testing.T) {
	words, err := ParseKeywordResponse(`{"keywords": ["家常菜", "下饭", "经典"]}`)
	if err != nil {
		t.Fatalf("valid response rejected: %v", err)
	}
	if len(words) != 3 {
		t.Errorf("got %d keywords", len(words))
	}

	for _, bad := range []string{"not json", `{"words": ["a"]}`, `{}`} {
		if _, err := ParseKeywordResponse(bad); err == nil {
			t.Errorf("malformed response %q accepted", bad)
		}
	}
}

func TestKeyValueIndexConcurrentReads(t *testing.T) {
	kv := buildTestIndex(t)

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				kv.LookupByKey("红烧肉")
				kv.Keys()
				kv.Statistics()
				if n%2 == 0 && j%10 == 0 {
					kv.Deduplicate()
				}
			}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	if stats := kv.Statistics(); stats["entity_count"] != 5 {
		t.Errorf("concurrent access corrupted index: %v", stats)
	}
}

func TestRelationIDFormat(t *testing.T) {
	id := relationID(7, "a", "b")
	if id != fmt.Sprintf("rel_%d_%s_%s", 7, "a", "b") {
		t.Errorf("relation id = %q", id)
	}
}
