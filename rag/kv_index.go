package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/graph"
)

// =============================================================================
// 🔑 图键值索引
// =============================================================================

// EntityRecord 实体键值记录。
// EntityID 全局唯一且创建后不可变；DisplayName 恒为 IndexKeys 的成员。
type EntityRecord struct {
	EntityID    string         `json:"entity_id"`
	DisplayName string         `json:"display_name"`
	EntityType  string         `json:"entity_type"`
	IndexKeys   []string       `json:"index_keys"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	seq uint64
}

// RelationRecord 关系键值记录。
// 两端实体在创建时必须已被索引；RelationID 由 (序号, 源, 目标) 确定性派生，
// 同序输入重建后保持稳定。
type RelationRecord struct {
	RelationID     string         `json:"relation_id"`
	RelationType   string         `json:"relation_type"`
	SourceEntityID string         `json:"source_entity_id"`
	TargetEntityID string         `json:"target_entity_id"`
	IndexKeys      []string       `json:"index_keys"`
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`

	seq uint64
}

// KeywordEnricher 可选的 LLM 关键词扩展协作方。
// 返回 3-5 个短主题词；任何失败都只回退为不扩展。
type KeywordEnricher interface {
	SuggestKeywords(ctx context.Context, content string) ([]string, error)
}

// KeyValueIndexConfig 配置键值索引
type KeyValueIndexConfig struct {
	// 启用 LLM 关键词扩展
	EnableKeyEnrichment bool
}

// KeyValueIndex 将图实体与关系投影为可寻址的键值记录。
// 写入只发生在建索引/去重阶段，查询阶段为多读者只读访问。
type KeyValueIndex struct {
	cfg      KeyValueIndexConfig
	enricher KeywordEnricher
	logger   *zap.Logger

	mu           sync.RWMutex
	entities     map[string]*EntityRecord
	relations    map[string]*RelationRecord
	entityKeys   map[string]map[string]struct{} // key -> entity ids
	relationKeys map[string]map[string]struct{} // key -> relation ids
	entityRels   map[string][]string            // entity id -> relation ids
	seq          uint64
}

// NewKeyValueIndex 创建键值索引。enricher 可为 nil（不做关键词扩展）。
func NewKeyValueIndex(cfg KeyValueIndexConfig, enricher KeywordEnricher, logger *zap.Logger) *KeyValueIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeyValueIndex{
		cfg:          cfg,
		enricher:     enricher,
		logger:       logger.With(zap.String("component", "kv_index")),
		entities:     make(map[string]*EntityRecord),
		relations:    make(map[string]*RelationRecord),
		entityKeys:   make(map[string]map[string]struct{}),
		relationKeys: make(map[string]map[string]struct{}),
		entityRels:   make(map[string][]string),
	}
}

// IndexEntities 将类型化节点批量投影为实体记录。
// 记录按 EntityID 键控，同数据重跑产生逐字节一致的记录。
func (kv *KeyValueIndex) IndexEntities(recipes []graph.RecipeNode, ingredients []graph.IngredientNode, steps []graph.StepNode) map[string]*EntityRecord {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	for _, r := range recipes {
		kv.putEntityLocked(r.ID, r.Name, graph.LabelRecipe, recipeContent(r), map[string]any{
			"category": derefOr(r.Category, ""),
		})
	}
	for _, ing := range ingredients {
		kv.putEntityLocked(ing.ID, ing.Name, graph.LabelIngredient, ingredientContent(ing), map[string]any{
			"category": derefOr(ing.Category, ""),
		})
	}
	for _, st := range steps {
		kv.putEntityLocked(st.ID, st.Name, graph.LabelStep, stepContent(st), nil)
	}

	kv.rebuildKeyIndexLocked()
	kv.logger.Info("entities indexed",
		zap.Int("recipes", len(recipes)),
		zap.Int("ingredients", len(ingredients)),
		zap.Int("steps", len(steps)))

	out := make(map[string]*EntityRecord, len(kv.entities))
	for id, rec := range kv.entities {
		out[id] = rec
	}
	return out
}

func (kv *KeyValueIndex) putEntityLocked(id, name, entityType, content string, metadata map[string]any) {
	if id == "" {
		kv.logger.Warn("entity without id skipped", zap.String("type", entityType))
		return
	}
	display := name
	if display == "" {
		// 非唯一回退标签是预期行为
		display = strings.ToLower(entityType) + "_" + id
	}

	kv.seq++
	kv.entities[id] = &EntityRecord{
		EntityID:    id,
		DisplayName: display,
		EntityType:  entityType,
		IndexKeys:   []string{display},
		Content:     content,
		Metadata:    metadata,
		seq:         kv.seq,
	}
}

// IndexRelations 将图关系批量投影为关系记录。
// 端点未被索引的关系记警告后跳过；序号取输入位置，保证同序重建的 ID 稳定。
func (kv *KeyValueIndex) IndexRelations(ctx context.Context, relations []graph.Relation) map[string]*RelationRecord {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	accepted := 0
	for ordinal, rel := range relations {
		src, srcOK := kv.entities[rel.SourceID]
		tgt, tgtOK := kv.entities[rel.TargetID]
		if !srcOK || !tgtOK {
			kv.logger.Warn("relation endpoint not indexed, skipped",
				zap.String("source", rel.SourceID),
				zap.String("target", rel.TargetID),
				zap.String("type", rel.Type))
			continue
		}

		id := relationID(ordinal, rel.SourceID, rel.TargetID)
		content := fmt.Sprintf("%s %s %s", src.DisplayName, relationPhrase(rel.Type), tgt.DisplayName)

		keys := map[string]struct{}{rel.Type: {}}
		for _, k := range themeKeys(rel.Type, src.DisplayName, tgt.DisplayName) {
			keys[k] = struct{}{}
		}
		for _, k := range kv.enrichKeysLocked(ctx, content) {
			keys[k] = struct{}{}
		}

		kv.seq++
		kv.relations[id] = &RelationRecord{
			RelationID:     id,
			RelationType:   rel.Type,
			SourceEntityID: rel.SourceID,
			TargetEntityID: rel.TargetID,
			IndexKeys:      sortedKeys(keys),
			Content:        content,
			Metadata:       rel.Properties,
			seq:            kv.seq,
		}
		accepted++
	}

	kv.rebuildKeyIndexLocked()
	kv.logger.Info("relations indexed",
		zap.Int("accepted", accepted),
		zap.Int("skipped", len(relations)-accepted))

	out := make(map[string]*RelationRecord, len(kv.relations))
	for id, rec := range kv.relations {
		out[id] = rec
	}
	return out
}

// relationID 由序号与两端实体派生确定性 ID
func relationID(ordinal int, sourceID, targetID string) string {
	return fmt.Sprintf("rel_%d_%s_%s", ordinal, sourceID, targetID)
}

// themeKeys 按关系类型给出固定的主题键（最多 4 个）
func themeKeys(relationType, sourceName, targetName string) []string {
	switch relationType {
	case graph.RelRequires:
		return []string{"食材搭配", "烹饪原料", sourceName + "_食材", targetName}
	case graph.RelHasStep:
		return []string{"烹饪步骤", "制作流程", sourceName + "_步骤", targetName}
	case graph.RelBelongsTo:
		return []string{"菜谱分类", "菜系归属", sourceName + "_分类", targetName}
	default:
		return nil
	}
}

// relationPhrase 渲染关系内容的谓词
func relationPhrase(relationType string) string {
	switch relationType {
	case graph.RelRequires:
		return "需要"
	case graph.RelHasStep:
		return "包含步骤"
	case graph.RelBelongsTo:
		return "属于"
	default:
		return relationType
	}
}

// enrichKeysLocked 通过 LLM 建议 3-5 个主题词。
// 响应必须是严格的 {"keywords": [...]} 结构，解析不符即放弃扩展。
func (kv *KeyValueIndex) enrichKeysLocked(ctx context.Context, content string) []string {
	if !kv.cfg.EnableKeyEnrichment || kv.enricher == nil {
		return nil
	}

	words, err := kv.enricher.SuggestKeywords(ctx, content)
	if err != nil {
		kv.logger.Warn("keyword enrichment failed, using base keys", zap.Error(err))
		return nil
	}
	if len(words) < 3 || len(words) > 5 {
		kv.logger.Warn("keyword enrichment returned unexpected count, discarded",
			zap.Int("count", len(words)))
		return nil
	}
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || len([]rune(w)) > 16 {
			kv.logger.Warn("keyword enrichment returned malformed keyword, discarded")
			return nil
		}
		out = append(out, w)
	}
	return out
}

// Deduplicate 折叠同 (类型, 显示名) 的实体与同 (源, 目标, 类型) 的关系。
// 保留最新创建的记录，元数据合并且新值覆盖旧值。可重复调用且结果不变。
func (kv *KeyValueIndex) Deduplicate() {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	// 实体按 (类型, 显示名) 折叠
	byIdentity := make(map[string]*EntityRecord)
	for _, rec := range kv.entities {
		key := rec.EntityType + "\x00" + rec.DisplayName
		prev, ok := byIdentity[key]
		if !ok {
			byIdentity[key] = rec
			continue
		}
		newer, older := rec, prev
		if prev.seq > rec.seq {
			newer, older = prev, rec
		}
		newer.Metadata = mergeMetadata(older.Metadata, newer.Metadata)
		byIdentity[key] = newer
	}
	kept := make(map[string]*EntityRecord, len(byIdentity))
	for _, rec := range byIdentity {
		kept[rec.EntityID] = rec
	}
	kv.entities = kept

	// 关系按 (源, 目标, 类型) 折叠，端点已被折叠掉的关系一并丢弃
	relByIdentity := make(map[string]*RelationRecord)
	for _, rec := range kv.relations {
		if _, ok := kv.entities[rec.SourceEntityID]; !ok {
			continue
		}
		if _, ok := kv.entities[rec.TargetEntityID]; !ok {
			continue
		}
		key := rec.SourceEntityID + "\x00" + rec.TargetEntityID + "\x00" + rec.RelationType
		prev, ok := relByIdentity[key]
		if !ok {
			relByIdentity[key] = rec
			continue
		}
		newer, older := rec, prev
		if prev.seq > rec.seq {
			newer, older = prev, rec
		}
		newer.Metadata = mergeMetadata(older.Metadata, newer.Metadata)
		relByIdentity[key] = newer
	}
	relKept := make(map[string]*RelationRecord, len(relByIdentity))
	for _, rec := range relByIdentity {
		relKept[rec.RelationID] = rec
	}
	kv.relations = relKept

	kv.rebuildKeyIndexLocked()
	kv.logger.Info("index deduplicated",
		zap.Int("entities", len(kv.entities)),
		zap.Int("relations", len(kv.relations)))
}

// mergeMetadata 合并元数据，键冲突时 newer 覆盖 older
func mergeMetadata(older, newer map[string]any) map[string]any {
	if older == nil && newer == nil {
		return nil
	}
	merged := make(map[string]any, len(older)+len(newer))
	for k, v := range older {
		merged[k] = v
	}
	for k, v := range newer {
		merged[k] = v
	}
	return merged
}

// rebuildKeyIndexLocked 重建派生的键索引与关系邻接表。
// KeyIndex 永远是派生状态，记录存储变化后整体重建。
func (kv *KeyValueIndex) rebuildKeyIndexLocked() {
	kv.entityKeys = make(map[string]map[string]struct{})
	kv.relationKeys = make(map[string]map[string]struct{})
	kv.entityRels = make(map[string][]string)

	for id, rec := range kv.entities {
		for _, key := range rec.IndexKeys {
			if kv.entityKeys[key] == nil {
				kv.entityKeys[key] = make(map[string]struct{})
			}
			kv.entityKeys[key][id] = struct{}{}
		}
	}
	for id, rec := range kv.relations {
		for _, key := range rec.IndexKeys {
			if kv.relationKeys[key] == nil {
				kv.relationKeys[key] = make(map[string]struct{})
			}
			kv.relationKeys[key][id] = struct{}{}
		}
		kv.entityRels[rec.SourceEntityID] = append(kv.entityRels[rec.SourceEntityID], id)
		kv.entityRels[rec.TargetEntityID] = append(kv.entityRels[rec.TargetEntityID], id)
	}
	for _, ids := range kv.entityRels {
		sort.Strings(ids)
	}
}

// LookupByKey 精确匹配查询，返回命中的实体与关系 ID（升序）
func (kv *KeyValueIndex) LookupByKey(key string) (entityIDs, relationIDs []string) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return setToSlice(kv.entityKeys[key]), setToSlice(kv.relationKeys[key])
}

// Entity 按 ID 取实体记录
func (kv *KeyValueIndex) Entity(id string) (*EntityRecord, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	rec, ok := kv.entities[id]
	return rec, ok
}

// Relation 按 ID 取关系记录
func (kv *KeyValueIndex) Relation(id string) (*RelationRecord, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	rec, ok := kv.relations[id]
	return rec, ok
}

// RelationsOf 返回实体参与的全部关系 ID
func (kv *KeyValueIndex) RelationsOf(entityID string) []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	ids := kv.entityRels[entityID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// Keys 返回全部索引键（实体键与关系键的并集，升序）
func (kv *KeyValueIndex) Keys() []string {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	seen := make(map[string]struct{}, len(kv.entityKeys)+len(kv.relationKeys))
	for k := range kv.entityKeys {
		seen[k] = struct{}{}
	}
	for k := range kv.relationKeys {
		seen[k] = struct{}{}
	}
	return setToSlice(seen)
}

// Statistics 返回索引统计
func (kv *KeyValueIndex) Statistics() map[string]int {
	kv.mu.RLock()
	defer kv.mu.RUnlock()

	keys := make(map[string]struct{}, len(kv.entityKeys)+len(kv.relationKeys))
	for k := range kv.entityKeys {
		keys[k] = struct{}{}
	}
	for k := range kv.relationKeys {
		keys[k] = struct{}{}
	}
	return map[string]int{
		"entity_count":   len(kv.entities),
		"relation_count": len(kv.relations),
		"key_count":      len(keys),
	}
}

// =============================================================================
// 🧾 内容块渲染：缺失字段直接省略，不输出空占位
// =============================================================================

func recipeContent(r graph.RecipeNode) string {
	var sb strings.Builder
	sb.WriteString("菜谱: " + displayOf(r.Name, graph.LabelRecipe, r.ID))
	appendField(&sb, "描述", r.Description)
	appendField(&sb, "分类", r.Category)
	appendField(&sb, "菜系", r.Cuisine)
	appendField(&sb, "难度", r.Difficulty)
	if r.TimeMinutes != nil {
		sb.WriteString(fmt.Sprintf("\n耗时: %d分钟", *r.TimeMinutes))
	}
	appendField(&sb, "营养", r.Nutrition)
	return sb.String()
}

func ingredientContent(i graph.IngredientNode) string {
	var sb strings.Builder
	sb.WriteString("食材: " + displayOf(i.Name, graph.LabelIngredient, i.ID))
	appendField(&sb, "描述", i.Description)
	appendField(&sb, "分类", i.Category)
	appendField(&sb, "储存", i.Storage)
	return sb.String()
}

func stepContent(s graph.StepNode) string {
	var sb strings.Builder
	sb.WriteString("步骤: " + displayOf(s.Name, graph.LabelStep, s.ID))
	appendField(&sb, "描述", s.Description)
	appendField(&sb, "技法", s.Technique)
	if s.DurationMinutes != nil {
		sb.WriteString(fmt.Sprintf("\n时长: %d分钟", *s.DurationMinutes))
	}
	return sb.String()
}

func displayOf(name, entityType, id string) string {
	if name != "" {
		return name
	}
	return strings.ToLower(entityType) + "_" + id
}

func appendField(sb *strings.Builder, label string, value *string) {
	if value != nil && *value != "" {
		sb.WriteString("\n" + label + ": " + *value)
	}
}

func derefOr(p *string, fallback string) string {
	if p != nil {
		return *p
	}
	return fallback
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func setToSlice(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ParseKeywordResponse 校验关键词扩展响应的严格结构。
// 供 LLM 协作方实现 KeywordEnricher 时复用。
func ParseKeywordResponse(raw string) ([]string, error) {
	var payload struct {
		Keywords []string `json:"keywords"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &payload); err != nil {
		return nil, fmt.Errorf("keyword response is not valid JSON: %w", err)
	}
	if payload.Keywords == nil {
		return nil, fmt.Errorf("keyword response missing keywords field")
	}
	return payload.Keywords, nil
}
