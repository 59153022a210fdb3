package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/types"
)

// =============================================================================
// 🍳 类型化节点（tagged union over Recipe / Ingredient / Step）
// =============================================================================
// 可选字段用指针显式表示缺失，不做动态属性探测。

// RecipeNode 菜谱节点
type RecipeNode struct {
	ID          string
	Name        string
	Description *string
	Category    *string
	Cuisine     *string
	Difficulty  *string
	TimeMinutes *int
	Nutrition   *string
}

// IngredientNode 食材节点
type IngredientNode struct {
	ID          string
	Name        string
	Description *string
	Category    *string
	Storage     *string
}

// StepNode 烹饪步骤节点
type StepNode struct {
	ID              string
	Name            string
	Description     *string
	Technique       *string
	DurationMinutes *int
}

// TextChunk 供关键词/向量层消费的文本块
type TextChunk struct {
	ID       string         `json:"id"`
	RecipeID string         `json:"recipe_id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// =============================================================================
// 📚 图数据加载
// =============================================================================

// DataConfig 配置数据加载
type DataConfig struct {
	// 业务节点 ID 下限
	NodeIDThreshold string
	// 文档分块大小（按 rune 计）
	ChunkSize int
	// 分块重叠
	ChunkOverlap int
}

// DataModule 从图存储加载类型化节点并构建菜谱文档语料。
// 加载是单写阶段：LoadGraphData 持写锁，之后的读取无需加锁。
type DataModule struct {
	store  Store
	cfg    DataConfig
	logger *zap.Logger

	mu          sync.RWMutex
	recipes     []RecipeNode
	ingredients []IngredientNode
	steps       []StepNode
	chunks      []TextChunk
}

// NewDataModule 创建数据加载模块
func NewDataModule(store Store, cfg DataConfig, logger *zap.Logger) *DataModule {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = 50
	}
	return &DataModule{
		store:  store,
		cfg:    cfg,
		logger: logger.With(zap.String("component", "graph_data")),
	}
}

// LoadGraphData 按标签加载全部业务节点。
// 单条节点转换失败只记警告并跳过，不中断整体加载。
func (d *DataModule) LoadGraphData(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.store.Ping(ctx); err != nil {
		return types.NewError(types.ErrConnection, "graph store unreachable").
			WithCause(err).WithComponent("graph_data")
	}

	recipeNodes, err := d.store.NodesByLabel(ctx, LabelRecipe, d.cfg.NodeIDThreshold)
	if err != nil {
		return fmt.Errorf("load recipes: %w", err)
	}
	ingredientNodes, err := d.store.NodesByLabel(ctx, LabelIngredient, d.cfg.NodeIDThreshold)
	if err != nil {
		return fmt.Errorf("load ingredients: %w", err)
	}
	stepNodes, err := d.store.NodesByLabel(ctx, LabelStep, d.cfg.NodeIDThreshold)
	if err != nil {
		return fmt.Errorf("load steps: %w", err)
	}

	d.recipes = d.recipes[:0]
	for _, n := range recipeNodes {
		d.recipes = append(d.recipes, RecipeNode{
			ID:          n.ID,
			Name:        nodeName(n),
			Description: strProp(n, "description"),
			Category:    strProp(n, "category"),
			Cuisine:     strProp(n, "cuisine"),
			Difficulty:  strProp(n, "difficulty"),
			TimeMinutes: intProp(n, "time_minutes"),
			Nutrition:   strProp(n, "nutrition"),
		})
	}

	d.ingredients = d.ingredients[:0]
	for _, n := range ingredientNodes {
		d.ingredients = append(d.ingredients, IngredientNode{
			ID:          n.ID,
			Name:        nodeName(n),
			Description: strProp(n, "description"),
			Category:    strProp(n, "category"),
			Storage:     strProp(n, "storage"),
		})
	}

	d.steps = d.steps[:0]
	for _, n := range stepNodes {
		d.steps = append(d.steps, StepNode{
			ID:              n.ID,
			Name:            nodeName(n),
			Description:     strProp(n, "description"),
			Technique:       strProp(n, "technique"),
			DurationMinutes: intProp(n, "duration_minutes"),
		})
	}

	d.logger.Info("graph data loaded",
		zap.Int("recipes", len(d.recipes)),
		zap.Int("ingredients", len(d.ingredients)),
		zap.Int("steps", len(d.steps)))
	return nil
}

// BuildChunks 构建菜谱文档并按配置分块。
// 必须在 LoadGraphData 之后调用；没有菜谱数据时返回配置错误，
// 不做静默的空语料回退。
func (d *DataModule) BuildChunks() ([]TextChunk, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.recipes) == 0 {
		return nil, types.NewError(types.ErrConfiguration, "no recipes loaded, call LoadGraphData first").
			WithComponent("graph_data")
	}

	d.chunks = d.chunks[:0]
	for _, r := range d.recipes {
		doc := buildRecipeDocument(r)
		for i, part := range splitRunes(doc, d.cfg.ChunkSize, d.cfg.ChunkOverlap) {
			d.chunks = append(d.chunks, TextChunk{
				ID:       fmt.Sprintf("%s_chunk_%d", r.ID, i),
				RecipeID: r.ID,
				Text:     part,
				Metadata: map[string]any{"recipe_name": r.Name},
			})
		}
	}

	d.logger.Info("recipe corpus built", zap.Int("chunks", len(d.chunks)))
	result := make([]TextChunk, len(d.chunks))
	copy(result, d.chunks)
	return result, nil
}

// Recipes 返回已加载的菜谱节点
func (d *DataModule) Recipes() []RecipeNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.recipes
}

// Ingredients 返回已加载的食材节点
func (d *DataModule) Ingredients() []IngredientNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.ingredients
}

// Steps 返回已加载的步骤节点
func (d *DataModule) Steps() []StepNode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.steps
}

// Statistics 返回数据统计
func (d *DataModule) Statistics() map[string]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return map[string]int{
		"total_recipes":     len(d.recipes),
		"total_ingredients": len(d.ingredients),
		"total_steps":       len(d.steps),
		"total_chunks":      len(d.chunks),
	}
}

// buildRecipeDocument 将菜谱节点渲染为可检索的文档文本，缺失字段直接省略
func buildRecipeDocument(r RecipeNode) string {
	var sb strings.Builder
	sb.WriteString("菜谱: " + r.Name)
	if r.Description != nil {
		sb.WriteString("\n描述: " + *r.Description)
	}
	if r.Category != nil {
		sb.WriteString("\n分类: " + *r.Category)
	}
	if r.Cuisine != nil {
		sb.WriteString("\n菜系: " + *r.Cuisine)
	}
	if r.Difficulty != nil {
		sb.WriteString("\n难度: " + *r.Difficulty)
	}
	if r.TimeMinutes != nil {
		sb.WriteString(fmt.Sprintf("\n耗时: %d分钟", *r.TimeMinutes))
	}
	if r.Nutrition != nil {
		sb.WriteString("\n营养: " + *r.Nutrition)
	}
	return sb.String()
}

// splitRunes 按 rune 长度切分文本，带重叠
func splitRunes(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}

	var parts []string
	step := size - overlap
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		parts = append(parts, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return parts
}

// nodeName 取节点名称，缺失时回退为 标签_ID（非唯一回退是预期行为）
func nodeName(n Node) string {
	if n.Name != "" {
		return n.Name
	}
	if v := strProp(n, "name"); v != nil {
		return *v
	}
	label := "node"
	if len(n.Labels) > 0 {
		label = strings.ToLower(n.Labels[0])
	}
	return label + "_" + n.ID
}

// strProp 从节点属性取字符串，缺失或类型不符返回 nil
func strProp(n Node, key string) *string {
	v, ok := n.Properties[key]
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return nil
	}
	return &s
}

// intProp 从节点属性取整数，兼容 JSON 反序列化产生的 float64
func intProp(n Node, key string) *int {
	v, ok := n.Properties[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case int:
		return &t
	case int64:
		i := int(t)
		return &i
	case float64:
		i := int(t)
		return &i
	}
	return nil
}
