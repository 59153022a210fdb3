package rag

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/cookgraph/graph"
)

// =============================================================================
// 🔍 关键词检索（BM25）
// =============================================================================

// KeywordIndexConfig BM25 参数
type KeywordIndexConfig struct {
	// k1 控制词频饱和 (1.2-2.0)
	K1 float64
	// b 控制文档长度归一化 (0-1)
	B float64
}

// DefaultKeywordIndexConfig 返回默认 BM25 参数
func DefaultKeywordIndexConfig() KeywordIndexConfig {
	return KeywordIndexConfig{K1: 1.5, B: 0.75}
}

// KeywordIndex 固定语料上的内存 BM25 索引，语料加载时整体重建。
// 纯内存计算，检索永不失败。
type KeywordIndex struct {
	cfg    KeywordIndexConfig
	logger *zap.Logger

	mu        sync.RWMutex
	chunks    []graph.TextChunk
	docTerms  [][]string
	docLens   []int
	avgDocLen float64
	idf       map[string]float64
}

// NewKeywordIndex 创建关键词索引
func NewKeywordIndex(cfg KeywordIndexConfig, logger *zap.Logger) *KeywordIndex {
	if cfg.K1 <= 0 {
		cfg.K1 = 1.5
	}
	if cfg.B <= 0 || cfg.B > 1 {
		cfg.B = 0.75
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &KeywordIndex{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "keyword_index")),
		idf:    make(map[string]float64),
	}
}

// Build 重建语料索引并预计算 BM25 统计量
func (k *KeywordIndex) Build(chunks []graph.TextChunk) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.chunks = make([]graph.TextChunk, len(chunks))
	copy(k.chunks, chunks)

	k.docTerms = make([][]string, len(chunks))
	k.docLens = make([]int, len(chunks))
	totalLen := 0
	df := make(map[string]int)

	for i, c := range chunks {
		terms := Tokenize(c.Text)
		k.docTerms[i] = terms
		k.docLens[i] = len(terms)
		totalLen += len(terms)

		seen := make(map[string]struct{}, len(terms))
		for _, t := range terms {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				df[t]++
			}
		}
	}

	k.avgDocLen = 0
	if len(chunks) > 0 {
		k.avgDocLen = float64(totalLen) / float64(len(chunks))
	}

	n := float64(len(chunks))
	k.idf = make(map[string]float64, len(df))
	for term, count := range df {
		k.idf[term] = math.Log((n-float64(count)+0.5)/(float64(count)+0.5) + 1.0)
	}

	k.logger.Info("keyword index built",
		zap.Int("chunks", len(chunks)),
		zap.Int("vocabulary", len(df)))
}

// Search 返回按 BM25 得分降序的前 topK 个块，得分并列时保持语料顺序
func (k *KeywordIndex) Search(query string, topK int) []RetrievalResult {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if topK <= 0 || len(k.chunks) == 0 {
		return nil
	}

	queryTerms := Tokenize(query)
	if len(queryTerms) == 0 {
		return nil
	}

	type scored struct {
		idx   int
		score float64
	}
	var hits []scored
	for i := range k.chunks {
		tf := make(map[string]int, len(k.docTerms[i]))
		for _, t := range k.docTerms[i] {
			tf[t]++
		}

		docLen := float64(k.docLens[i])
		score := 0.0
		for _, qt := range queryTerms {
			freq := tf[qt]
			if freq == 0 {
				continue
			}
			idf := k.idf[qt]
			numerator := float64(freq) * (k.cfg.K1 + 1.0)
			denominator := float64(freq) + k.cfg.K1*(1.0-k.cfg.B+k.cfg.B*(docLen/k.avgDocLen))
			score += idf * (numerator / denominator)
		}
		if score > 0 {
			hits = append(hits, scored{idx: i, score: score})
		}
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if len(hits) > topK {
		hits = hits[:topK]
	}

	results := make([]RetrievalResult, 0, len(hits))
	for _, h := range hits {
		c := k.chunks[h.idx]
		results = append(results, RetrievalResult{
			Content:        c.Text,
			Score:          h.score,
			Source:         SourceKeyword,
			RetrievalLevel: LevelEntity,
			Metadata:       map[string]any{"chunk_id": c.ID, "recipe_id": c.RecipeID},
		})
	}
	return results
}

// Size 返回索引中的块数
func (k *KeywordIndex) Size() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.chunks)
}

// Tokenize 中英混合分词：ASCII 按词切，CJK 连续段切双字词。
// 单字 CJK 段保留为单字词，保证短查询仍可命中。
func Tokenize(text string) []string {
	var tokens []string
	var ascii strings.Builder
	var cjk []rune

	flushASCII := func() {
		if ascii.Len() > 0 {
			tokens = append(tokens, strings.ToLower(ascii.String()))
			ascii.Reset()
		}
	}
	flushCJK := func() {
		if len(cjk) == 1 {
			tokens = append(tokens, string(cjk))
		} else {
			for i := 0; i+1 < len(cjk); i++ {
				tokens = append(tokens, string(cjk[i:i+2]))
			}
		}
		cjk = cjk[:0]
	}

	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flushASCII()
			cjk = append(cjk, r)
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if len(cjk) > 0 {
				flushCJK()
			}
			ascii.WriteRune(r)
		default:
			flushASCII()
			if len(cjk) > 0 {
				flushCJK()
			}
		}
	}
	flushASCII()
	if len(cjk) > 0 {
		flushCJK()
	}
	return tokens
}
