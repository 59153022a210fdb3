package rag

import (
	"crypto/sha256"
)

// RoundRobinMerge 轮转交错融合多路检索结果。
// 从第一个非空来源起，每轮依次从各非空来源取一条，按内容哈希去重，
// 直到凑满 topK 条或全部来源耗尽。融合信号是交错位置而非原始得分，
// 任何单一来源都不能仅凭候选数量多而占满结果。
func RoundRobinMerge(topK int, sources ...[]RetrievalResult) []RetrievalResult {
	if topK <= 0 {
		return nil
	}

	merged := make([]RetrievalResult, 0, topK)
	seen := make(map[[32]byte]struct{})
	cursors := make([]int, len(sources))

	for len(merged) < topK {
		progressed := false
		for i, src := range sources {
			if len(merged) >= topK {
				break
			}
			// 跳过已去重的条目，直到该来源给出一条新结果或耗尽
			for cursors[i] < len(src) {
				candidate := src[cursors[i]]
				cursors[i]++
				hash := sha256.Sum256([]byte(candidate.Content))
				if _, dup := seen[hash]; dup {
					continue
				}
				seen[hash] = struct{}{}
				merged = append(merged, candidate)
				progressed = true
				break
			}
		}
		if !progressed {
			break
		}
	}
	return merged
}
