package rotation

import (
	"math/rand"
	"sort"

	"proxyrotor/internal/shared/types"
)

// RoundRobinStrategy 维护一个单调递增的游标，按输入顺序循环选取。
type RoundRobinStrategy struct {
	baseStrategy
	cursor uint64
}

func NewRoundRobinStrategy() *RoundRobinStrategy {
	return &RoundRobinStrategy{baseStrategy: newBaseStrategy()}
}

func (s *RoundRobinStrategy) Name() types.StrategyName { return types.StrategyRoundRobin }

func (s *RoundRobinStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	chosen := candidates[s.cursor%uint64(len(candidates))]
	s.cursor++
	return chosen
}

// RandomStrategy 在候选列表上做均匀随机选取。
type RandomStrategy struct {
	baseStrategy
}

func NewRandomStrategy() *RandomStrategy {
	return &RandomStrategy{baseStrategy: newBaseStrategy()}
}

func (s *RandomStrategy) Name() types.StrategyName { return types.StrategyRandom }

func (s *RandomStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[rand.Intn(len(candidates))]
}

// LeastUsedStrategy 按用量计数升序排序 (稳定排序, 平局保持输入顺序)，取第一个。
// 每次调用 O(n log n)，候选列表受代理池规模约束，可以接受。
type LeastUsedStrategy struct {
	baseStrategy
}

func NewLeastUsedStrategy() *LeastUsedStrategy {
	return &LeastUsedStrategy{baseStrategy: newBaseStrategy()}
}

func (s *LeastUsedStrategy) Name() types.StrategyName { return types.StrategyLeastUsed }

func (s *LeastUsedStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]*types.ProxyCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return s.usageOf(ranked[i].ID) < s.usageOf(ranked[j].ID)
	})
	return ranked[0]
}

// FastestStrategy 按延迟升序排序取第一个。
// Latency 为 0 表示未测量，视为无穷大，永远不会优先于任何已测量的候选。
type FastestStrategy struct {
	baseStrategy
}

func NewFastestStrategy() *FastestStrategy {
	return &FastestStrategy{baseStrategy: newBaseStrategy()}
}

func (s *FastestStrategy) Name() types.StrategyName { return types.StrategyFastest }

func (s *FastestStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	ranked := make([]*types.ProxyCandidate, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return effectiveLatency(ranked[i]) < effectiveLatency(ranked[j])
	})
	return ranked[0]
}

func effectiveLatency(p *types.ProxyCandidate) int64 {
	if p.Latency <= 0 {
		return int64(^uint64(0) >> 1) // 未测量 -> +inf
	}
	return int64(p.Latency)
}

// FailureAwareStrategy 给每个候选打分: successRate - failureCount*10，取最高分。
// x10 的惩罚让一次新增失败盖过细小的成功率差异，强烈偏离最近出错的代理。
type FailureAwareStrategy struct {
	baseStrategy
}

func NewFailureAwareStrategy() *FailureAwareStrategy {
	return &FailureAwareStrategy{baseStrategy: newBaseStrategy()}
}

func (s *FailureAwareStrategy) Name() types.StrategyName { return types.StrategyFailureAware }

func (s *FailureAwareStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	bestScore := failureScore(best)
	for _, p := range candidates[1:] {
		if score := failureScore(p); score > bestScore {
			best = p
			bestScore = score
		}
	}
	return best
}

func failureScore(p *types.ProxyCandidate) float64 {
	return p.SuccessRate - float64(p.FailureCount)*10
}
