package rotation

import (
	"math/rand"

	"proxyrotor/internal/shared/types"
)

// WeightedStrategy 构造一个累积权重抽签。
// 配置里缺失的代理先看候选自带的 Weight 字段，仍缺失则按 1 参与。
type WeightedStrategy struct {
	baseStrategy
	weights map[string]float64
}

func NewWeightedStrategy() *WeightedStrategy {
	return &WeightedStrategy{baseStrategy: newBaseStrategy()}
}

func (s *WeightedStrategy) Name() types.StrategyName { return types.StrategyWeighted }

// SetSettings 由 Dispatcher 在 SetConfig 时调用。
func (s *WeightedStrategy) SetSettings(cfg *types.WeightedSettings) {
	if cfg == nil {
		s.weights = nil
		return
	}
	s.weights = cfg.Weights
}

func (s *WeightedStrategy) weightOf(p *types.ProxyCandidate) float64 {
	if w, ok := s.weights[p.ID]; ok && w > 0 {
		return w
	}
	if p.Weight > 0 {
		return p.Weight
	}
	return 1
}

func (s *WeightedStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}

	total := 0.0
	for _, p := range candidates {
		total += s.weightOf(p)
	}

	r := rand.Float64() * total
	for _, p := range candidates {
		r -= s.weightOf(p)
		if r <= 0 {
			return p
		}
	}

	// 浮点边界：循环可能在不选中任何候选的情况下退出。
	// 非空列表必须返回结果。
	return candidates[0]
}
