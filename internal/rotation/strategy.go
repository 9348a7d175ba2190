package rotation

import (
	"proxyrotor/internal/shared/types"
)

// Strategy 是所有选择算法的统一契约。
// Select 绝不修改 candidates；ctx 可以为 nil，所有策略都必须照常工作。
// 策略本身不做并发保护：一个 Dispatcher 实例持有全部策略，
// 并用单把锁保证"同一时刻只有一个逻辑调用序列"。
type Strategy interface {
	Name() types.StrategyName
	// Select 返回一个候选代理，无路可选时返回 nil (不是错误)。
	Select(candidates []*types.ProxyCandidate, ctx *types.SelectionContext) *types.ProxyCandidate
	// IncrementUsage 在每次成功选择后由 Dispatcher 调用。
	IncrementUsage(id string)
	// UsageStats 返回用量计数器的只读快照。
	UsageStats() map[string]int64
	// ResetUsage 清零用量计数器 (SetConfig 时触发)。
	ResetUsage()
}

// baseStrategy 提供所有策略共享的用量计数器。
type baseStrategy struct {
	usage map[string]int64
}

func newBaseStrategy() baseStrategy {
	return baseStrategy{usage: make(map[string]int64)}
}

func (b *baseStrategy) IncrementUsage(id string) {
	b.usage[id]++
}

func (b *baseStrategy) UsageStats() map[string]int64 {
	snapshot := make(map[string]int64, len(b.usage))
	for id, n := range b.usage {
		snapshot[id] = n
	}
	return snapshot
}

func (b *baseStrategy) ResetUsage() {
	b.usage = make(map[string]int64)
}

func (b *baseStrategy) usageOf(id string) int64 {
	return b.usage[id]
}
