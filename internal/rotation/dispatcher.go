package rotation

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyrotor/internal/breaker"
	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
)

const maxRecentDomains = 20 // 最近目标域名历史的上限

// Dispatcher 持有全部十个策略实例和唯一的活动配置，
// 把 SelectProxy 路由到活动策略，并把各策略专属的管理操作转发过去。
// 整个实例由一把锁保护: 设计假定一个 Dispatcher 同一时刻只被
// 一个逻辑调用序列使用，不做细粒度的按策略加锁。
type Dispatcher struct {
	mu  sync.Mutex
	cfg *types.RotationConfig

	strategies map[types.StrategyName]Strategy

	// 有管理操作的策略另持有具体类型引用。
	sticky     *StickyStrategy
	timeBased  *TimeBasedStrategy
	rules      *CustomRulesStrategy
	weighted   *WeightedStrategy
	geographic *GeographicStrategy

	recentDomains []string

	log zerolog.Logger
}

// NewDispatcher 创建调度器并应用初始配置。cfg 为 nil 时用默认配置。
func NewDispatcher(cfg *types.RotationConfig) *Dispatcher {
	d := &Dispatcher{
		strategies:    make(map[types.StrategyName]Strategy),
		recentDomains: make([]string, 0, maxRecentDomains),
		log:           logger.WithComponent("Rotation/Dispatcher"),
	}

	d.sticky = NewStickyStrategy()
	d.timeBased = NewTimeBasedStrategy()
	d.rules = NewCustomRulesStrategy()
	d.weighted = NewWeightedStrategy()
	d.geographic = NewGeographicStrategy()

	for _, s := range []Strategy{
		NewRoundRobinStrategy(),
		NewRandomStrategy(),
		NewLeastUsedStrategy(),
		NewFastestStrategy(),
		NewFailureAwareStrategy(),
		d.weighted,
		d.geographic,
		d.sticky,
		d.timeBased,
		d.rules,
	} {
		d.strategies[s.Name()] = s
	}

	if cfg == nil {
		cfg = types.DefaultRotationConfig()
	}
	d.applyConfigLocked(cfg)
	return d
}

// SelectProxy 把选择调用路由到活动策略。
// 空列表或被过滤光的列表返回 nil，永远不是错误——调用方把 nil 当作
// "当前无路可走"。不做任何 I/O，不阻塞。
func (d *Dispatcher) SelectProxy(candidates []*types.ProxyCandidate, ctx *types.SelectionContext) *types.ProxyCandidate {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ctx != nil {
		if domain := firstNonEmpty(ctx.Domain, ctx.URL); domain != "" {
			d.recordDomainLocked(NormalizeDomain(domain))
		}
	}

	strategy := d.activeLocked()
	chosen := strategy.Select(candidates, ctx)
	if chosen != nil {
		strategy.IncrementUsage(chosen.ID)
		d.log.Debug().
			Str("strategy", string(strategy.Name())).
			Str("proxy_id", chosen.ID).
			Msg("Proxy selected.")
	}
	return chosen
}

func (d *Dispatcher) activeLocked() Strategy {
	if s, ok := d.strategies[d.cfg.Strategy]; ok {
		return s
	}
	// 未知策略名退化为轮询，选择路径上绝不报错。
	return d.strategies[types.StrategyRoundRobin]
}

// ActiveStrategy 返回活动策略名。
func (d *Dispatcher) ActiveStrategy() types.StrategyName {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.Strategy
}

// SetConfig 原子地替换配置并清空所有策略的用量计数器。
// 粘性映射与轮换历史按设计跨配置变更保留。
func (d *Dispatcher) SetConfig(cfg *types.RotationConfig) {
	if cfg == nil {
		cfg = types.DefaultRotationConfig()
	}
	d.mu.Lock()
	d.applyConfigLocked(cfg)
	d.mu.Unlock()
	d.log.Info().Str("strategy", string(cfg.Strategy)).Msg("Rotation config replaced.")
}

func (d *Dispatcher) applyConfigLocked(cfg *types.RotationConfig) {
	d.cfg = cfg
	for _, s := range d.strategies {
		s.ResetUsage()
	}
	d.weighted.SetSettings(cfg.Weighted)
	d.geographic.SetSettings(cfg.Geographic)
	d.sticky.SetSettings(cfg.Sticky)
	d.timeBased.SetSettings(cfg.TimeBased)
	if cfg.Rules != nil {
		d.rules.SetRules(cfg.Rules)
	}
}

// Config 返回当前配置的浅拷贝。
func (d *Dispatcher) Config() types.RotationConfig {
	d.mu.Lock()
	defer d.mu.Unlock()
	return *d.cfg
}

// OnSettingsUpdate 实现 settings.ConfigurableModule:
// settings.json 的 "rotation" 模块热重载走 SetConfig。
func (d *Dispatcher) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != "rotation" {
		return nil
	}
	cfg, ok := newSettings.(*types.RotationConfig)
	if !ok {
		return fmt.Errorf("dispatcher: received incorrect settings type for rotation module")
	}
	d.SetConfig(cfg)
	return nil
}

// UsageStats 返回指定策略的用量计数器快照。
func (d *Dispatcher) UsageStats(name types.StrategyName) map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.strategies[name]; ok {
		return s.UsageStats()
	}
	return nil
}

// --- 粘性会话管理 ---

// SetStickyMapping 显式写入一条域名->代理映射。ttl<=0 用配置默认值。
func (d *Dispatcher) SetStickyMapping(domain, proxyID string, ttl time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sticky.SetMapping(domain, proxyID, ttl)
}

// ClearStickyMapping 删除一条映射。
func (d *Dispatcher) ClearStickyMapping(domain string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sticky.ClearMapping(domain)
}

// ClearStickyMappings 清空全部映射。
func (d *Dispatcher) ClearStickyMappings() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sticky.ClearAllMappings()
}

// StickyMappings 返回映射快照。
func (d *Dispatcher) StickyMappings() []types.DomainProxyMapping {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sticky.Mappings()
}

// --- 自定义规则管理 ---

// AddRule 新增一条规则。
func (d *Dispatcher) AddRule(rule *types.ProxyRule) *types.ProxyRule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules.AddRule(rule)
}

// RemoveRule 按 id 删除规则。
func (d *Dispatcher) RemoveRule(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules.RemoveRule(id)
}

// SetRules 整体替换规则表。
func (d *Dispatcher) SetRules(rules []*types.ProxyRule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rules.SetRules(rules)
}

// Rules 返回规则表快照。
func (d *Dispatcher) Rules() []*types.ProxyRule {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.rules.Rules()
}

// --- 时间轮换管理 ---

// ForceRotation 让时间策略在下一次选择时立即轮换。
func (d *Dispatcher) ForceRotation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeBased.ForceRotation()
}

// RotationHistory 返回轮换历史快照。
func (d *Dispatcher) RotationHistory() []types.RotationEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeBased.History()
}

// NextRotationInterval 返回带抖动的建议轮换间隔。
func (d *Dispatcher) NextRotationInterval() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timeBased.NextRotationInterval()
}

// ReportProxyFailure 把代理失败信号转发给相关策略
// (时间策略可能因此设置强制轮换标记)。
func (d *Dispatcher) ReportProxyFailure(proxyID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeBased.ReportProxyFailure(proxyID)
}

// --- 熔断器联动 ---

// FilterExecutable 按注册表状态过滤候选: 丢掉对应熔断器当前
// 不放行的代理。这是调用方约定 ("只把非 OPEN 的代理交给选择") 的现成实现。
func (d *Dispatcher) FilterExecutable(reg *breaker.Registry, candidates []*types.ProxyCandidate) []*types.ProxyCandidate {
	out := make([]*types.ProxyCandidate, 0, len(candidates))
	for _, p := range candidates {
		if reg.GetForProxy(p.ID).CanExecute() {
			out = append(out, p)
		}
	}
	return out
}

// --- 最近域名 ---

// RecentDomains 返回最近出现过的目标域名 (去重，有界)。
func (d *Dispatcher) RecentDomains() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.recentDomains))
	copy(out, d.recentDomains)
	return out
}

func (d *Dispatcher) recordDomainLocked(domain string) {
	for _, existing := range d.recentDomains {
		if existing == domain {
			return
		}
	}
	if len(d.recentDomains) >= maxRecentDomains {
		d.recentDomains = d.recentDomains[1:]
	}
	d.recentDomains = append(d.recentDomains, domain)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
