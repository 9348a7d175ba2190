package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/settings"
)

// registryEventBuffer 是注册表事件通道的缓冲大小。
// 消费者跟不上时丢弃事件而不是阻塞记录路径。
const registryEventBuffer = 256

// Registry 是按 (serviceType, serviceId) 键控的熔断器集合。
// 熔断器在第一次 GetForProxy/GetForService 时惰性创建，应用该服务类型的
// 默认预设，并把自身事件转发到注册表的单一事件通道上。
type Registry struct {
	mu          sync.RWMutex
	breakers    map[string]*Breaker
	typeConfigs map[ServiceType]*Config // registry 级的按类型覆盖
	events      chan Event
	destroyed   bool
	log         zerolog.Logger
}

// NewRegistry 创建一个空的注册表。
func NewRegistry() *Registry {
	return &Registry{
		breakers:    make(map[string]*Breaker),
		typeConfigs: make(map[ServiceType]*Config),
		events:      make(chan Event, registryEventBuffer),
		log:         logger.WithComponent("Breaker/Registry"),
	}
}

// Key 返回 (serviceType, serviceId) 的规范键，e.g. "proxy-p1"。
func Key(serviceType ServiceType, serviceID string) string {
	return fmt.Sprintf("%s-%s", serviceType, serviceID)
}

// Events 返回注册表级的事件通道。
// 所有熔断器的生命周期事件都在这里重发。
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Get 按规范键查找，不创建。
func (r *Registry) Get(key string) (*Breaker, bool) {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	return b, ok
}

// GetForProxy 返回 (必要时创建) 代理 id 对应的熔断器。
// 可选的 name 参数只在首次创建时生效。
func (r *Registry) GetForProxy(proxyID string, name ...string) *Breaker {
	displayName := ""
	if len(name) > 0 {
		displayName = name[0]
	}
	return r.getOrCreate(ServiceProxy, proxyID, displayName, nil)
}

// GetForService 返回 (必要时创建) 指定服务的熔断器。
// override 只在首次创建时参与配置合并: 预设 <- registry 覆盖 <- 调用覆盖。
func (r *Registry) GetForService(serviceType ServiceType, serviceID string, override ...*Config) *Breaker {
	var callCfg *Config
	if len(override) > 0 {
		callCfg = override[0]
	}
	return r.getOrCreate(serviceType, serviceID, "", callCfg)
}

// getOrCreate 用双重检查锁最小化写锁竞争 (重复键永远返回同一实例)。
func (r *Registry) getOrCreate(serviceType ServiceType, serviceID, name string, callCfg *Config) *Breaker {
	key := Key(serviceType, serviceID)

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	if b, ok := r.breakers[key]; ok {
		r.mu.Unlock()
		return b
	}

	cfg := merge(presetFor(serviceType), r.typeConfigs[serviceType])
	cfg = merge(cfg, callCfg)

	b = New(key, name, serviceType, serviceID, cfg)
	b.OnEvent(r.forward)
	r.breakers[key] = b
	r.mu.Unlock()

	r.log.Debug().Str("key", key).Str("service_type", string(serviceType)).Msg("Breaker created.")
	r.forward(newEvent(EventCreated, b, "", b.State(), "created"))
	return b
}

// Register 注册一个外部构造的熔断器。
// 键已存在时返回错误——调用方必须先 Remove。
func (r *Registry) Register(b *Breaker) error {
	r.mu.Lock()
	if _, exists := r.breakers[b.ID()]; exists {
		r.mu.Unlock()
		return fmt.Errorf("breaker %q already registered, remove it first", b.ID())
	}
	b.OnEvent(r.forward)
	r.breakers[b.ID()] = b
	r.mu.Unlock()

	r.forward(newEvent(EventCreated, b, "", b.State(), "registered"))
	return nil
}

// Remove 销毁并移除单个熔断器，返回是否存在。
func (r *Registry) Remove(key string) bool {
	r.mu.Lock()
	b, ok := r.breakers[key]
	if ok {
		delete(r.breakers, key)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	removed := newEvent(EventRemoved, b, b.State(), "", "removed")
	b.Destroy()
	r.forward(removed)
	return true
}

// RemoveByServiceType 批量销毁并移除一类服务的全部熔断器，返回移除数量。
func (r *Registry) RemoveByServiceType(serviceType ServiceType) int {
	r.mu.Lock()
	victims := make([]*Breaker, 0)
	for key, b := range r.breakers {
		if b.ServiceType() == serviceType {
			victims = append(victims, b)
			delete(r.breakers, key)
		}
	}
	r.mu.Unlock()

	for _, b := range victims {
		removed := newEvent(EventRemoved, b, b.State(), "", "removed")
		b.Destroy()
		r.forward(removed)
	}
	return len(victims)
}

// ResetAll 原地重置所有熔断器。
func (r *Registry) ResetAll() {
	for _, b := range r.all() {
		b.Reset()
	}
}

// ResetByServiceType 只重置指定类型的熔断器，其余不受影响。
func (r *Registry) ResetByServiceType(serviceType ServiceType) {
	for _, b := range r.all() {
		if b.ServiceType() == serviceType {
			b.Reset()
		}
	}
}

func (r *Registry) all() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b)
	}
	return out
}

// Metrics 返回每个熔断器的指标快照。
func (r *Registry) Metrics() []Metrics {
	breakers := r.all()
	out := make([]Metrics, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Metrics())
	}
	return out
}

// Snapshots 返回每个熔断器的可持久化快照。
func (r *Registry) Snapshots() []Snapshot {
	breakers := r.all()
	out := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// AggregateMetrics 是整个注册表的汇总视图。
type AggregateMetrics struct {
	TotalBreakers int                 `json:"total_breakers"`
	TotalRequests int64               `json:"total_requests"`
	Successes     int64               `json:"successes"`
	Failures      int64               `json:"failures"`
	Rejections    int64               `json:"rejections"`
	Trips         int64               `json:"trips"`
	ByState       map[State]int       `json:"by_state"`
	ByServiceType map[ServiceType]int `json:"by_service_type"`
	// OverallFailureRate 由累加后的成功/失败计算，不是各熔断器失败率的平均。
	OverallFailureRate float64 `json:"overall_failure_rate"`
}

// AggregateMetrics 汇总全部熔断器的指标。
func (r *Registry) AggregateMetrics() AggregateMetrics {
	agg := AggregateMetrics{
		ByState:       make(map[State]int),
		ByServiceType: make(map[ServiceType]int),
	}
	for _, m := range r.Metrics() {
		agg.TotalBreakers++
		agg.TotalRequests += m.TotalRequests
		agg.Successes += m.Successes
		agg.Failures += m.Failures
		agg.Rejections += m.Rejections
		agg.Trips += m.Trips
		agg.ByState[m.State]++
		agg.ByServiceType[m.ServiceType]++
	}
	if total := agg.Successes + agg.Failures; total > 0 {
		agg.OverallFailureRate = float64(agg.Failures) / float64(total) * 100
	}
	return agg
}

// SetServiceTypeConfig 设置 registry 级的按类型配置覆盖。
// 只影响之后创建的熔断器。
func (r *Registry) SetServiceTypeConfig(serviceType ServiceType, cfg Config) {
	r.mu.Lock()
	cfgCopy := cfg
	r.typeConfigs[serviceType] = &cfgCopy
	r.mu.Unlock()
}

// OnSettingsUpdate 实现 settings.ConfigurableModule，
// 把 settings.json 中 "breaker" 模块的覆盖转换为按类型配置。
func (r *Registry) OnSettingsUpdate(moduleKey string, newSettings interface{}) error {
	if moduleKey != "breaker" {
		return nil
	}
	cfg, ok := newSettings.(*settings.BreakerSettings)
	if !ok {
		return fmt.Errorf("registry: received incorrect settings type for breaker module")
	}
	for st, ov := range cfg.ServiceTypes {
		r.SetServiceTypeConfig(ServiceType(st), Config{
			FailureThreshold:        ov.FailureThreshold,
			SuccessThreshold:        ov.SuccessThreshold,
			HalfOpenMaxRequests:     ov.HalfOpenMaxRequests,
			ResetTimeout:            time.Duration(ov.ResetTimeoutMs) * time.Millisecond,
			FailureRateThreshold:    ov.FailureRateThreshold,
			MinimumRequestThreshold: ov.MinimumRequestThreshold,
			SlidingWindow:           time.Duration(ov.SlidingWindowMs) * time.Millisecond,
		})
	}
	r.log.Info().Int("service_types", len(cfg.ServiceTypes)).Msg("Breaker settings updated.")
	return nil
}

// Destroy 销毁所有熔断器并清空集合。注册表之后不可再用。
func (r *Registry) Destroy() {
	r.mu.Lock()
	victims := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		victims = append(victims, b)
	}
	r.breakers = make(map[string]*Breaker)
	r.destroyed = true
	r.mu.Unlock()

	for _, b := range victims {
		b.Destroy()
	}
}

// forward 把单个熔断器的事件重发到注册表通道。
// 非阻塞: 通道满时丢弃，记录路径绝不能被慢消费者卡住。
func (r *Registry) forward(e Event) {
	r.mu.RLock()
	destroyed := r.destroyed
	r.mu.RUnlock()
	if destroyed {
		return
	}
	select {
	case r.events <- e:
	default:
		r.log.Warn().Str("event", string(e.Type)).Str("breaker", e.BreakerID).Msg("Registry event channel full, dropping event.")
	}
}
