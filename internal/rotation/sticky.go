package rotation

import (
	"math/rand"
	"net"
	"strings"
	"time"

	"proxyrotor/internal/shared/types"
)

// defaultStickyTTL 在配置未给出 TTL 时使用。
const defaultStickyTTL = 30 * time.Minute

// StickyStrategy 维护域名->代理的粘性映射。
// 过期在查找时惰性判定，不做后台清扫；一个过期但从未再被查询的映射
// 会一直留在内存里，直到下次访问。
type StickyStrategy struct {
	baseStrategy
	settings *types.StickySettings

	mappings map[string]*types.DomainProxyMapping
	order    []string // 映射的插入顺序，保证通配符扫描的确定性

	fallbackCursor uint64 // 无域名时的内部轮询游标
	hashCursor     uint64 // hash_algorithm=round-robin 专用游标

	now func() time.Time
}

func NewStickyStrategy() *StickyStrategy {
	return &StickyStrategy{
		baseStrategy: newBaseStrategy(),
		mappings:     make(map[string]*types.DomainProxyMapping),
		now:          time.Now,
	}
}

func (s *StickyStrategy) Name() types.StrategyName { return types.StrategySticky }

// SetSettings 由 Dispatcher 在 SetConfig 时调用。已有映射按设计保留。
func (s *StickyStrategy) SetSettings(cfg *types.StickySettings) {
	s.settings = cfg
}

func (s *StickyStrategy) ttl() time.Duration {
	if s.settings != nil && s.settings.TTL > 0 {
		return s.settings.TTL
	}
	return defaultStickyTTL
}

func (s *StickyStrategy) hashAlgorithm() types.StickyHashAlgorithm {
	if s.settings != nil && s.settings.HashAlgorithm != "" {
		return s.settings.HashAlgorithm
	}
	return types.StickyHashConsistent
}

func (s *StickyStrategy) fallbackOnFailure() bool {
	return s.settings != nil && s.settings.FallbackOnFailure
}

func (s *StickyStrategy) Select(candidates []*types.ProxyCandidate, ctx *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}

	domain := ""
	if ctx != nil {
		if ctx.Domain != "" {
			domain = ctx.Domain
		} else {
			domain = ctx.URL
		}
	}
	if domain == "" {
		// 没有域名可粘：退化为内部轮询 (游标独立于调度器的轮询策略)。
		chosen := candidates[s.fallbackCursor%uint64(len(candidates))]
		s.fallbackCursor++
		return chosen
	}

	key := NormalizeDomain(domain)
	now := s.now()

	if m := s.lookup(key, now); m != nil {
		m.LastUsed = now
		m.RequestCount++
		if p := findCandidate(candidates, m.ProxyID); p != nil {
			return p
		}
		// 映射的代理已从候选集消失。
		if !s.fallbackOnFailure() {
			return nil // 显式无路由，不做兜底
		}
		s.deleteMapping(m.Domain)
	}

	chosen := s.pick(key, candidates)
	if chosen == nil {
		return nil
	}
	s.storeMapping(&types.DomainProxyMapping{
		Domain:    key,
		ProxyID:   chosen.ID,
		CreatedAt: now,
		LastUsed:  now,
		TTL:       s.ttl(),
	})
	return chosen
}

// lookup 先精确匹配，再按插入顺序扫描通配符模式；精确匹配永远优先。
// 过期的记录在这里被删除。
func (s *StickyStrategy) lookup(domain string, now time.Time) *types.DomainProxyMapping {
	if m, ok := s.mappings[domain]; ok {
		if m.Expired(now) {
			s.deleteMapping(m.Domain)
		} else {
			return m
		}
	}
	for _, pattern := range s.order {
		m, ok := s.mappings[pattern]
		if !ok || !m.Wildcard {
			continue
		}
		if !wildcardMatch(pattern, domain) {
			continue
		}
		if m.Expired(now) {
			s.deleteMapping(pattern)
			continue
		}
		return m
	}
	return nil
}

// pick 按配置的 hash 算法为新域名挑选代理。
func (s *StickyStrategy) pick(domain string, candidates []*types.ProxyCandidate) *types.ProxyCandidate {
	switch s.hashAlgorithm() {
	case types.StickyHashRandom:
		return candidates[rand.Intn(len(candidates))]
	case types.StickyHashRoundRobin:
		chosen := candidates[s.hashCursor%uint64(len(candidates))]
		s.hashCursor++
		return chosen
	default: // consistent
		return candidates[consistentHash(domain)%uint64(len(candidates))]
	}
}

// consistentHash 是规范化域名的简单加法散列。
// 确定性且分布足够均匀，不是密码学散列。
func consistentHash(domain string) uint64 {
	var sum uint64
	for i := 0; i < len(domain); i++ {
		sum += uint64(domain[i])
	}
	return sum
}

// --- 映射管理 (经由 Dispatcher 暴露) ---

// SetMapping 显式写入一条映射 (域名或 "*.example.com" 通配符模式)。
func (s *StickyStrategy) SetMapping(domain, proxyID string, ttl time.Duration) {
	key := NormalizeDomain(domain)
	if ttl <= 0 {
		ttl = s.ttl()
	}
	now := s.now()
	s.storeMapping(&types.DomainProxyMapping{
		Domain:    key,
		ProxyID:   proxyID,
		CreatedAt: now,
		LastUsed:  now,
		TTL:       ttl,
		Wildcard:  strings.HasPrefix(key, "*."),
	})
}

// ClearMapping 删除一条映射，返回是否存在。
func (s *StickyStrategy) ClearMapping(domain string) bool {
	key := NormalizeDomain(domain)
	if _, ok := s.mappings[key]; !ok {
		return false
	}
	s.deleteMapping(key)
	return true
}

// ClearAllMappings 清空全部映射。
func (s *StickyStrategy) ClearAllMappings() {
	s.mappings = make(map[string]*types.DomainProxyMapping)
	s.order = s.order[:0]
}

// Mappings 返回全部映射的快照，按插入顺序。
func (s *StickyStrategy) Mappings() []types.DomainProxyMapping {
	out := make([]types.DomainProxyMapping, 0, len(s.mappings))
	for _, key := range s.order {
		if m, ok := s.mappings[key]; ok {
			out = append(out, *m)
		}
	}
	return out
}

func (s *StickyStrategy) storeMapping(m *types.DomainProxyMapping) {
	if _, exists := s.mappings[m.Domain]; !exists {
		s.order = append(s.order, m.Domain)
	}
	s.mappings[m.Domain] = m
}

func (s *StickyStrategy) deleteMapping(key string) {
	delete(s.mappings, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// NormalizeDomain 把裸主机名或完整 URL 规范化为小写主机名:
// 去掉 scheme、路径、查询串和端口。
func NormalizeDomain(raw string) string {
	host := raw
	if idx := strings.Index(host, "://"); idx >= 0 {
		host = host[idx+3:]
	}
	if idx := strings.IndexAny(host, "/?"); idx >= 0 {
		host = host[:idx]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// wildcardMatch 让 "*.example.com" 同时匹配 "example.com" 与任意子域名。
func wildcardMatch(pattern, domain string) bool {
	if !strings.HasPrefix(pattern, "*.") {
		return pattern == domain
	}
	suffix := pattern[2:]
	return domain == suffix || strings.HasSuffix(domain, "."+suffix)
}

func findCandidate(candidates []*types.ProxyCandidate, id string) *types.ProxyCandidate {
	for _, p := range candidates {
		if p.ID == id {
			return p
		}
	}
	return nil
}
