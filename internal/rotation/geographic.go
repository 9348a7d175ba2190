package rotation

import (
	"strings"

	"proxyrotor/internal/shared/types"
)

// geoDefaultCursorKey 在无法解析目标国家时使用的固定游标键。
const geoDefaultCursorKey = "_default"

// GeographicStrategy 按地理偏好过滤候选，再在结果集内做按国家分键的轮询。
//
// 过滤级联 (逐级放宽，顺序固定):
//  1. 排除 excludeCountries + 匹配目标国家 + 匹配 preferredRegions
//  2. 丢掉地区过滤
//  3. 丢掉排除与国家过滤 (整个候选列表)
//
// 注意最后一级会让被显式排除的国家重新入围——"宁可不返回零候选"。
type GeographicStrategy struct {
	baseStrategy
	settings *types.GeographicSettings
	cursors  map[string]uint64 // 按解析出的目标国家分键
}

func NewGeographicStrategy() *GeographicStrategy {
	return &GeographicStrategy{
		baseStrategy: newBaseStrategy(),
		cursors:      make(map[string]uint64),
	}
}

func (s *GeographicStrategy) Name() types.StrategyName { return types.StrategyGeographic }

// SetSettings 由 Dispatcher 在 SetConfig 时调用。游标保留。
func (s *GeographicStrategy) SetSettings(cfg *types.GeographicSettings) {
	s.settings = cfg
}

func (s *GeographicStrategy) Select(candidates []*types.ProxyCandidate, ctx *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}

	cfg := s.settings
	if cfg == nil {
		cfg = &types.GeographicSettings{}
	}

	// 目标国家: 上下文优先，其次配置偏好列表的第一项。
	target := ""
	if ctx != nil && ctx.TargetCountry != "" {
		target = ctx.TargetCountry
	} else if len(cfg.Preferences) > 0 {
		target = cfg.Preferences[0]
	}

	pool := s.filter(candidates, cfg, target, true)
	if len(pool) == 0 {
		pool = s.filter(candidates, cfg, target, false)
	}
	if len(pool) == 0 {
		pool = candidates
	}

	key := geoDefaultCursorKey
	if target != "" {
		key = strings.ToUpper(target)
	}
	chosen := pool[s.cursors[key]%uint64(len(pool))]
	s.cursors[key]++
	return chosen
}

// filter 应用排除、国家与 (可选的) 地区过滤。
func (s *GeographicStrategy) filter(candidates []*types.ProxyCandidate, cfg *types.GeographicSettings, target string, withRegion bool) []*types.ProxyCandidate {
	out := make([]*types.ProxyCandidate, 0, len(candidates))
	for _, p := range candidates {
		country := ""
		region := ""
		if p.Geo != nil {
			country = p.Geo.Country
			region = p.Geo.Region
		}
		if containsFold(cfg.ExcludeCountries, country) {
			continue
		}
		if target != "" && !strings.EqualFold(country, target) {
			continue
		}
		if withRegion && len(cfg.PreferredRegions) > 0 && !containsFold(cfg.PreferredRegions, region) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func containsFold(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}
