package rotation

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"proxyrotor/internal/shared/logger"
	"proxyrotor/internal/shared/types"
)

// CustomRulesStrategy 是条件/动作规则引擎。
// 规则按优先级降序保存 (同优先级按插入顺序)；第一条条件通过的规则胜出。
// 胜出规则的动作没能选出代理时，回退到内部轮询。
type CustomRulesStrategy struct {
	baseStrategy
	rules          []*types.ProxyRule
	fallbackCursor uint64
	now            func() time.Time
	log            zerolog.Logger
}

func NewCustomRulesStrategy() *CustomRulesStrategy {
	return &CustomRulesStrategy{
		baseStrategy: newBaseStrategy(),
		now:          time.Now,
		log:          logger.WithComponent("Rotation/Rules"),
	}
}

func (s *CustomRulesStrategy) Name() types.StrategyName { return types.StrategyCustomRules }

func (s *CustomRulesStrategy) Select(candidates []*types.ProxyCandidate, ctx *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}

	for _, rule := range s.rules {
		if !rule.Enabled {
			continue
		}
		if !s.evaluateRule(rule, ctx) {
			continue
		}
		if chosen := s.applyActions(rule, candidates); chosen != nil {
			return chosen
		}
		// 命中的规则没能解析出代理: 回退，不再尝试后续规则。
		break
	}

	return s.fallback(candidates)
}

func (s *CustomRulesStrategy) fallback(candidates []*types.ProxyCandidate) *types.ProxyCandidate {
	chosen := candidates[s.fallbackCursor%uint64(len(candidates))]
	s.fallbackCursor++
	return chosen
}

// evaluateRule 在 AND/OR 语义下求值条件列表。
func (s *CustomRulesStrategy) evaluateRule(rule *types.ProxyRule, ctx *types.SelectionContext) bool {
	if len(rule.Conditions) == 0 {
		return true
	}
	anyPassed := false
	for i := range rule.Conditions {
		passed := s.evaluateCondition(&rule.Conditions[i], ctx)
		if rule.Combinator == types.CombinatorOr {
			if passed {
				anyPassed = true
				break
			}
		} else if !passed { // AND 是默认语义
			return false
		}
	}
	if rule.Combinator == types.CombinatorOr {
		return anyPassed
	}
	return true
}

func (s *CustomRulesStrategy) evaluateCondition(cond *types.RuleCondition, ctx *types.SelectionContext) bool {
	actual := s.fieldValue(cond.Field, ctx)

	expected := cond.Value
	if !cond.CaseSensitive {
		actual = strings.ToLower(actual)
		expected = strings.ToLower(expected)
	}

	switch cond.Operator {
	case types.OpEquals:
		return actual == expected
	case types.OpNotEquals:
		return actual != expected
	case types.OpContains:
		return strings.Contains(actual, expected)
	case types.OpNotContains:
		return !strings.Contains(actual, expected)
	case types.OpStartsWith:
		return strings.HasPrefix(actual, expected)
	case types.OpEndsWith:
		return strings.HasSuffix(actual, expected)
	case types.OpMatchesRegex:
		pattern := cond.Value
		if !cond.CaseSensitive {
			pattern = "(?i)" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			// 坏的正则只让这一个条件失败，不能拖垮其它规则的求值。
			s.log.Warn().Err(err).Str("pattern", cond.Value).Msg("Invalid regex in rule condition, treating as no match.")
			return false
		}
		return re.MatchString(actual)
	case types.OpGreaterThan, types.OpLessThan:
		a, errA := strconv.ParseFloat(strings.TrimSpace(actual), 64)
		b, errB := strconv.ParseFloat(strings.TrimSpace(cond.Value), 64)
		if errA != nil || errB != nil {
			return false
		}
		if cond.Operator == types.OpGreaterThan {
			return a > b
		}
		return a < b
	case types.OpInList, types.OpNotInList:
		found := false
		for _, v := range cond.Values {
			if !cond.CaseSensitive {
				v = strings.ToLower(v)
			}
			if actual == v {
				found = true
				break
			}
		}
		if cond.Operator == types.OpInList {
			return found
		}
		return !found
	default:
		return false
	}
}

// fieldValue 解析条件字段。time_* 取求值时刻的挂钟，不来自上下文。
func (s *CustomRulesStrategy) fieldValue(field types.RuleConditionField, ctx *types.SelectionContext) string {
	switch field {
	case types.FieldDomain:
		if ctx == nil {
			return ""
		}
		if ctx.Domain != "" {
			return NormalizeDomain(ctx.Domain)
		}
		return NormalizeDomain(ctx.URL)
	case types.FieldURL:
		if ctx == nil {
			return ""
		}
		return ctx.URL
	case types.FieldPath:
		if ctx == nil || ctx.URL == "" {
			return ""
		}
		u, err := url.Parse(ctx.URL)
		if err != nil {
			return ""
		}
		return u.Path
	case types.FieldTimeHour:
		return strconv.Itoa(s.now().Hour())
	case types.FieldTimeDay:
		return strconv.Itoa(int(s.now().Weekday()))
	default:
		return ""
	}
}

// applyActions 按声明顺序执行动作，收窄工作集或钉住特定代理。
// 返回 nil 表示动作没能解析出任何代理。
func (s *CustomRulesStrategy) applyActions(rule *types.ProxyRule, candidates []*types.ProxyCandidate) *types.ProxyCandidate {
	working := make([]*types.ProxyCandidate, len(candidates))
	copy(working, candidates)
	var selected *types.ProxyCandidate

	for _, action := range rule.Actions {
		switch action.Type {
		case types.ActionUseProxy:
			if p := findCandidate(candidates, action.Value); p != nil {
				selected = p
			}
		case types.ActionUseCountry:
			working = filterByCountry(working, action.Value, true)
		case types.ActionExcludeCountry:
			working = filterByCountry(working, action.Value, false)
		case types.ActionExcludeProxy:
			filtered := working[:0]
			for _, p := range working {
				if p.ID != action.Value {
					filtered = append(filtered, p)
				}
			}
			working = filtered
		case types.ActionRotateImmediately:
			// 占位动作: 向调用方表达意图，本层不处理。
		}
	}

	if selected != nil {
		return selected
	}
	if len(working) > 0 {
		return working[0]
	}
	return nil
}

func filterByCountry(pool []*types.ProxyCandidate, country string, keep bool) []*types.ProxyCandidate {
	out := make([]*types.ProxyCandidate, 0, len(pool))
	for _, p := range pool {
		match := p.Geo != nil && strings.EqualFold(p.Geo.Country, country)
		if match == keep {
			out = append(out, p)
		}
	}
	return out
}

// --- 规则管理 (经由 Dispatcher 暴露) ---

// AddRule 插入一条规则并重排。ID 为空时自动生成。
func (s *CustomRulesStrategy) AddRule(rule *types.ProxyRule) *types.ProxyRule {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	s.rules = append(s.rules, rule)
	s.sortRules()
	return rule
}

// RemoveRule 按 id 删除，返回是否存在。
func (s *CustomRulesStrategy) RemoveRule(id string) bool {
	for i, r := range s.rules {
		if r.ID == id {
			s.rules = append(s.rules[:i], s.rules[i+1:]...)
			return true
		}
	}
	return false
}

// SetRules 整体替换规则表。
func (s *CustomRulesStrategy) SetRules(rules []*types.ProxyRule) {
	s.rules = make([]*types.ProxyRule, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		s.rules = append(s.rules, r)
	}
	s.sortRules()
}

// Rules 返回规则表快照，求值顺序。
func (s *CustomRulesStrategy) Rules() []*types.ProxyRule {
	out := make([]*types.ProxyRule, len(s.rules))
	copy(out, s.rules)
	return out
}

func (s *CustomRulesStrategy) sortRules() {
	sort.SliceStable(s.rules, func(i, j int) bool {
		return s.rules[i].Priority > s.rules[j].Priority
	})
}
