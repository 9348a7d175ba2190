package types

import "time"

// StrategyName 枚举十种选择策略。
type StrategyName string

const (
	StrategyRoundRobin   StrategyName = "round-robin"
	StrategyRandom       StrategyName = "random"
	StrategyLeastUsed    StrategyName = "least-used"
	StrategyFastest      StrategyName = "fastest"
	StrategyFailureAware StrategyName = "failure-aware"
	StrategyWeighted     StrategyName = "weighted"
	StrategyGeographic   StrategyName = "geographic"
	StrategySticky       StrategyName = "sticky-session"
	StrategyTimeBased    StrategyName = "time-based"
	StrategyCustomRules  StrategyName = "custom-rules"
)

// ScheduleWindow 描述一个允许轮换的时间窗口。
// 支持跨夜窗口 (StartHour > EndHour)。Days 为空表示每天生效 (0=Sunday)。
type ScheduleWindow struct {
	StartHour int   `json:"start_hour"`
	EndHour   int   `json:"end_hour"`
	Days      []int `json:"days,omitempty"`
}

// Contains reports whether the given wall-clock moment falls inside the window.
func (w *ScheduleWindow) Contains(t time.Time) bool {
	if len(w.Days) > 0 {
		dayOK := false
		for _, d := range w.Days {
			if int(t.Weekday()) == d {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}
	h := t.Hour()
	if w.StartHour <= w.EndHour {
		return h >= w.StartHour && h <= w.EndHour
	}
	// 跨夜窗口, e.g. 22 -> 6
	return h >= w.StartHour || h <= w.EndHour
}

// TimeBasedSettings 对应时间策略的配置块。
type TimeBasedSettings struct {
	Interval        time.Duration    `json:"interval"`
	JitterPercent   float64          `json:"jitter_percent,omitempty"`
	MinInterval     time.Duration    `json:"min_interval,omitempty"`
	MaxInterval     time.Duration    `json:"max_interval,omitempty"`
	ScheduleWindows []ScheduleWindow `json:"schedule_windows,omitempty"`
	RotateOnFailure bool             `json:"rotate_on_failure,omitempty"`
}

// GeographicSettings 对应地理策略的配置块。
type GeographicSettings struct {
	Preferences      []string `json:"preferences,omitempty"`
	ExcludeCountries []string `json:"exclude_countries,omitempty"`
	PreferredRegions []string `json:"preferred_regions,omitempty"`
}

// StickyHashAlgorithm 枚举粘性策略为新域名挑选代理的方式。
type StickyHashAlgorithm string

const (
	StickyHashConsistent StickyHashAlgorithm = "consistent"
	StickyHashRandom     StickyHashAlgorithm = "random"
	StickyHashRoundRobin StickyHashAlgorithm = "round-robin"
)

// StickySettings 对应粘性会话策略的配置块。
type StickySettings struct {
	TTL               time.Duration       `json:"ttl,omitempty"`
	HashAlgorithm     StickyHashAlgorithm `json:"hash_algorithm,omitempty"`
	FallbackOnFailure bool                `json:"fallback_on_failure,omitempty"`
}

// WeightedSettings 对应加权策略的配置块。
// Weights 中缺失的代理按权重 1 参与抽签。
type WeightedSettings struct {
	Weights map[string]float64 `json:"weights,omitempty"`
}

// RuleCombinator 决定一条规则的条件列表如何组合。
type RuleCombinator string

const (
	CombinatorAnd RuleCombinator = "and"
	CombinatorOr  RuleCombinator = "or"
)

// RuleConditionField 枚举自定义规则可以匹配的字段。
type RuleConditionField string

const (
	FieldDomain   RuleConditionField = "domain"
	FieldURL      RuleConditionField = "url"
	FieldPath     RuleConditionField = "path"
	FieldTimeHour RuleConditionField = "time_hour"
	FieldTimeDay  RuleConditionField = "time_day"
)

// RuleOperator 枚举条件运算符。
type RuleOperator string

const (
	OpEquals       RuleOperator = "equals"
	OpNotEquals    RuleOperator = "not_equals"
	OpContains     RuleOperator = "contains"
	OpNotContains  RuleOperator = "not_contains"
	OpStartsWith   RuleOperator = "starts_with"
	OpEndsWith     RuleOperator = "ends_with"
	OpMatchesRegex RuleOperator = "matches_regex"
	OpGreaterThan  RuleOperator = "greater_than"
	OpLessThan     RuleOperator = "less_than"
	OpInList       RuleOperator = "in_list"
	OpNotInList    RuleOperator = "not_in_list"
)

// RuleCondition 是规则中的单个条件。
type RuleCondition struct {
	Field         RuleConditionField `json:"field"`
	Operator      RuleOperator       `json:"operator"`
	Value         string             `json:"value,omitempty"`
	Values        []string           `json:"values,omitempty"` // in_list / not_in_list
	CaseSensitive bool               `json:"case_sensitive,omitempty"`
}

// RuleActionType 枚举规则命中后可以执行的动作。
type RuleActionType string

const (
	ActionUseProxy          RuleActionType = "use_proxy"
	ActionUseCountry        RuleActionType = "use_country"
	ActionExcludeCountry    RuleActionType = "exclude_country"
	ActionExcludeProxy      RuleActionType = "exclude_proxy"
	ActionRotateImmediately RuleActionType = "rotate_immediately"
)

// RuleAction 是规则命中后按序执行的单个动作。
type RuleAction struct {
	Type  RuleActionType `json:"type"`
	Value string         `json:"value,omitempty"`
}

// ProxyRule 是自定义规则策略的一条规则。
// 优先级高的先求值；同优先级按插入顺序。
type ProxyRule struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Priority    int             `json:"priority"`
	Combinator  RuleCombinator  `json:"combinator"`
	Conditions  []RuleCondition `json:"conditions"`
	Actions     []RuleAction    `json:"actions"`
	StopOnMatch bool            `json:"stop_on_match,omitempty"` // reserved
	Enabled     bool            `json:"enabled"`
}

// RotationConfig 是调度器持有的唯一配置对象。
// SetConfig 替换它并清空所有策略的用量计数器，但保留粘性映射和轮换历史。
type RotationConfig struct {
	Strategy   StrategyName        `json:"strategy"`
	TimeBased  *TimeBasedSettings  `json:"time_based,omitempty"`
	Geographic *GeographicSettings `json:"geographic,omitempty"`
	Sticky     *StickySettings     `json:"sticky,omitempty"`
	Weighted   *WeightedSettings   `json:"weighted,omitempty"`
	Rules      []*ProxyRule        `json:"rules,omitempty"`
}

// DefaultRotationConfig 返回一份可用的默认配置。
func DefaultRotationConfig() *RotationConfig {
	return &RotationConfig{Strategy: StrategyRoundRobin}
}
