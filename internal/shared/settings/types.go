package settings

import "proxyrotor/internal/shared/types"

// ConfigurableModule 是所有希望其配置能被在线管理的模块必须实现的接口。
// 它定义了一个标准的回调方法，当相关配置发生变更时，SettingsManager会调用此方法。
type ConfigurableModule interface {
	// OnSettingsUpdate 在配置变更时被 SettingsManager 调用。
	// moduleKey: 告知是哪个模块的配置发生了变化 (e.g., "rotation", "breaker")。
	// newSettings: 是对应模块的、已经解析好的新配置结构体指针。
	OnSettingsUpdate(moduleKey string, newSettings interface{}) error
}

// BreakerOverride 是单个服务类型的熔断器配置覆盖。
// 零值字段表示不覆盖，保留内置预设。
type BreakerOverride struct {
	FailureThreshold        int     `json:"failure_threshold,omitempty"`
	SuccessThreshold        int     `json:"success_threshold,omitempty"`
	HalfOpenMaxRequests     int     `json:"half_open_max_requests,omitempty"`
	ResetTimeoutMs          int64   `json:"reset_timeout_ms,omitempty"`
	FailureRateThreshold    float64 `json:"failure_rate_threshold,omitempty"`
	MinimumRequestThreshold int     `json:"minimum_request_threshold,omitempty"`
	SlidingWindowMs         int64   `json:"sliding_window_ms,omitempty"`
}

// BreakerSettings 对应 settings.json 中的 "breaker" 模块。
type BreakerSettings struct {
	ServiceTypes map[string]*BreakerOverride `json:"service_types,omitempty"`
}

// LoggingSettings 对应 settings.json 中的 "logging" 模块 (占位符)。
type LoggingSettings struct {
}

// RuntimeSettings 是 settings.json 文件的顶层结构。
// 它以模块化的方式组织了所有可以在运行时被动态修改的配置。
// 使用指针类型确保了当JSON文件中缺少某个模块时，对应的字段为nil，而不是一个空的结构体。
type RuntimeSettings struct {
	Rotation *types.RotationConfig `json:"rotation"`
	Breaker  *BreakerSettings      `json:"breaker"`
	Logging  *LoggingSettings      `json:"logging"`
}

func createDefaultSettings() *RuntimeSettings {
	return &RuntimeSettings{
		Rotation: types.DefaultRotationConfig(),
		Breaker:  &BreakerSettings{ServiceTypes: map[string]*BreakerOverride{}},
		Logging:  &LoggingSettings{},
	}
}

func ensureDefaultModules(s *RuntimeSettings) {
	if s.Rotation == nil {
		s.Rotation = types.DefaultRotationConfig()
	}
	if s.Breaker == nil {
		s.Breaker = &BreakerSettings{ServiceTypes: map[string]*BreakerOverride{}}
	}
	if s.Logging == nil {
		s.Logging = &LoggingSettings{}
	}
}
