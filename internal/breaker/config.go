package breaker

import "time"

// ServiceType 对受保护资源分类: 每类有自己的默认熔断参数。
type ServiceType string

const (
	ServiceProxy  ServiceType = "proxy"
	ServiceSearch ServiceType = "search"
	ServiceAPI    ServiceType = "api"
)

// Config 是单个熔断器的完整参数。
type Config struct {
	// FailureThreshold: CLOSED 下连续失败多少次后跳闸。
	FailureThreshold int `json:"failure_threshold"`
	// SuccessThreshold: HALF_OPEN 下累计多少次成功后闭合。
	SuccessThreshold int `json:"success_threshold"`
	// HalfOpenMaxRequests: HALF_OPEN 试探期允许放行的请求上限。
	HalfOpenMaxRequests int `json:"half_open_max_requests"`
	// ResetTimeout: OPEN 后经过多久自动进入 HALF_OPEN。
	ResetTimeout time.Duration `json:"reset_timeout"`
	// FailureRateThreshold: 滑动窗口失败率 (百分比) 跳闸阈值。
	FailureRateThreshold float64 `json:"failure_rate_threshold"`
	// MinimumRequestThreshold: 失败率判定生效所需的最小总请求数。
	MinimumRequestThreshold int `json:"minimum_request_threshold"`
	// SlidingWindow: 失败率统计的滑动时间窗口。
	SlidingWindow time.Duration `json:"sliding_window"`
}

// 每类服务的硬编码预设。代理比通用 API 跳闸更快、恢复更快:
// 坏代理换一个就是，没必要久等。
func presetFor(st ServiceType) Config {
	switch st {
	case ServiceProxy:
		return Config{
			FailureThreshold:        3,
			SuccessThreshold:        2,
			HalfOpenMaxRequests:     2,
			ResetTimeout:            30 * time.Second,
			FailureRateThreshold:    50,
			MinimumRequestThreshold: 5,
			SlidingWindow:           60 * time.Second,
		}
	case ServiceSearch:
		return Config{
			FailureThreshold:        4,
			SuccessThreshold:        2,
			HalfOpenMaxRequests:     3,
			ResetTimeout:            45 * time.Second,
			FailureRateThreshold:    50,
			MinimumRequestThreshold: 8,
			SlidingWindow:           90 * time.Second,
		}
	default:
		return Config{
			FailureThreshold:        5,
			SuccessThreshold:        3,
			HalfOpenMaxRequests:     3,
			ResetTimeout:            60 * time.Second,
			FailureRateThreshold:    50,
			MinimumRequestThreshold: 10,
			SlidingWindow:           120 * time.Second,
		}
	}
}

// merge 用 override 中的非零字段覆盖 base。
func merge(base Config, override *Config) Config {
	if override == nil {
		return base
	}
	out := base
	if override.FailureThreshold > 0 {
		out.FailureThreshold = override.FailureThreshold
	}
	if override.SuccessThreshold > 0 {
		out.SuccessThreshold = override.SuccessThreshold
	}
	if override.HalfOpenMaxRequests > 0 {
		out.HalfOpenMaxRequests = override.HalfOpenMaxRequests
	}
	if override.ResetTimeout > 0 {
		out.ResetTimeout = override.ResetTimeout
	}
	if override.FailureRateThreshold > 0 {
		out.FailureRateThreshold = override.FailureRateThreshold
	}
	if override.MinimumRequestThreshold > 0 {
		out.MinimumRequestThreshold = override.MinimumRequestThreshold
	}
	if override.SlidingWindow > 0 {
		out.SlidingWindow = override.SlidingWindow
	}
	return out
}
