package types

import "time"

// ProxyStatus 定义了代理记录的生命周期状态。
// 按照约定，调用方只把 active 状态的代理交给轮换引擎。
type ProxyStatus string

const (
	StatusActive   ProxyStatus = "active"
	StatusFailed   ProxyStatus = "failed"
	StatusChecking ProxyStatus = "checking"
	StatusDisabled ProxyStatus = "disabled"
)

// GeoLocation 描述一个代理出口的地理位置。
type GeoLocation struct {
	Country string `json:"country"`
	Region  string `json:"region,omitempty"`
	City    string `json:"city,omitempty"`
}

// ProxyCandidate 是选择算法的输入数据结构。
// 它由外部的代理管理器维护，对轮换引擎只读：引擎绝不修改其中任何字段。
type ProxyCandidate struct {
	ID     string      `json:"id"`
	Status ProxyStatus `json:"status"`

	// Latency 为 0 表示尚未测量。fastest 策略把未测量视为无穷大。
	Latency time.Duration `json:"latency"`

	FailureCount  int     `json:"failure_count"`
	TotalRequests int     `json:"total_requests"`
	SuccessRate   float64 `json:"success_rate"` // 0-100, 由调用方维护

	Geo    *GeoLocation `json:"geo,omitempty"`
	Tags   []string     `json:"tags,omitempty"`
	Weight float64      `json:"weight,omitempty"` // 0 表示未设置, 按 1 处理
}

// SelectionContext 携带一次选择调用的可选路由上下文。
// 所有策略都必须在 ctx 为 nil 时正常工作。
type SelectionContext struct {
	// Domain 可以是裸主机名，也可以是完整 URL。
	Domain        string `json:"domain,omitempty"`
	URL           string `json:"url,omitempty"`
	TargetCountry string `json:"target_country,omitempty"`
}

// RotationReason 标记一次时间轮换的触发原因。
type RotationReason string

const (
	RotationScheduled RotationReason = "scheduled"
	RotationFailure   RotationReason = "failure"
	RotationManual    RotationReason = "manual"
	RotationStartup   RotationReason = "startup"
)

// RotationEvent 是时间策略的轮换历史条目，仅追加。
type RotationEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	PrevProxyID string         `json:"prev_proxy_id"` // "none" 表示之前没有代理
	NewProxyID  string         `json:"new_proxy_id"`
	Reason      RotationReason `json:"reason"`
}

// NoPrevProxy 是 RotationEvent.PrevProxyID 的哨兵值。
const NoPrevProxy = "none"

// DomainProxyMapping 是粘性会话策略的域名->代理映射记录。
type DomainProxyMapping struct {
	Domain       string        `json:"domain"` // 规范化后的域名或通配符模式
	ProxyID      string        `json:"proxy_id"`
	CreatedAt    time.Time     `json:"created_at"`
	LastUsed     time.Time     `json:"last_used"`
	RequestCount int64         `json:"request_count"`
	TTL          time.Duration `json:"ttl"`
	Wildcard     bool          `json:"wildcard"`
}

// Expired reports whether the mapping is stale relative to now.
func (m *DomainProxyMapping) Expired(now time.Time) bool {
	return now.Sub(m.LastUsed) > m.TTL
}
