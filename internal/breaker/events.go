package breaker

import (
	"time"

	"github.com/google/uuid"
)

// EventType 枚举熔断器生命周期事件。
// 事件名与载荷形状是对外契约，调用方 (代理管理器、指标采集) 依赖它。
type EventType string

const (
	EventStateChange EventType = "stateChange"
	EventOpen        EventType = "open"
	EventClose       EventType = "close"
	EventHalfOpen    EventType = "halfOpen"
	EventCreated     EventType = "created"
	EventRemoved     EventType = "removed"
)

// Event 是统一的事件信封，按熔断器与注册表两级粒度发布。
type Event struct {
	ID          string      `json:"id"`
	Type        EventType   `json:"type"`
	BreakerID   string      `json:"breaker_id"`
	Name        string      `json:"name,omitempty"`
	ServiceType ServiceType `json:"service_type"`
	ServiceID   string      `json:"service_id,omitempty"`
	PrevState   State       `json:"prev_state,omitempty"`
	NewState    State       `json:"new_state,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

func newEvent(t EventType, b *Breaker, prev, next State, reason string) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        t,
		BreakerID:   b.id,
		Name:        b.name,
		ServiceType: b.serviceType,
		ServiceID:   b.serviceID,
		PrevState:   prev,
		NewState:    next,
		Reason:      reason,
		Timestamp:   time.Now(),
	}
}
