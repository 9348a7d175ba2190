package breaker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"proxyrotor/internal/shared/logger"
)

// State 枚举熔断器的三个状态。
type State string

const (
	StateClosed   State = "CLOSED"    // 直通
	StateOpen     State = "OPEN"      // 立即拒绝
	StateHalfOpen State = "HALF_OPEN" // 有限试探
)

// 结果历史是近似环形缓冲，与轮换历史同样的裁剪策略。
const (
	outcomeHistoryCap  = 1000
	outcomeHistoryTrim = 500
)

// Outcome 是一次被记录的调用结果。
type Outcome struct {
	Success   bool          `json:"success"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration,omitempty"`
	Message   string        `json:"message,omitempty"`
}

// OpenError 表示调用被熔断器拒绝。
type OpenError struct {
	BreakerID   string
	ServiceType ServiceType
	ServiceID   string
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is open (service_type=%s service_id=%s)", e.BreakerID, e.ServiceType, e.ServiceID)
}

// TimeoutError 表示被包裹的调用超时，已作为失败记录。
type TimeoutError struct {
	BreakerID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %s: call timed out after %s", e.BreakerID, e.Timeout)
}

// Breaker 是一台受保护资源的三状态故障隔离状态机。
// 所有状态只通过 RecordSuccess/RecordFailure/Execute/Trip/Reset 变化，
// 调用方绝不直接修改。
type Breaker struct {
	id          string
	name        string
	serviceType ServiceType
	serviceID   string
	cfg         Config

	mu         sync.Mutex
	state      State
	stateSince time.Time
	destroyed  bool

	history []Outcome

	totalRequests int64
	successes     int64
	failures      int64
	rejections    int64
	trips         int64

	consecutiveFailures int
	halfOpenSuccesses   int

	stateDurations map[State]time.Duration

	avgResponse     time.Duration
	responseSamples int64

	resetTimer *time.Timer
	listeners  []func(Event)

	now func() time.Time
	log zerolog.Logger
}

// New 创建一个熔断器。每个受保护资源创建一次，存活到进程结束或被显式销毁。
func New(id, name string, serviceType ServiceType, serviceID string, cfg Config) *Breaker {
	b := &Breaker{
		id:             id,
		name:           name,
		serviceType:    serviceType,
		serviceID:      serviceID,
		cfg:            cfg,
		state:          StateClosed,
		stateDurations: make(map[State]time.Duration),
		now:            time.Now,
		log:            logger.WithComponent("Breaker/" + id),
	}
	b.stateSince = b.now()
	return b
}

func (b *Breaker) ID() string               { return b.id }
func (b *Breaker) Name() string             { return b.name }
func (b *Breaker) ServiceType() ServiceType { return b.serviceType }
func (b *Breaker) ServiceID() string        { return b.serviceID }
func (b *Breaker) Configuration() Config    { return b.cfg }

// OnEvent 注册一个事件监听器。监听器在锁外被调用。
func (b *Breaker) OnEvent(fn func(Event)) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// State 返回当前状态。
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// CanExecute 判定一次调用是否允许放行。
// OPEN 下若 resetTimeout 已到，会作为副作用惰性触发 OPEN->HALF_OPEN。
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	ok, events := b.canExecuteLocked()
	b.mu.Unlock()
	b.emit(events)
	return ok
}

func (b *Breaker) canExecuteLocked() (bool, []Event) {
	if b.destroyed {
		return false, nil
	}
	switch b.state {
	case StateClosed:
		return true, nil
	case StateOpen:
		if b.now().Sub(b.stateSince) >= b.cfg.ResetTimeout {
			events := b.transitionLocked(StateHalfOpen, "timeout")
			return true, events
		}
		return false, nil
	case StateHalfOpen:
		return b.halfOpenSuccesses < b.cfg.HalfOpenMaxRequests, nil
	default:
		return false, nil
	}
}

// RecordSuccess 记录一次成功。duration 为 0 时不参与平均响应时间。
func (b *Breaker) RecordSuccess(duration time.Duration) {
	b.mu.Lock()
	events := b.recordSuccessLocked(duration)
	b.mu.Unlock()
	b.emit(events)
}

func (b *Breaker) recordSuccessLocked(duration time.Duration) []Event {
	if b.destroyed {
		return nil
	}
	b.appendOutcomeLocked(Outcome{Success: true, Timestamp: b.now(), Duration: duration})
	b.totalRequests++
	b.successes++
	b.consecutiveFailures = 0
	if duration > 0 {
		b.responseSamples++
		b.avgResponse += (duration - b.avgResponse) / time.Duration(b.responseSamples)
	}

	if b.state == StateHalfOpen {
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			return b.transitionLocked(StateClosed, "success_threshold")
		}
	}
	return nil
}

// RecordFailure 记录一次失败，并按阈值决定是否跳闸。
func (b *Breaker) RecordFailure(message string) {
	b.mu.Lock()
	events := b.recordFailureLocked(message)
	b.mu.Unlock()
	b.emit(events)
}

func (b *Breaker) recordFailureLocked(message string) []Event {
	if b.destroyed {
		return nil
	}
	now := b.now()
	b.appendOutcomeLocked(Outcome{Success: false, Timestamp: now, Message: message})
	b.totalRequests++
	b.failures++
	b.consecutiveFailures++

	switch b.state {
	case StateHalfOpen:
		// 试探期零容忍: 第一次失败立即回到 OPEN。
		return b.transitionLocked(StateOpen, "half_open_failure")
	case StateClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			return b.transitionLocked(StateOpen, "consecutive_failures")
		}
		if b.totalRequests >= int64(b.cfg.MinimumRequestThreshold) &&
			b.windowFailureRateLocked(now) >= b.cfg.FailureRateThreshold {
			return b.transitionLocked(StateOpen, "failure_rate")
		}
	}
	return nil
}

// Trip 手动强制跳闸到 OPEN，绕过计数器但照常发事件。
func (b *Breaker) Trip() {
	b.mu.Lock()
	var events []Event
	if !b.destroyed {
		events = b.transitionLocked(StateOpen, "manual")
	}
	b.mu.Unlock()
	b.emit(events)
}

// Reset 手动强制闭合到 CLOSED。
func (b *Breaker) Reset() {
	b.mu.Lock()
	var events []Event
	if !b.destroyed {
		events = b.transitionLocked(StateClosed, "manual")
	}
	b.mu.Unlock()
	b.emit(events)
}

// Destroy 将熔断器标记为永久不可执行，清掉定时器与历史。不可复用。
func (b *Breaker) Destroy() {
	b.mu.Lock()
	b.destroyed = true
	b.cancelTimerLocked()
	b.history = nil
	b.listeners = nil
	b.mu.Unlock()
}

// Destroyed reports whether Destroy has been called.
func (b *Breaker) Destroyed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.destroyed
}

// transitionLocked 是唯一的状态迁移入口，幂等:
// 定时器路径与惰性检查路径都走这里，目标状态相同时第二次调用是空操作，
// 避免 trip/transition 指标被重复计数。
func (b *Breaker) transitionLocked(next State, reason string) []Event {
	if b.state == next {
		return nil
	}
	prev := b.state
	now := b.now()
	b.stateDurations[prev] += now.Sub(b.stateSince)
	b.state = next
	b.stateSince = now

	// 每次迁移都清零试探期成功计数。
	b.halfOpenSuccesses = 0
	// 离开 OPEN 的任何迁移都必须取消挂起的重置定时器，
	// 否则一个过期定时器会把早已离开 OPEN 的熔断器强行迁移。
	b.cancelTimerLocked()

	switch next {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateOpen:
		b.trips++
		b.startTimerLocked()
	case StateHalfOpen:
		// HALF_OPEN 不经定时器自动闭合: 只能靠成功阈值闭合或失败重开。
	}

	b.log.Debug().
		Str("prev", string(prev)).
		Str("next", string(next)).
		Str("reason", reason).
		Msg("Breaker state transition.")

	return []Event{
		newEvent(EventStateChange, b, prev, next, reason),
		newEvent(stateEventType(next), b, prev, next, reason),
	}
}

func stateEventType(s State) EventType {
	switch s {
	case StateOpen:
		return EventOpen
	case StateHalfOpen:
		return EventHalfOpen
	default:
		return EventClose
	}
}

func (b *Breaker) startTimerLocked() {
	b.resetTimer = time.AfterFunc(b.cfg.ResetTimeout, b.onResetTimeout)
}

func (b *Breaker) cancelTimerLocked() {
	if b.resetTimer != nil {
		b.resetTimer.Stop()
		b.resetTimer = nil
	}
}

// onResetTimeout 是 OPEN 周期的定时器回调，与 CanExecute 的惰性检查
// 产生同一个可观测迁移。
func (b *Breaker) onResetTimeout() {
	b.mu.Lock()
	var events []Event
	if !b.destroyed && b.state == StateOpen && b.now().Sub(b.stateSince) >= b.cfg.ResetTimeout {
		events = b.transitionLocked(StateHalfOpen, "timeout")
	}
	b.mu.Unlock()
	b.emit(events)
}

func (b *Breaker) appendOutcomeLocked(o Outcome) {
	b.history = append(b.history, o)
	// 先按滑动窗口剪掉陈旧条目，再做硬上限裁剪。
	if b.cfg.SlidingWindow > 0 {
		cutoff := b.now().Add(-b.cfg.SlidingWindow)
		idx := 0
		for idx < len(b.history) && b.history[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			b.history = append(b.history[:0:0], b.history[idx:]...)
		}
	}
	if len(b.history) > outcomeHistoryCap {
		b.history = append(b.history[:0:0], b.history[len(b.history)-outcomeHistoryTrim:]...)
	}
}

// windowFailureRateLocked 返回滑动窗口内的失败率 (百分比)，窗口为空时为 0。
func (b *Breaker) windowFailureRateLocked(now time.Time) float64 {
	cutoff := now.Add(-b.cfg.SlidingWindow)
	var total, failed int
	for i := range b.history {
		if b.history[i].Timestamp.Before(cutoff) {
			continue
		}
		total++
		if !b.history[i].Success {
			failed++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total) * 100
}

func (b *Breaker) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	b.mu.Lock()
	listeners := make([]func(Event), len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()
	for _, e := range events {
		for _, fn := range listeners {
			fn(e)
		}
	}
}

// ExecuteOptions 控制一次 Execute 调用的超时与拒绝行为。
type ExecuteOptions struct {
	// Timeout > 0 时，与被包裹调用赛跑；超时按失败记录。
	Timeout time.Duration
	// Fallback 在调用被拒绝时顶替执行，其结果原样返回，不再报错。
	Fallback func(context.Context) (interface{}, error)
	// SilentReject 为 true 时，被拒绝且无 Fallback 的调用返回 (nil, nil)
	// 而不是 *OpenError。
	SilentReject bool
}

type callResult struct {
	value interface{}
	err   error
}

// Execute 把任意调用包进熔断语义里。
// 成功记成功、出错记失败后把原错误原样抛回；超时以合成的超时消息记失败。
// 真正的网络 I/O 发生在 fn 内部，熔断器自身绝不触碰网络。
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (interface{}, error), opts *ExecuteOptions) (interface{}, error) {
	if opts == nil {
		opts = &ExecuteOptions{}
	}

	if !b.CanExecute() {
		b.mu.Lock()
		b.rejections++
		b.mu.Unlock()
		if opts.Fallback != nil {
			return opts.Fallback(ctx)
		}
		if opts.SilentReject {
			return nil, nil
		}
		return nil, &OpenError{BreakerID: b.id, ServiceType: b.serviceType, ServiceID: b.serviceID}
	}

	start := b.now()

	if opts.Timeout <= 0 {
		value, err := fn(ctx)
		if err != nil {
			b.RecordFailure(err.Error())
			return value, err
		}
		b.RecordSuccess(b.now().Sub(start))
		return value, nil
	}

	cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	// 缓冲为 1: 超时后迟到的结果只会落进缓冲被丢弃，
	// 不会在超时已被记为失败之后再次改动状态。
	resultCh := make(chan callResult, 1)
	go func() {
		value, err := fn(cctx)
		resultCh <- callResult{value: value, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			b.RecordFailure(res.err.Error())
			return res.value, res.err
		}
		b.RecordSuccess(b.now().Sub(start))
		return res.value, nil
	case <-cctx.Done():
		timeoutErr := &TimeoutError{BreakerID: b.id, Timeout: opts.Timeout}
		b.RecordFailure(timeoutErr.Error())
		return nil, timeoutErr
	}
}

// Metrics 是熔断器的只读指标快照。
type Metrics struct {
	ID                  string                  `json:"id"`
	Name                string                  `json:"name,omitempty"`
	ServiceType         ServiceType             `json:"service_type"`
	ServiceID           string                  `json:"service_id,omitempty"`
	State               State                   `json:"state"`
	StateSince          time.Time               `json:"state_since"`
	TotalRequests       int64                   `json:"total_requests"`
	Successes           int64                   `json:"successes"`
	Failures            int64                   `json:"failures"`
	Rejections          int64                   `json:"rejections"`
	Trips               int64                   `json:"trips"`
	ConsecutiveFailures int                     `json:"consecutive_failures"`
	HalfOpenSuccesses   int                     `json:"half_open_successes"`
	WindowFailureRate   float64                 `json:"window_failure_rate"`
	AvgResponseTime     time.Duration           `json:"avg_response_time"`
	TimeInState         map[State]time.Duration `json:"time_in_state"`
}

// Metrics 返回当前指标快照。TimeInState 包含当前状态已持续的时间。
func (b *Breaker) Metrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	inState := make(map[State]time.Duration, len(b.stateDurations)+1)
	for s, d := range b.stateDurations {
		inState[s] = d
	}
	inState[b.state] += now.Sub(b.stateSince)
	return Metrics{
		ID:                  b.id,
		Name:                b.name,
		ServiceType:         b.serviceType,
		ServiceID:           b.serviceID,
		State:               b.state,
		StateSince:          b.stateSince,
		TotalRequests:       b.totalRequests,
		Successes:           b.successes,
		Failures:            b.failures,
		Rejections:          b.rejections,
		Trips:               b.trips,
		ConsecutiveFailures: b.consecutiveFailures,
		HalfOpenSuccesses:   b.halfOpenSuccesses,
		WindowFailureRate:   b.windowFailureRateLocked(now),
		AvgResponseTime:     b.avgResponse,
		TimeInState:         inState,
	}
}
