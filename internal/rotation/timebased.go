package rotation

import (
	"math"
	"math/rand"
	"time"

	"proxyrotor/internal/shared/types"
)

const (
	defaultRotationInterval = 5 * time.Minute

	// 轮换历史是近似环形缓冲: 到达上限后裁剪到下限，只保留最新条目。
	rotationHistoryCap  = 1000
	rotationHistoryTrim = 500
)

// TimeBasedStrategy 按固定间隔轮换当前代理。
// 游标只在轮换时用于挑选下一个代理，间隔未到时始终返回当前代理。
type TimeBasedStrategy struct {
	baseStrategy
	settings *types.TimeBasedSettings

	currentID    string
	lastRotation time.Time
	history      []types.RotationEvent

	forceNext   bool
	forceReason types.RotationReason

	cursor uint64
	now    func() time.Time
}

func NewTimeBasedStrategy() *TimeBasedStrategy {
	return &TimeBasedStrategy{
		baseStrategy: newBaseStrategy(),
		now:          time.Now,
	}
}

func (s *TimeBasedStrategy) Name() types.StrategyName { return types.StrategyTimeBased }

// SetSettings 由 Dispatcher 在 SetConfig 时调用。
// 当前代理与轮换历史按设计跨配置变更保留。
func (s *TimeBasedStrategy) SetSettings(cfg *types.TimeBasedSettings) {
	s.settings = cfg
}

func (s *TimeBasedStrategy) interval() time.Duration {
	if s.settings != nil && s.settings.Interval > 0 {
		return s.settings.Interval
	}
	return defaultRotationInterval
}

func (s *TimeBasedStrategy) Select(candidates []*types.ProxyCandidate, _ *types.SelectionContext) *types.ProxyCandidate {
	if len(candidates) == 0 {
		return nil
	}
	now := s.now()

	// 调度窗口之外不轮换。
	if s.settings != nil && len(s.settings.ScheduleWindows) > 0 && !s.insideWindow(now) {
		if s.currentID != "" {
			if p := findCandidate(candidates, s.currentID); p != nil {
				return p
			}
		}
		// 没有可用的当前代理: 选一个并记为当前，但不记录轮换事件。
		chosen := s.pickNext(candidates)
		s.currentID = chosen.ID
		s.lastRotation = now
		return chosen
	}

	rotate := s.forceNext || s.currentID == "" || now.Sub(s.lastRotation) >= s.interval()
	if !rotate {
		if p := findCandidate(candidates, s.currentID); p != nil {
			return p
		}
		// 当前代理已从候选集消失，被迫轮换。
		rotate = true
	}
	if !rotate {
		return nil
	}

	// 多于一个候选时优先排除当前代理；排除后为空则回退到全集。
	pool := candidates
	if len(candidates) > 1 && s.currentID != "" {
		filtered := make([]*types.ProxyCandidate, 0, len(candidates)-1)
		for _, p := range candidates {
			if p.ID != s.currentID {
				filtered = append(filtered, p)
			}
		}
		if len(filtered) > 0 {
			pool = filtered
		}
	}

	chosen := s.pickNext(pool)

	reason := types.RotationScheduled
	prev := s.currentID
	if prev == "" {
		prev = types.NoPrevProxy
		reason = types.RotationStartup
	} else if s.forceNext {
		reason = s.forceReason
	}
	s.logRotation(now, prev, chosen.ID, reason)

	s.currentID = chosen.ID
	s.lastRotation = now
	s.forceNext = false
	s.forceReason = ""
	return chosen
}

func (s *TimeBasedStrategy) pickNext(pool []*types.ProxyCandidate) *types.ProxyCandidate {
	chosen := pool[s.cursor%uint64(len(pool))]
	s.cursor++
	return chosen
}

func (s *TimeBasedStrategy) insideWindow(now time.Time) bool {
	for i := range s.settings.ScheduleWindows {
		if s.settings.ScheduleWindows[i].Contains(now) {
			return true
		}
	}
	return false
}

func (s *TimeBasedStrategy) logRotation(now time.Time, prev, next string, reason types.RotationReason) {
	s.history = append(s.history, types.RotationEvent{
		Timestamp:   now,
		PrevProxyID: prev,
		NewProxyID:  next,
		Reason:      reason,
	})
	if len(s.history) > rotationHistoryCap {
		s.history = append(s.history[:0:0], s.history[len(s.history)-rotationHistoryTrim:]...)
	}
}

// ForceRotation 让下一次 Select 立刻轮换，原因记为 manual。
func (s *TimeBasedStrategy) ForceRotation() {
	s.forceNext = true
	s.forceReason = types.RotationManual
}

// ReportProxyFailure 仅在 rotate_on_failure 开启且失败的正是当前代理时，
// 设置强制轮换标记。
func (s *TimeBasedStrategy) ReportProxyFailure(id string) {
	if s.settings == nil || !s.settings.RotateOnFailure {
		return
	}
	if id != "" && id == s.currentID {
		s.forceNext = true
		s.forceReason = types.RotationFailure
	}
}

// NextRotationInterval 返回带对称抖动的建议间隔:
// base ± base*jitter%/100*uniform(-1,1)，再夹到 [min, max]。
// 仅供调用方安排自己的定时器使用；Select 的间隔判断始终用未抖动的 interval。
func (s *TimeBasedStrategy) NextRotationInterval() time.Duration {
	base := float64(s.interval())
	jitter := 0.0
	if s.settings != nil {
		jitter = s.settings.JitterPercent
	}
	value := base
	if jitter > 0 {
		value = base + base*(jitter/100)*(rand.Float64()*2-1)
	}
	if s.settings != nil {
		if s.settings.MinInterval > 0 && value < float64(s.settings.MinInterval) {
			value = float64(s.settings.MinInterval)
		}
		if s.settings.MaxInterval > 0 && value > float64(s.settings.MaxInterval) {
			value = float64(s.settings.MaxInterval)
		}
	}
	if value < 0 {
		value = 0
	}
	return time.Duration(math.Round(value/float64(time.Millisecond))) * time.Millisecond
}

// History 返回轮换历史的快照，最旧在前。
func (s *TimeBasedStrategy) History() []types.RotationEvent {
	out := make([]types.RotationEvent, len(s.history))
	copy(out, s.history)
	return out
}

// CurrentProxyID 返回当前代理 id，尚未选择时为空串。
func (s *TimeBasedStrategy) CurrentProxyID() string {
	return s.currentID
}
