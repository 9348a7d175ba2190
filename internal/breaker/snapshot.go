package breaker

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"proxyrotor/internal/shared/logger"
)

// Snapshot 是熔断器的可持久化状态，用于进程重启后的温启动。
type Snapshot struct {
	ID                  string        `json:"id"`
	Name                string        `json:"name,omitempty"`
	ServiceType         ServiceType   `json:"service_type"`
	ServiceID           string        `json:"service_id,omitempty"`
	State               State         `json:"state"`
	StateSince          time.Time     `json:"state_since"`
	TotalRequests       int64         `json:"total_requests"`
	Successes           int64         `json:"successes"`
	Failures            int64         `json:"failures"`
	Rejections          int64         `json:"rejections"`
	Trips               int64         `json:"trips"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	HalfOpenSuccesses   int           `json:"half_open_successes"`
	AvgResponseTime     time.Duration `json:"avg_response_time"`
	ResponseSamples     int64         `json:"response_samples"`
	History             []Outcome     `json:"history,omitempty"`
	TakenAt             time.Time     `json:"taken_at"`
}

// Snapshot 捕获当前状态。
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	history := make([]Outcome, len(b.history))
	copy(history, b.history)
	return Snapshot{
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
		AvgResponseTime:     b.avgResponse,
		ResponseSamples:     b.responseSamples,
		History:             history,
		TakenAt:             b.now(),
	}
}

// RestoreSnapshot 把快照应用到熔断器上。
// 恢复为 OPEN 时按剩余时间重启重置定时器；剩余时间耗尽则立即进入 HALF_OPEN。
// 不发事件: 温启动不是状态迁移。
func (b *Breaker) RestoreSnapshot(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.destroyed {
		return
	}
	b.state = s.State
	b.stateSince = s.StateSince
	b.totalRequests = s.TotalRequests
	b.successes = s.Successes
	b.failures = s.Failures
	b.rejections = s.Rejections
	b.trips = s.Trips
	b.consecutiveFailures = s.ConsecutiveFailures
	b.halfOpenSuccesses = s.HalfOpenSuccesses
	b.avgResponse = s.AvgResponseTime
	b.responseSamples = s.ResponseSamples
	b.history = append(b.history[:0:0], s.History...)

	b.cancelTimerLocked()
	if b.state == StateOpen {
		remaining := b.cfg.ResetTimeout - b.now().Sub(b.stateSince)
		if remaining <= 0 {
			b.state = StateHalfOpen
			b.stateSince = b.now()
			b.halfOpenSuccesses = 0
		} else {
			b.resetTimer = time.AfterFunc(remaining, b.onResetTimeout)
		}
	}
}

const snapshotBucket = "breakers"

// SnapshotStore 用 bbolt 持久化全部熔断器快照。
type SnapshotStore struct {
	db *bbolt.DB
}

// OpenSnapshotStore 打开 (或创建) 快照数据库文件。
func OpenSnapshotStore(path string) (*SnapshotStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}

// SaveAll 把注册表中所有熔断器的快照写入同一个事务。
func (s *SnapshotStore) SaveAll(r *Registry) error {
	snapshots := r.Snapshots()
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(snapshotBucket))
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		for _, snap := range snapshots {
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("failed to marshal snapshot %s: %w", snap.ID, err)
			}
			if err := bucket.Put([]byte(snap.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadInto 读出全部快照并恢复进注册表，熔断器按需惰性创建。
func (s *SnapshotStore) LoadInto(r *Registry) error {
	l := logger.WithComponent("Breaker/SnapshotStore")
	var restored int
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return nil // 第一次启动，没有快照
		}
		return bucket.ForEach(func(_, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				l.Warn().Err(err).Msg("Skipping corrupt breaker snapshot.")
				return nil
			}
			b := r.GetForService(snap.ServiceType, snap.ServiceID)
			b.RestoreSnapshot(snap)
			restored++
			return nil
		})
	})
	if err != nil {
		return fmt.Errorf("failed to load snapshots: %w", err)
	}
	if restored > 0 {
		l.Info().Int("count", restored).Msg("Restored breaker snapshots.")
	}
	return nil
}

// Delete 移除单个快照 (熔断器被销毁后调用)。
func (s *SnapshotStore) Delete(breakerID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(snapshotBucket))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(breakerID))
	})
}
