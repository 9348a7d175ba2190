package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{
		FailureThreshold:        3,
		SuccessThreshold:        2,
		HalfOpenMaxRequests:     2,
		ResetTimeout:            30 * time.Second,
		FailureRateThreshold:    50,
		MinimumRequestThreshold: 5,
		SlidingWindow:           60 * time.Second,
	}
}

// newClockedBreaker pins the breaker to a fake clock so tests drive the
// OPEN timeout through the lazy CanExecute path instead of real timers.
func newClockedBreaker(cfg Config) (*Breaker, func(time.Duration)) {
	b := New("proxy-p1", "p1", ServiceProxy, "p1", cfg)
	current := time.Now()
	b.now = func() time.Time { return current }
	b.stateSince = current
	advance := func(d time.Duration) { current = current.Add(d) }
	return b, advance
}

func TestBreakerStartsClosed(t *testing.T) {
	b := New("proxy-p1", "p1", ServiceProxy, "p1", testConfig())
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())
}

func TestBreakerConsecutiveFailuresTrip(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())

	b.RecordFailure("err 1")
	b.RecordFailure("err 2")
	require.Equal(t, StateClosed, b.State(), "below threshold must stay closed")

	b.RecordFailure("err 3")
	require.Equal(t, StateOpen, b.State())
	assert.False(t, b.CanExecute())

	m := b.Metrics()
	assert.Equal(t, int64(1), m.Trips)
	assert.Equal(t, int64(3), m.Failures)
}

func TestBreakerSuccessResetsConsecutiveCount(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())

	b.RecordFailure("err")
	b.RecordFailure("err")
	b.RecordSuccess(0)
	b.RecordFailure("err")
	b.RecordFailure("err")
	assert.Equal(t, StateClosed, b.State(), "success in between must reset the streak")
}

func TestBreakerFailureRateTrip(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 10 // keep the consecutive path out of the way
	b, _ := newClockedBreaker(cfg)

	b.RecordSuccess(0)
	b.RecordFailure("err")
	b.RecordSuccess(0)
	b.RecordFailure("err")
	require.Equal(t, StateClosed, b.State(), "below minimum request threshold")

	// Fifth call reaches the minimum and pushes the window rate to 60%.
	b.RecordFailure("err")
	require.Equal(t, StateOpen, b.State())
}

func TestBreakerOpenToHalfOpenAfterTimeout(t *testing.T) {
	b, advance := newClockedBreaker(testConfig())

	b.Trip()
	require.Equal(t, StateOpen, b.State())
	require.False(t, b.CanExecute())

	advance(31 * time.Second)
	assert.True(t, b.CanExecute(), "reset timeout elapsed, probe must be allowed")
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreakerHalfOpenSuccessThresholdCloses(t *testing.T) {
	b, advance := newClockedBreaker(testConfig())

	b.Trip()
	advance(31 * time.Second)
	require.True(t, b.CanExecute())
	require.Equal(t, StateHalfOpen, b.State())

	b.RecordSuccess(10 * time.Millisecond)
	require.Equal(t, StateHalfOpen, b.State(), "one success is below the threshold")

	b.RecordSuccess(10 * time.Millisecond)
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.CanExecute())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, advance := newClockedBreaker(testConfig())

	b.Trip()
	advance(31 * time.Second)
	require.True(t, b.CanExecute())

	b.RecordFailure("probe failed")
	assert.Equal(t, StateOpen, b.State())
	assert.Equal(t, int64(2), b.Metrics().Trips)
	assert.False(t, b.CanExecute())
}

func TestBreakerHalfOpenLimitsProbes(t *testing.T) {
	cfg := testConfig()
	cfg.SuccessThreshold = 3
	cfg.HalfOpenMaxRequests = 2
	b, advance := newClockedBreaker(cfg)

	b.Trip()
	advance(31 * time.Second)
	require.True(t, b.CanExecute())

	b.RecordSuccess(0)
	require.True(t, b.CanExecute(), "first probe done, one slot left")
	b.RecordSuccess(0)
	require.Equal(t, StateHalfOpen, b.State(), "two successes still below success threshold")
	assert.False(t, b.CanExecute(), "probe budget exhausted")
}

func TestBreakerManualTripAndReset(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())
	var events []Event
	b.OnEvent(func(e Event) { events = append(events, e) })

	b.Trip()
	require.Equal(t, StateOpen, b.State())
	require.Len(t, events, 2)
	assert.Equal(t, EventStateChange, events[0].Type)
	assert.Equal(t, EventOpen, events[1].Type)
	assert.Equal(t, "manual", events[0].Reason)

	b.Reset()
	require.Equal(t, StateClosed, b.State())
	require.Len(t, events, 4)
	assert.Equal(t, EventClose, events[3].Type)

	// Resetting an already-closed breaker is a no-op: no duplicate events.
	b.Reset()
	assert.Len(t, events, 4)
}

func TestBreakerTripIdempotent(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())

	b.Trip()
	b.Trip()
	assert.Equal(t, int64(1), b.Metrics().Trips, "repeated trip in OPEN must not double count")
}

func TestBreakerExecuteSuccessAndFailure(t *testing.T) {
	b := New("proxy-p1", "p1", ServiceProxy, "p1", testConfig())
	ctx := context.Background()

	value, err := b.Execute(ctx, func(context.Context) (interface{}, error) {
		return "ok", nil
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	boom := errors.New("backend exploded")
	_, err = b.Execute(ctx, func(context.Context) (interface{}, error) {
		return nil, boom
	}, nil)
	require.ErrorIs(t, err, boom, "the original error must pass through unchanged")

	m := b.Metrics()
	assert.Equal(t, int64(2), m.TotalRequests)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, int64(1), m.Failures)
}

func TestBreakerExecuteRejection(t *testing.T) {
	b := New("proxy-p1", "p1", ServiceProxy, "p1", testConfig())
	b.Trip()
	ctx := context.Background()
	fn := func(context.Context) (interface{}, error) { return "never", nil }

	// Default rejection surfaces *OpenError.
	_, err := b.Execute(ctx, fn, nil)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "proxy-p1", openErr.BreakerID)

	// A fallback replaces the rejected call entirely.
	value, err := b.Execute(ctx, fn, &ExecuteOptions{
		Fallback: func(context.Context) (interface{}, error) { return "fallback", nil },
	})
	require.NoError(t, err)
	assert.Equal(t, "fallback", value)

	// Silent rejection returns nothing at all.
	value, err = b.Execute(ctx, fn, &ExecuteOptions{SilentReject: true})
	require.NoError(t, err)
	assert.Nil(t, value)

	m := b.Metrics()
	assert.Equal(t, int64(3), m.Rejections)
	assert.Equal(t, int64(0), m.TotalRequests, "rejected calls are not recorded as requests")
}

func TestBreakerExecuteTimeout(t *testing.T) {
	b := New("proxy-p1", "p1", ServiceProxy, "p1", testConfig())
	ctx := context.Background()

	done := make(chan struct{})
	_, err := b.Execute(ctx, func(c context.Context) (interface{}, error) {
		defer close(done)
		select {
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		case <-c.Done():
			return nil, c.Err()
		}
	}, &ExecuteOptions{Timeout: 20 * time.Millisecond})

	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 20*time.Millisecond, timeoutErr.Timeout)

	// The late result must not be recorded a second time.
	<-done
	time.Sleep(10 * time.Millisecond)
	m := b.Metrics()
	assert.Equal(t, int64(1), m.TotalRequests)
	assert.Equal(t, int64(1), m.Failures)
}

func TestBreakerMetricsTimeInState(t *testing.T) {
	b, advance := newClockedBreaker(testConfig())

	advance(10 * time.Second)
	b.Trip()
	advance(5 * time.Second)

	m := b.Metrics()
	assert.Equal(t, 10*time.Second, m.TimeInState[StateClosed])
	assert.Equal(t, 5*time.Second, m.TimeInState[StateOpen], "current state includes live duration")
}

func TestBreakerAvgResponseTime(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())

	b.RecordSuccess(100 * time.Millisecond)
	b.RecordSuccess(300 * time.Millisecond)
	assert.Equal(t, 200*time.Millisecond, b.Metrics().AvgResponseTime)

	// Zero durations are unmeasured and must not drag the average down.
	b.RecordSuccess(0)
	assert.Equal(t, 200*time.Millisecond, b.Metrics().AvgResponseTime)
}

func TestBreakerSlidingWindowPrunesOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 100
	b, advance := newClockedBreaker(cfg)

	b.RecordFailure("old")
	b.RecordFailure("old")
	advance(2 * time.Minute) // past the 60s window

	b.RecordSuccess(0)
	m := b.Metrics()
	assert.Equal(t, float64(0), m.WindowFailureRate, "stale failures must age out of the window")
}

func TestBreakerDestroy(t *testing.T) {
	b, _ := newClockedBreaker(testConfig())
	var events []Event
	b.OnEvent(func(e Event) { events = append(events, e) })

	b.Destroy()
	assert.True(t, b.Destroyed())
	assert.False(t, b.CanExecute())

	b.RecordFailure("ignored")
	b.Trip()
	assert.Empty(t, events, "a destroyed breaker must be inert")
}
