package rotation

import (
	"testing"
	"time"

	"proxyrotor/internal/shared/types"
)

func TestTimeBasedRotatesOnInterval(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: 5 * time.Second})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	candidates := makeCandidates("p1", "p2", "p3")

	first := s.Select(candidates, nil)
	if first == nil {
		t.Fatal("expected a candidate, got nil")
	}

	// t+3s: interval not elapsed, same proxy.
	current = current.Add(3 * time.Second)
	if got := s.Select(candidates, nil); got.ID != first.ID {
		t.Errorf("rotated before interval elapsed: %s -> %s", first.ID, got.ID)
	}

	// t+6s: interval elapsed, must rotate away from the current proxy.
	current = current.Add(3 * time.Second)
	second := s.Select(candidates, nil)
	if second.ID == first.ID {
		t.Errorf("expected rotation away from %s", first.ID)
	}

	history := s.History()
	if len(history) != 2 {
		t.Fatalf("expected 2 rotation events, got %d", len(history))
	}
	if history[0].Reason != types.RotationStartup || history[0].PrevProxyID != types.NoPrevProxy {
		t.Errorf("unexpected first event: %+v", history[0])
	}
	if history[1].Reason != types.RotationScheduled || history[1].PrevProxyID != first.ID {
		t.Errorf("unexpected second event: %+v", history[1])
	}
}

func TestTimeBasedForceRotation(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: time.Hour})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	candidates := makeCandidates("p1", "p2")

	first := s.Select(candidates, nil)
	s.ForceRotation()
	second := s.Select(candidates, nil)
	if second.ID == first.ID {
		t.Error("ForceRotation did not rotate")
	}

	history := s.History()
	if last := history[len(history)-1]; last.Reason != types.RotationManual {
		t.Errorf("expected manual reason, got %s", last.Reason)
	}
}

func TestTimeBasedRotateOnFailure(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: time.Hour, RotateOnFailure: true})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	candidates := makeCandidates("p1", "p2")

	first := s.Select(candidates, nil)

	// A failure report for a different proxy is ignored.
	s.ReportProxyFailure("not-current")
	if got := s.Select(candidates, nil); got.ID != first.ID {
		t.Error("failure report for non-current proxy triggered rotation")
	}

	s.ReportProxyFailure(first.ID)
	second := s.Select(candidates, nil)
	if second.ID == first.ID {
		t.Error("failure report for current proxy did not rotate")
	}
	history := s.History()
	if last := history[len(history)-1]; last.Reason != types.RotationFailure {
		t.Errorf("expected failure reason, got %s", last.Reason)
	}
}

func TestTimeBasedFailureReportIgnoredWhenDisabled(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: time.Hour})
	candidates := makeCandidates("p1", "p2")

	first := s.Select(candidates, nil)
	s.ReportProxyFailure(first.ID)
	if got := s.Select(candidates, nil); got.ID != first.ID {
		t.Error("rotate_on_failure disabled but failure report rotated anyway")
	}
}

func TestTimeBasedCurrentGoneForcesRotation(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: time.Hour})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }

	first := s.Select(makeCandidates("p1", "p2"), nil)

	// Current proxy vanished from the candidate set.
	remaining := makeCandidates("p3")
	if first.ID == "p3" {
		t.Fatal("test setup broken")
	}
	got := s.Select(remaining, nil)
	if got == nil || got.ID != "p3" {
		t.Errorf("expected forced rotation to p3, got %v", got)
	}
}

func TestTimeBasedOutsideScheduleWindow(t *testing.T) {
	s := NewTimeBasedStrategy()
	// Window 00:00-05:00, but the clock reads 12:00.
	s.SetSettings(&types.TimeBasedSettings{
		Interval:        time.Second,
		ScheduleWindows: []types.ScheduleWindow{{StartHour: 0, EndHour: 5}},
	})
	current := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	candidates := makeCandidates("p1", "p2")

	first := s.Select(candidates, nil)
	current = current.Add(time.Minute)
	if got := s.Select(candidates, nil); got.ID != first.ID {
		t.Error("rotated outside the schedule window")
	}
	if len(s.History()) != 0 {
		t.Errorf("no rotation events expected outside window, got %d", len(s.History()))
	}

	// At 03:00 the window applies and the overdue rotation happens.
	current = time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	got := s.Select(candidates, nil)
	if got.ID == first.ID {
		t.Error("expected rotation inside the schedule window")
	}
}

func TestScheduleWindowContains(t *testing.T) {
	overnight := types.ScheduleWindow{StartHour: 22, EndHour: 6}
	if !overnight.Contains(time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)) {
		t.Error("23:00 should be inside 22-6")
	}
	if !overnight.Contains(time.Date(2026, 8, 24, 3, 0, 0, 0, time.UTC)) {
		t.Error("03:00 should be inside 22-6")
	}
	if overnight.Contains(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)) {
		t.Error("12:00 should be outside 22-6")
	}

	// 2026-08-24 is a Monday (weekday 1).
	weekday := types.ScheduleWindow{StartHour: 0, EndHour: 23, Days: []int{1}}
	if !weekday.Contains(time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)) {
		t.Error("Monday should match days=[1]")
	}
	if weekday.Contains(time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)) {
		t.Error("Tuesday should not match days=[1]")
	}
}

func TestNextRotationIntervalJitterClamped(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{
		Interval:      10 * time.Second,
		JitterPercent: 50,
		MinInterval:   9 * time.Second,
		MaxInterval:   11 * time.Second,
	})

	for i := 0; i < 100; i++ {
		got := s.NextRotationInterval()
		if got < 9*time.Second || got > 11*time.Second {
			t.Fatalf("interval %v outside clamp [9s, 11s]", got)
		}
	}
}

func TestNextRotationIntervalNoJitter(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: 10 * time.Second})
	if got := s.NextRotationInterval(); got != 10*time.Second {
		t.Errorf("expected exact interval without jitter, got %v", got)
	}
}

func TestTimeBasedHistoryBounded(t *testing.T) {
	s := NewTimeBasedStrategy()
	s.SetSettings(&types.TimeBasedSettings{Interval: time.Second})
	current := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return current }
	candidates := makeCandidates("p1", "p2", "p3")

	for i := 0; i < 1200; i++ {
		s.Select(candidates, nil)
		current = current.Add(2 * time.Second)
	}
	if n := len(s.History()); n > 1000 {
		t.Errorf("history exceeded cap: %d", n)
	}
}
