package quota

import (
	"testing"
	"time"
)

func TestResetScheduler_ArmsForNextMidnight(t *testing.T) {
	mgr, clock := testManager(t, defaultPools(), 25)
	sched := NewResetScheduler(mgr, clock, mgr.logger)

	sched.Start()
	defer sched.Stop()

	timers := clock.scheduled()
	if len(timers) != 1 {
		t.Fatalf("Expected 1 armed timer, got %d", len(timers))
	}
	// Test clock starts at 12:00 UTC.
	if timers[0].delay != 12*time.Hour {
		t.Errorf("Expected 12h delay to midnight, got %s", timers[0].delay)
	}
}

func TestResetScheduler_FireResetsAndRearms(t *testing.T) {
	mgr, clock := testManager(t, defaultPools(), 25)
	sched := NewResetScheduler(mgr, clock, mgr.logger)

	for i := 0; i < 10; i++ {
		if _, err := mgr.AcquireKey("alice", "", 1); err != nil {
			t.Fatalf("Request %d failed: %v", i, err)
		}
	}

	sched.Start()
	defer sched.Stop()

	clock.Advance(12 * time.Hour)
	clock.scheduled()[0].f()

	if got := mgr.Status("alice").RequestsToday; got != 0 {
		t.Errorf("Expected counters reset after fire, got %d", got)
	}

	timers := clock.scheduled()
	if len(timers) != 2 {
		t.Fatalf("Expected re-armed timer, got %d timers", len(timers))
	}
	// The timer fired exactly at midnight; the boundary computation would
	// hand back 24h, which is also what the drift guard enforces.
	if timers[1].delay != 24*time.Hour {
		t.Errorf("Expected 24h re-arm, got %s", timers[1].delay)
	}
}

func TestResetScheduler_LateFireSnapsToBoundary(t *testing.T) {
	mgr, clock := testManager(t, defaultPools(), 25)
	sched := NewResetScheduler(mgr, clock, mgr.logger)

	sched.Start()
	defer sched.Stop()

	// Fire 5 minutes past midnight, as a busy scheduler might.
	clock.Advance(12*time.Hour + 5*time.Minute)
	clock.scheduled()[0].f()

	timers := clock.scheduled()
	if len(timers) != 2 {
		t.Fatalf("Expected re-armed timer, got %d timers", len(timers))
	}
	want := 24*time.Hour - 5*time.Minute
	if timers[1].delay != want {
		t.Errorf("Expected %s re-arm, got %s", want, timers[1].delay)
	}
}

func TestResetScheduler_StopCancelsTimer(t *testing.T) {
	mgr, clock := testManager(t, defaultPools(), 25)
	sched := NewResetScheduler(mgr, clock, mgr.logger)

	sched.Start()
	sched.Stop()

	timers := clock.scheduled()
	if len(timers) != 1 {
		t.Fatalf("Expected 1 timer, got %d", len(timers))
	}
	if !timers[0].stopped {
		t.Error("Stop should cancel the armed timer")
	}

	// A fire after stop must not re-arm.
	timers[0].f()
	if got := len(clock.scheduled()); got != 1 {
		t.Errorf("Stopped scheduler re-armed, %d timers", got)
	}
}
