package polling

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

// Short intervals keep these tests fast while preserving the long:short
// ratio of the production defaults.
func testScheduler(query QueryFunc) *Scheduler {
	return New(Config{
		LongInterval:  300 * time.Millisecond,
		ShortInterval: 20 * time.Millisecond,
		BurstDuration: 80 * time.Millisecond,
	}, query)
}

func TestScheduler_StartStop(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	s.Start(context.Background())
	if !s.IsRunning() {
		t.Fatal("IsRunning() = false after Start")
	}

	s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	// Must be safe even if never started, and idempotent.
	s.Stop()
	s.Stop()
}

func TestScheduler_StartIdempotent(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	s.Start(context.Background())
	s.Start(context.Background()) // no-op, must not panic or double-run
	defer s.Stop()

	if !s.IsRunning() {
		t.Error("IsRunning() = false after double Start")
	}
}

func TestScheduler_InitialModeLong(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	if got := s.Mode(); got != ModeLong {
		t.Errorf("Mode() = %v, want %v", got, ModeLong)
	}
}

func TestScheduler_TriggerBurstPreemptsLongSleep(t *testing.T) {
	var calls atomic.Int64
	s := New(Config{
		LongInterval:  10 * time.Second, // would stall the test without preemption
		ShortInterval: 20 * time.Millisecond,
		BurstDuration: 60 * time.Millisecond,
	}, func(_ context.Context) error {
		calls.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	// The loop is now sleeping towards a tick 10s away.
	time.Sleep(30 * time.Millisecond)
	s.TriggerBurst()

	if got := s.Mode(); got != ModeShort {
		t.Errorf("Mode() after TriggerBurst = %v, want %v", got, ModeShort)
	}

	// Without preemption no tick would fire for ~10s.
	deadline := time.Now().Add(500 * time.Millisecond)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() == 0 {
		t.Fatal("no poll tick within 500ms of TriggerBurst; sleep was not preempted")
	}
}

func TestScheduler_BurstThenDecay(t *testing.T) {
	var calls atomic.Int64
	s := testScheduler(func(_ context.Context) error {
		calls.Add(1)
		return nil
	})

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerBurst()

	// Several short ticks should land inside the 80ms burst window.
	time.Sleep(120 * time.Millisecond)
	burstCalls := calls.Load()
	if burstCalls < 2 {
		t.Errorf("ticks during burst window = %d, want >= 2", burstCalls)
	}

	// After the window the scheduler must have demoted itself.
	if got := s.Mode(); got != ModeLong {
		t.Errorf("Mode() after burst elapsed = %v, want %v", got, ModeLong)
	}

	// And the cadence must be long again: no flood of further ticks.
	time.Sleep(100 * time.Millisecond)
	if calls.Load() > burstCalls+1 {
		t.Errorf("ticks after demotion = %d, want at most %d", calls.Load(), burstCalls+1)
	}
}

func TestScheduler_ExtendBurstKeepsShortMode(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerBurst()
	firstEnd := s.Stats().BurstEndAt

	time.Sleep(30 * time.Millisecond)
	s.ExtendBurst()

	secondEnd := s.Stats().BurstEndAt
	if !secondEnd.After(firstEnd) {
		t.Errorf("BurstEndAt not extended: first=%v second=%v", firstEnd, secondEnd)
	}
	if got := s.Mode(); got != ModeShort {
		t.Errorf("Mode() after ExtendBurst = %v, want %v", got, ModeShort)
	}
}

func TestScheduler_QueryErrorDoesNotStopLoop(t *testing.T) {
	var calls atomic.Int64
	s := New(Config{
		LongInterval:  5 * time.Second,
		ShortInterval: 15 * time.Millisecond,
		BurstDuration: 200 * time.Millisecond,
	}, func(_ context.Context) error {
		calls.Add(1)
		return context.DeadlineExceeded // any error; must be swallowed
	})

	s.Start(context.Background())
	defer s.Stop()

	s.TriggerBurst()
	time.Sleep(100 * time.Millisecond)

	if calls.Load() < 2 {
		t.Errorf("ticks with failing query = %d, want >= 2 (loop must continue)", calls.Load())
	}

	stats := s.Stats()
	if stats.QueryErrors < 2 {
		t.Errorf("Stats.QueryErrors = %d, want >= 2", stats.QueryErrors)
	}
}

func TestScheduler_StatsCounters(t *testing.T) {
	s := testScheduler(func(_ context.Context) error { return nil })

	s.TriggerBurst()
	s.TriggerBurst()

	stats := s.Stats()
	if stats.BurstTriggers != 2 {
		t.Errorf("Stats.BurstTriggers = %d, want 2", stats.BurstTriggers)
	}
	if stats.Running {
		t.Error("Stats.Running = true for never-started scheduler")
	}
}
