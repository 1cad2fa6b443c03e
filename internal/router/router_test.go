package router

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyqw-adapter/core/internal/statecache"
)

// fakePoller records start/stop calls without running a real loop.
type fakePoller struct {
	mu      sync.Mutex
	running bool
	starts  int
	stops   int
	bursts  int
}

func (p *fakePoller) Start(_ context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.starts++
}

func (p *fakePoller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.stops++
}

func (p *fakePoller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *fakePoller) TriggerBurst() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bursts++
}

// notifyRecorder collects sink invocations.
type notifyRecorder struct {
	mu    sync.Mutex
	calls []Source
}

func (n *notifyRecorder) fn(source Source, _ *statecache.ChangeSet) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, source)
}

func (n *notifyRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func testRouter(cfg Config) (*Router, *fakePoller, *notifyRecorder, *atomic.Int64) {
	poller := &fakePoller{}
	rec := &notifyRecorder{}
	var fetches atomic.Int64

	fetch := func(_ context.Context) ([]statecache.RawStateEntry, error) {
		n := fetches.Add(1)
		return []statecache.RawStateEntry{{ST: 1, SI: 1, FN: 1, FV: int(n)}}, nil
	}

	r := New(cfg, statecache.New(), poller, fetch, rec.fn)
	return r, poller, rec, &fetches
}

func TestRouter_StartsInPollingMode(t *testing.T) {
	r, poller, _, _ := testRouter(Config{})

	r.Start(context.Background())
	defer r.Stop()

	if got := r.Mode(); got != ModePolling {
		t.Errorf("Mode() = %v, want %v", got, ModePolling)
	}
	if !r.UsingPollingMode() {
		t.Error("UsingPollingMode() = false, want true")
	}
	if !poller.IsRunning() {
		t.Error("poller not started by Start")
	}
}

func TestRouter_UseBusMode(t *testing.T) {
	r, poller, _, fetches := testRouter(Config{})

	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())

	if got := r.Mode(); got != ModeBus {
		t.Errorf("Mode() = %v, want %v", got, ModeBus)
	}
	if poller.IsRunning() {
		t.Error("poller still running in bus mode")
	}

	// Mode switch must reconcile immediately, not wait for the first push.
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch calls after UseBusMode = %d, want 1", got)
	}
}

func TestRouter_UseBusModeIdempotent(t *testing.T) {
	r, _, _, _ := testRouter(Config{})

	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())
	r.UseBusMode(context.Background())

	if got := r.Stats().ModeSwitches; got != 1 {
		t.Errorf("ModeSwitches = %d, want 1", got)
	}
}

func TestRouter_UsePollingModeRestartsPoller(t *testing.T) {
	r, poller, _, _ := testRouter(Config{})

	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())
	r.UsePollingMode()

	if got := r.Mode(); got != ModePolling {
		t.Errorf("Mode() = %v, want %v", got, ModePolling)
	}
	if !poller.IsRunning() {
		t.Error("poller not restarted by UsePollingMode")
	}
	if poller.starts < 2 {
		t.Errorf("poller starts = %d, want >= 2", poller.starts)
	}
}

func TestRouter_ModeGating(t *testing.T) {
	tests := []struct {
		name    string
		busMode bool
		ingest  func(r *Router, entries []statecache.RawStateEntry)
		accept  bool
	}{
		{"push accepted in bus mode", true, (*Router).HandlePushStates, true},
		{"push rejected in polling mode", false, (*Router).HandlePushStates, false},
		{"poll accepted in polling mode", false, (*Router).HandlePollStates, true},
		{"poll rejected in bus mode", true, (*Router).HandlePollStates, false},
		{"fallback accepted in bus mode", true, (*Router).HandleFallbackStates, true},
		{"fallback rejected in polling mode", false, (*Router).HandleFallbackStates, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, rec, _ := testRouter(Config{})
			r.Start(context.Background())
			defer r.Stop()

			if tt.busMode {
				r.UseBusMode(context.Background())
			}
			before := rec.count()

			tt.ingest(r, []statecache.RawStateEntry{{ST: 1, SI: 42, FN: 1, FV: 1}})

			gotNotify := rec.count() > before
			if gotNotify != tt.accept {
				t.Errorf("notification fired = %v, want %v", gotNotify, tt.accept)
			}

			_, ok := r.cache.FunctionValue(42, 1)
			if ok != tt.accept {
				t.Errorf("cache updated = %v, want %v", ok, tt.accept)
			}

			stats := r.Stats()
			if !tt.accept && stats.RejectedBatches == 0 {
				t.Error("RejectedBatches = 0 for rejected batch")
			}
		})
	}
}

func TestRouter_NoChangeNoNotification(t *testing.T) {
	r, _, rec, _ := testRouter(Config{})
	r.Start(context.Background())
	defer r.Stop()

	batch := []statecache.RawStateEntry{{ST: 1, SI: 5, FN: 1, FV: 1}}
	r.HandlePollStates(batch)
	r.HandlePollStates(batch) // identical, no changes

	if got := rec.count(); got != 1 {
		t.Errorf("notifications = %d, want 1 (second batch unchanged)", got)
	}
}

func TestRouter_EnqueuePushHandOff(t *testing.T) {
	r, _, rec, _ := testRouter(Config{})
	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())
	before := rec.count()

	r.EnqueuePush([]statecache.RawStateEntry{{ST: 1, SI: 3, FN: 1, FV: 1}})

	deadline := time.Now().Add(500 * time.Millisecond)
	for rec.count() == before && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() == before {
		t.Fatal("enqueued push batch never reached the notification sink")
	}

	if _, ok := r.cache.FunctionValue(3, 1); !ok {
		t.Error("enqueued push batch did not reach the cache")
	}
}

func TestRouter_FallbackLoopSweeps(t *testing.T) {
	r, _, _, fetches := testRouter(Config{FallbackInterval: 20 * time.Millisecond})
	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())

	// One immediate sweep plus at least one periodic sweep.
	deadline := time.Now().Add(500 * time.Millisecond)
	for fetches.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fetches.Load(); got < 2 {
		t.Errorf("fetch calls = %d, want >= 2 (periodic sweep never fired)", got)
	}

	if !r.Stats().FallbackRunning {
		t.Error("Stats.FallbackRunning = false in bus mode with interval set")
	}
}

func TestRouter_FallbackDisabledByZeroInterval(t *testing.T) {
	r, _, _, fetches := testRouter(Config{FallbackInterval: 0})
	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())

	if r.Stats().FallbackRunning {
		t.Error("Stats.FallbackRunning = true with zero interval")
	}

	// Immediate reconciliation still happens; no periodic sweeps follow.
	time.Sleep(60 * time.Millisecond)
	if got := fetches.Load(); got != 1 {
		t.Errorf("fetch calls = %d, want exactly 1 (immediate sweep only)", got)
	}
}

func TestRouter_ConfigureFallbackRestartsLoop(t *testing.T) {
	r, _, _, fetches := testRouter(Config{FallbackInterval: 0})
	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())
	if r.Stats().FallbackRunning {
		t.Fatal("loop running before ConfigureFallback")
	}

	r.ConfigureFallback(20 * time.Millisecond)

	deadline := time.Now().Add(500 * time.Millisecond)
	for fetches.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := fetches.Load(); got < 2 {
		t.Errorf("fetch calls = %d, want >= 2 after enabling fallback", got)
	}
}

func TestRouter_FetchErrorCounted(t *testing.T) {
	poller := &fakePoller{}
	fetch := func(_ context.Context) ([]statecache.RawStateEntry, error) {
		return nil, errors.New("upstream unavailable")
	}
	r := New(Config{}, statecache.New(), poller, fetch, nil)

	r.Start(context.Background())
	defer r.Stop()

	r.UseBusMode(context.Background())

	stats := r.Stats()
	if stats.FetchErrors != 1 {
		t.Errorf("Stats.FetchErrors = %d, want 1", stats.FetchErrors)
	}
	if stats.FallbackBatches != 0 {
		t.Errorf("Stats.FallbackBatches = %d, want 0", stats.FallbackBatches)
	}
}

func TestRouter_OptimisticEchoFlag(t *testing.T) {
	r, _, _, _ := testRouter(Config{OptimisticEcho: false})

	if r.OptimisticEchoEnabled() {
		t.Error("OptimisticEchoEnabled() = true, want false initially")
	}

	r.SetOptimisticEcho(true)
	if !r.OptimisticEchoEnabled() {
		t.Error("OptimisticEchoEnabled() = false after enable")
	}

	r.SetOptimisticEcho(false)
	if r.OptimisticEchoEnabled() {
		t.Error("OptimisticEchoEnabled() = true after disable")
	}
}

func TestRouter_TriggerBurstForwards(t *testing.T) {
	r, poller, _, _ := testRouter(Config{})

	r.TriggerBurst()
	r.TriggerBurst()

	if poller.bursts != 2 {
		t.Errorf("poller burst triggers = %d, want 2", poller.bursts)
	}
}

func TestRouter_ModeFlapLeavesConsistentState(t *testing.T) {
	r, poller, _, _ := testRouter(Config{FallbackInterval: 10 * time.Millisecond})
	r.Start(context.Background())
	defer r.Stop()

	// Hammer the router with overlapping transitions, as a flapping
	// broker connection would. Whatever mode wins, the loser's loops
	// must not survive.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.UseBusMode(context.Background())
		}()
		go func() {
			defer wg.Done()
			r.UsePollingMode()
		}()
	}
	wg.Wait()

	stats := r.Stats()
	switch r.Mode() {
	case ModePolling:
		if stats.FallbackRunning {
			t.Error("fallback loop running while mode is polling")
		}
		if !poller.IsRunning() {
			t.Error("poller not running while mode is polling")
		}
	case ModeBus:
		if !stats.FallbackRunning {
			t.Error("fallback loop not running while mode is bus")
		}
		if poller.IsRunning() {
			t.Error("poller running while mode is bus")
		}
	}

	r.UsePollingMode()
	if r.Stats().FallbackRunning {
		t.Error("fallback loop leaked after settling into polling mode")
	}
}

func TestRouter_StopIdempotent(t *testing.T) {
	r, poller, _, _ := testRouter(Config{FallbackInterval: 20 * time.Millisecond})

	r.Start(context.Background())
	r.UseBusMode(context.Background())

	r.Stop()
	r.Stop() // second call must be a no-op

	if poller.IsRunning() {
		t.Error("poller running after Stop")
	}
	if r.Stats().FallbackRunning {
		t.Error("fallback loop running after Stop")
	}
}

func TestRouter_StopWithoutStart(t *testing.T) {
	r, _, _, _ := testRouter(Config{})
	r.Stop()
}

func TestRouter_NotificationSinkPanicContained(t *testing.T) {
	poller := &fakePoller{}
	notify := func(Source, *statecache.ChangeSet) {
		panic("sink misbehaved")
	}
	r := New(Config{}, statecache.New(), poller, nil, notify)

	r.Start(context.Background())
	defer r.Stop()

	// Must not crash the caller.
	r.HandlePollStates([]statecache.RawStateEntry{{ST: 1, SI: 5, FN: 1, FV: 1}})

	if got := r.Stats().PollBatches; got != 1 {
		t.Errorf("Stats.PollBatches = %d, want 1", got)
	}
}
