package actionbus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeModes is a controllable ModeSource.
type fakeModes struct {
	mu      sync.Mutex
	polling bool
	echo    bool
	bursts  int
}

func (m *fakeModes) UsingPollingMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polling
}

func (m *fakeModes) TriggerBurst() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bursts++
}

func (m *fakeModes) OptimisticEchoEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.echo
}

func (m *fakeModes) burstCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bursts
}

func waitTerminal(t *testing.T, b *Bus, id string) Action {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if a, ok := b.ActionStatus(id); ok && a.Status.terminal() {
			return a
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("action %s never reached a terminal status", id)
	return Action{}
}

func TestBus_SubmitBeforeStart(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error { return nil }, nil, nil)

	_, err := b.SubmitAction(10101, 5, 1, 1)
	if !errors.Is(err, ErrNotRunning) {
		t.Errorf("SubmitAction() error = %v, want ErrNotRunning", err)
	}
}

func TestBus_ExecutesInOrder(t *testing.T) {
	var mu sync.Mutex
	var order []int

	b := New(Config{}, func(_ context.Context, a Action) error {
		mu.Lock()
		order = append(order, a.SI)
		mu.Unlock()
		return nil
	}, nil, nil)

	b.Start(context.Background())
	defer b.Stop()

	var ids []string
	for si := 1; si <= 5; si++ {
		id, err := b.SubmitAction(10101, si, 1, 1)
		if err != nil {
			t.Fatalf("SubmitAction(si=%d) error = %v", si, err)
		}
		ids = append(ids, id)
	}

	for _, id := range ids {
		if a := waitTerminal(t, b, id); a.Status != StatusCompleted {
			t.Fatalf("action %s status = %v, want %v", id, a.Status, StatusCompleted)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for i, si := range order {
		if si != i+1 {
			t.Fatalf("execution order = %v, want strictly ascending", order)
		}
	}
}

func TestBus_TargetExclusion(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	b := New(Config{}, func(_ context.Context, _ Action) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, nil, nil)

	b.Start(context.Background())
	defer b.Stop()

	id1, err := b.SubmitAction(10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("first SubmitAction() error = %v", err)
	}

	<-started
	if !b.IsOccupied(5) {
		t.Error("IsOccupied(5) = false while action in flight")
	}

	// Same device: rejected. Different device: accepted.
	if _, err := b.SubmitAction(10101, 5, 2, 0); !errors.Is(err, ErrTargetOccupied) {
		t.Errorf("same-target SubmitAction() error = %v, want ErrTargetOccupied", err)
	}
	id2, err := b.SubmitAction(10101, 6, 1, 1)
	if err != nil {
		t.Errorf("other-target SubmitAction() error = %v", err)
	}

	close(release)
	waitTerminal(t, b, id1)
	waitTerminal(t, b, id2)

	if b.IsOccupied(5) {
		t.Error("IsOccupied(5) = true after completion")
	}

	// Target is free again.
	if _, err := b.SubmitAction(10101, 5, 1, 0); err != nil {
		t.Errorf("resubmission after completion error = %v", err)
	}
}

func TestBus_BurstTriggeredOnlyInPollingMode(t *testing.T) {
	tests := []struct {
		name    string
		polling bool
		want    int
	}{
		{"polling mode triggers burst", true, 1},
		{"bus mode skips burst", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modes := &fakeModes{polling: tt.polling}
			b := New(Config{}, func(context.Context, Action) error { return nil }, modes, nil)

			b.Start(context.Background())
			defer b.Stop()

			id, err := b.SubmitAction(10101, 5, 1, 1)
			if err != nil {
				t.Fatalf("SubmitAction() error = %v", err)
			}
			waitTerminal(t, b, id)

			if got := modes.burstCount(); got != tt.want {
				t.Errorf("burst triggers = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestBus_PreControlDelayOrdering(t *testing.T) {
	modes := &fakeModes{polling: true}
	var controlAt time.Time

	b := New(Config{PreControlDelay: 50 * time.Millisecond}, func(_ context.Context, _ Action) error {
		controlAt = time.Now()
		return nil
	}, modes, nil)

	b.Start(context.Background())
	defer b.Stop()

	submitAt := time.Now()
	id, err := b.SubmitAction(10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitTerminal(t, b, id)

	if elapsed := controlAt.Sub(submitAt); elapsed < 50*time.Millisecond {
		t.Errorf("control ran %v after submit, want >= 50ms pre-control delay", elapsed)
	}
	if modes.burstCount() != 1 {
		t.Errorf("burst triggers = %d, want 1 (before the delay)", modes.burstCount())
	}
}

func TestBus_ControlFailureRecorded(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error {
		return errors.New("device offline")
	}, nil, nil)

	b.Start(context.Background())
	defer b.Stop()

	id, err := b.SubmitAction(10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}

	a := waitTerminal(t, b, id)
	if a.Status != StatusFailed {
		t.Errorf("status = %v, want %v", a.Status, StatusFailed)
	}
	if a.Error == "" {
		t.Error("Action.Error empty for failed control")
	}
	if b.IsOccupied(5) {
		t.Error("target still occupied after failure")
	}
	if got := b.Stats().Failed; got != 1 {
		t.Errorf("Stats.Failed = %d, want 1", got)
	}
}

func TestBus_ControlPanicContained(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error {
		panic("device driver bug")
	}, nil, nil)

	b.Start(context.Background())
	defer b.Stop()

	id, err := b.SubmitAction(10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}

	a := waitTerminal(t, b, id)
	if a.Status != StatusFailed {
		t.Errorf("status = %v, want %v", a.Status, StatusFailed)
	}

	// The consumer must survive the panic.
	id2, err := b.SubmitAction(10101, 6, 1, 1)
	if err != nil {
		t.Fatalf("SubmitAction() after panic error = %v", err)
	}
	waitTerminal(t, b, id2)
}

func TestBus_OptimisticEcho(t *testing.T) {
	tests := []struct {
		name      string
		echo      bool
		fails     bool
		wantEchos int64
	}{
		{"echo on success", true, false, 1},
		{"no echo when disabled", false, false, 0},
		{"no echo on failure", true, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			modes := &fakeModes{echo: tt.echo}
			var echos atomic.Int64

			control := func(context.Context, Action) error {
				if tt.fails {
					return errors.New("rejected")
				}
				return nil
			}
			b := New(Config{}, control, modes, func(_, _, _ int) {
				echos.Add(1)
			})

			b.Start(context.Background())
			defer b.Stop()

			id, err := b.SubmitAction(10101, 5, 1, 1)
			if err != nil {
				t.Fatalf("SubmitAction() error = %v", err)
			}
			waitTerminal(t, b, id)

			if got := echos.Load(); got != tt.wantEchos {
				t.Errorf("echo calls = %d, want %d", got, tt.wantEchos)
			}
		})
	}
}

func TestBus_StopCancelsQueued(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	b := New(Config{}, func(_ context.Context, _ Action) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}, nil, nil)

	b.Start(context.Background())

	if _, err := b.SubmitAction(10101, 1, 1, 1); err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	<-started

	queuedID, err := b.SubmitAction(10101, 2, 1, 1)
	if err != nil {
		t.Fatalf("second SubmitAction() error = %v", err)
	}

	// Release the in-flight control only after Stop has cancelled the
	// consumer, so the queued action can never start executing.
	stopped := make(chan struct{})
	go func() {
		b.Stop()
		close(stopped)
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-stopped

	a, ok := b.ActionStatus(queuedID)
	if !ok {
		t.Fatal("queued action untracked after Stop")
	}
	if a.Status != StatusCancelled {
		t.Errorf("queued action status = %v, want %v", a.Status, StatusCancelled)
	}
	if b.IsOccupied(2) {
		t.Error("cancelled action still occupies its target")
	}

	if _, err := b.SubmitAction(10101, 3, 1, 1); !errors.Is(err, ErrNotRunning) {
		t.Errorf("SubmitAction() after Stop error = %v, want ErrNotRunning", err)
	}
}

func TestBus_StopIdempotent(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error { return nil }, nil, nil)

	b.Stop() // never started
	b.Start(context.Background())
	b.Stop()
	b.Stop()
}

func TestBus_UnknownActionStatus(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error { return nil }, nil, nil)

	if _, ok := b.ActionStatus("no-such-id"); ok {
		t.Error("ActionStatus() ok = true for unknown ID")
	}
}

func TestBus_StatsCounters(t *testing.T) {
	b := New(Config{}, func(context.Context, Action) error { return nil }, nil, nil)

	b.Start(context.Background())
	defer b.Stop()

	id, err := b.SubmitAction(10101, 5, 1, 1)
	if err != nil {
		t.Fatalf("SubmitAction() error = %v", err)
	}
	waitTerminal(t, b, id)

	stats := b.Stats()
	if stats.Submitted != 1 {
		t.Errorf("Stats.Submitted = %d, want 1", stats.Submitted)
	}
	if stats.Completed != 1 {
		t.Errorf("Stats.Completed = %d, want 1", stats.Completed)
	}
	if !stats.Running {
		t.Error("Stats.Running = false while started")
	}
}
