package polling

import (
	"context"
	"sync"
	"time"
)

// Mode identifies the scheduler's current polling rate.
type Mode string

const (
	// ModeLong is the steady-state rate.
	ModeLong Mode = "long"

	// ModeShort is the temporary high-frequency burst rate entered after a
	// local action, active until the burst window ends.
	ModeShort Mode = "short"
)

// QueryFunc is the injected callback invoked on every poll tick.
// Errors are logged and do not stop the loop.
type QueryFunc func(ctx context.Context) error

// Logger defines the logging interface used by the Scheduler.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Config contains the scheduler intervals.
type Config struct {
	// LongInterval is the steady-state tick spacing.
	LongInterval time.Duration

	// ShortInterval is the tick spacing during a burst window.
	ShortInterval time.Duration

	// BurstDuration is how long a burst window lasts from its trigger.
	BurstDuration time.Duration
}

// Stats is a read-only snapshot of scheduler activity.
type Stats struct {
	Running       bool      `json:"running"`
	Mode          Mode      `json:"mode"`
	NextPollAt    time.Time `json:"next_poll_at"`
	BurstEndAt    time.Time `json:"burst_end_at"`
	Ticks         uint64    `json:"ticks"`
	QueryErrors   uint64    `json:"query_errors"`
	BurstTriggers uint64    `json:"burst_triggers"`
}

// Scheduler drives the injected query callback at two alternating rates: a
// long steady-state interval and a short burst interval entered after local
// actions.
//
// Demotion from short back to long is the scheduler's own responsibility:
// once a tick fires at or past the burst window's end, the next tick is
// scheduled at the long interval. Callers only ever trigger or extend
// bursts, never demote.
//
// The inter-tick sleep is preemptible: TriggerBurst wakes a sleeping loop
// immediately instead of waiting out the remainder of a long interval, so
// burst activation is never delayed by an in-progress sleep.
type Scheduler struct {
	cfg    Config
	query  QueryFunc
	logger Logger

	mu         sync.Mutex
	running    bool
	mode       Mode
	nextPollAt time.Time
	burstEndAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}

	ticks         uint64
	queryErrors   uint64
	burstTriggers uint64

	// wake preempts the inter-tick sleep. Buffered so a trigger never
	// blocks even if the loop is mid-query.
	wake chan struct{}

	// nowFunc is swappable for tests.
	nowFunc func() time.Time
}

// New creates a Scheduler. The query callback is invoked on every tick.
func New(cfg Config, query QueryFunc) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		query:   query,
		logger:  noopLogger{},
		mode:    ModeLong,
		wake:    make(chan struct{}, 1),
		nowFunc: time.Now,
	}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches the polling loop. Starting an already-running scheduler is
// a no-op. The first tick fires after one long interval.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.mode = ModeLong
	s.nextPollAt = s.nowFunc().Add(s.cfg.LongInterval)
	s.cancel = cancel
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	s.logger.Info("polling scheduler started",
		"long_interval", s.cfg.LongInterval,
		"short_interval", s.cfg.ShortInterval,
	)

	go func() {
		defer close(done)
		s.run(loopCtx)
	}()
}

// Stop cancels the polling loop and waits for it to exit. It is idempotent
// and safe to call on a scheduler that was never started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done

	s.logger.Info("polling scheduler stopped")
}

// IsRunning reports whether the loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerBurst opens (or reopens) a burst window: the burst end moves to
// now + BurstDuration, and if the scheduler was in long mode the next tick
// is pulled forward to now + ShortInterval, preempting any in-progress
// sleep.
func (s *Scheduler) TriggerBurst() {
	s.mu.Lock()

	now := s.nowFunc()
	s.burstEndAt = now.Add(s.cfg.BurstDuration)
	s.burstTriggers++

	preempt := false
	if s.mode != ModeShort {
		s.mode = ModeShort
		s.nextPollAt = now.Add(s.cfg.ShortInterval)
		preempt = true
	}
	s.mu.Unlock()

	if preempt {
		s.logger.Debug("burst polling activated")
		// Wake the loop so the new nextPollAt takes effect immediately.
		select {
		case s.wake <- struct{}{}:
		default:
		}
	} else {
		s.logger.Debug("burst window extended")
	}
}

// ExtendBurst pushes the burst window's end further out. While already in
// short mode this leaves the tick cadence untouched; from long mode it
// behaves exactly like TriggerBurst.
func (s *Scheduler) ExtendBurst() {
	s.TriggerBurst()
}

// run is the scheduler loop: sleep until nextPollAt (preemptibly), invoke
// the query, recompute the next tick.
func (s *Scheduler) run(ctx context.Context) {
	for {
		s.mu.Lock()
		delay := time.Until(s.nextPollAt)
		s.mu.Unlock()

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-s.wake:
				// nextPollAt changed under us; recompute the sleep.
				timer.Stop()
				continue
			case <-timer.C:
			}
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		s.tick(ctx)
	}
}

// tick invokes the query callback and schedules the next poll.
func (s *Scheduler) tick(ctx context.Context) {
	if err := s.query(ctx); err != nil {
		s.mu.Lock()
		s.queryErrors++
		s.mu.Unlock()
		s.logger.Warn("poll query failed", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks++

	now := s.nowFunc()
	if now.Before(s.burstEndAt) {
		s.mode = ModeShort
		s.nextPollAt = now.Add(s.cfg.ShortInterval)
		return
	}

	if s.mode == ModeShort {
		s.logger.Debug("burst window elapsed, resuming long polling")
	}
	s.mode = ModeLong
	s.nextPollAt = now.Add(s.cfg.LongInterval)
}

// Mode returns the current polling mode.
func (s *Scheduler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Stats returns a snapshot of scheduler state and counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Running:       s.running,
		Mode:          s.mode,
		NextPollAt:    s.nextPollAt,
		BurstEndAt:    s.burstEndAt,
		Ticks:         s.ticks,
		QueryErrors:   s.queryErrors,
		BurstTriggers: s.burstTriggers,
	}
}
