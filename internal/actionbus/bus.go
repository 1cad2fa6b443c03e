package actionbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// queueSize bounds the pending action queue. Commands past this are
// rejected rather than buffered without limit.
const queueSize = 128

// maxTrackedActions bounds the terminal-status history consulted by
// ActionStatus.
const maxTrackedActions = 1024

// Status is the lifecycle state of a submitted action.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// terminal reports whether a status is final.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Action is one queued device command.
type Action struct {
	ID          string    `json:"id"`
	TargetID    string    `json:"target_id"`
	ST          int       `json:"st"`
	SI          int       `json:"si"`
	FN          int       `json:"fn"`
	FV          int       `json:"fv"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// ControlFunc executes the actual device control for an action.
type ControlFunc func(ctx context.Context, action Action) error

// EchoFunc applies an optimistic local state echo after a successful
// control, so consumers see the commanded value before the device
// confirms it.
type EchoFunc func(si, fn, fv int)

// ModeSource answers the questions the bus asks before executing an
// action. Satisfied by *router.Router.
type ModeSource interface {
	UsingPollingMode() bool
	TriggerBurst()
	OptimisticEchoEnabled() bool
}

// Logger defines the logging interface used by the Bus.
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

// Stats is a read-only snapshot of bus activity.
type Stats struct {
	Running     bool   `json:"running"`
	QueueLength int    `json:"queue_length"`
	Occupied    int    `json:"occupied_targets"`
	Submitted   uint64 `json:"submitted"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
	Cancelled   uint64 `json:"cancelled"`
	Rejected    uint64 `json:"rejected"`
}

// Config contains bus construction parameters.
type Config struct {
	// PreControlDelay is the pause between activating burst polling and
	// executing the control, giving the accelerated poll cadence time to
	// take effect before the device state starts moving.
	PreControlDelay time.Duration
}

// Bus serializes device commands through a single consumer.
//
// Actions run strictly in submission order, one at a time. A target with
// an action still in flight (queued or running) rejects further
// submissions until that action reaches a terminal status; this is the
// only admission control, there is no rate limiting.
//
// Each executed action follows a fixed sequence: activate burst polling
// (when the polling transport is the active state source), wait the
// pre-control delay, run the control, record the outcome. Failures are
// recorded, never retried; retry policy belongs to the caller.
type Bus struct {
	cfg     Config
	control ControlFunc
	echo    EchoFunc
	modes   ModeSource
	logger  Logger

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	queue     chan Action
	occupancy map[string]string // target -> action ID
	statuses  map[string]*Action
	history   []string // action IDs in insertion order, for pruning

	submitted uint64
	completed uint64
	failed    uint64
	cancelled uint64
	rejected  uint64
}

// New creates a Bus. The control callback is required; echo and mode
// source are optional (a nil mode source disables burst triggering and
// optimistic echo).
func New(cfg Config, control ControlFunc, modes ModeSource, echo EchoFunc) *Bus {
	return &Bus{
		cfg:       cfg,
		control:   control,
		echo:      echo,
		modes:     modes,
		logger:    noopLogger{},
		occupancy: make(map[string]string),
		statuses:  make(map[string]*Action),
	}
}

// SetLogger sets the logger for the bus.
func (b *Bus) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start launches the single consumer goroutine. Starting a running bus is
// a no-op.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	b.queue = make(chan Action, queueSize)
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		b.consume(loopCtx)
	}()

	b.logger.Info("action bus started", "pre_control_delay", b.cfg.PreControlDelay)
}

// Stop halts the consumer and cancels all still-queued actions, releasing
// their targets. Idempotent and safe on a never-started bus.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel := b.cancel
	done := b.done
	b.mu.Unlock()

	cancel()
	<-done

	b.drainQueue()

	b.logger.Info("action bus stopped")
}

// drainQueue marks everything still queued as cancelled.
func (b *Bus) drainQueue() {
	for {
		select {
		case a := <-b.queue:
			b.finish(a.ID, StatusCancelled, nil)
		default:
			return
		}
	}
}

// SubmitAction queues a command for the given target. The returned ID can
// be polled via ActionStatus.
//
// Returns ErrNotRunning when the bus is stopped, ErrTargetOccupied when
// the target already has an action in flight, and ErrQueueFull when the
// pending queue is saturated.
func (b *Bus) SubmitAction(st, si, fn, fv int) (string, error) {
	target := TargetKey(si)

	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return "", ErrNotRunning
	}

	if holder, occupied := b.occupancy[target]; occupied {
		b.rejected++
		b.mu.Unlock()
		return "", fmt.Errorf("%w: target %s held by action %s", ErrTargetOccupied, target, holder)
	}

	action := Action{
		ID:          uuid.New().String(),
		TargetID:    target,
		ST:          st,
		SI:          si,
		FN:          fn,
		FV:          fv,
		Status:      StatusQueued,
		SubmittedAt: time.Now(),
	}

	select {
	case b.queue <- action:
	default:
		b.rejected++
		b.mu.Unlock()
		return "", ErrQueueFull
	}

	b.occupancy[target] = action.ID
	b.track(action)
	b.submitted++
	b.mu.Unlock()

	b.logger.Debug("action queued",
		"action_id", action.ID,
		"target", target,
		"fn", fn,
		"fv", fv,
	)

	return action.ID, nil
}

// track records an action's status, pruning the oldest terminal entries
// once the history cap is reached. Caller holds b.mu.
func (b *Bus) track(action Action) {
	b.statuses[action.ID] = &action
	b.history = append(b.history, action.ID)

	for len(b.history) > maxTrackedActions {
		oldest := b.history[0]
		if a, ok := b.statuses[oldest]; ok && !a.Status.terminal() {
			break // never evict an in-flight action
		}
		delete(b.statuses, oldest)
		b.history = b.history[1:]
	}
}

// consume is the single executor loop.
func (b *Bus) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case action := <-b.queue:
			b.execute(ctx, action)
		}
	}
}

// execute runs one action through the burst / delay / control sequence.
func (b *Bus) execute(ctx context.Context, action Action) {
	// A shutdown racing the queue read must not start a new control.
	if ctx.Err() != nil {
		b.finish(action.ID, StatusCancelled, nil)
		return
	}

	b.setStatus(action.ID, StatusRunning)

	// Accelerate observation of the command's effect, but only when the
	// poll transport is the active state source; in bus mode the broker
	// pushes the change on its own.
	if b.modes != nil && b.modes.UsingPollingMode() {
		b.modes.TriggerBurst()
	}

	if b.cfg.PreControlDelay > 0 {
		select {
		case <-ctx.Done():
			b.finish(action.ID, StatusCancelled, nil)
			return
		case <-time.After(b.cfg.PreControlDelay):
		}
	}

	err := b.runControl(ctx, action)
	if err != nil {
		b.finish(action.ID, StatusFailed, err)
		b.logger.Warn("action failed",
			"action_id", action.ID,
			"target", action.TargetID,
			"error", err,
		)
		return
	}

	if b.modes != nil && b.modes.OptimisticEchoEnabled() && b.echo != nil {
		b.echo(action.SI, action.FN, action.FV)
	}

	b.finish(action.ID, StatusCompleted, nil)
	b.logger.Debug("action completed", "action_id", action.ID, "target", action.TargetID)
}

// runControl invokes the control callback with panic containment; a
// panicking control must not kill the consumer.
func (b *Bus) runControl(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("control panicked: %v", r)
		}
	}()
	return b.control(ctx, action)
}

// setStatus transitions a tracked action to a non-terminal status.
func (b *Bus) setStatus(id string, status Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.statuses[id]; ok {
		a.Status = status
	}
}

// finish records an action's terminal status, releases its target and
// bumps the matching counter.
func (b *Bus) finish(id string, status Status, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	a, ok := b.statuses[id]
	if !ok {
		return
	}

	a.Status = status
	a.CompletedAt = time.Now()
	if err != nil {
		a.Error = err.Error()
	}

	if holder, occupied := b.occupancy[a.TargetID]; occupied && holder == id {
		delete(b.occupancy, a.TargetID)
	}

	switch status {
	case StatusCompleted:
		b.completed++
	case StatusFailed:
		b.failed++
	case StatusCancelled:
		b.cancelled++
	}
}

// IsOccupied reports whether the target for the given device has an
// action in flight.
func (b *Bus) IsOccupied(si int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, occupied := b.occupancy[TargetKey(si)]
	return occupied
}

// ActionStatus returns a copy of the tracked action, or false when the ID
// is unknown (or already pruned).
func (b *Bus) ActionStatus(id string) (Action, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	a, ok := b.statuses[id]
	if !ok {
		return Action{}, false
	}
	return *a, true
}

// QueueLength returns the number of actions waiting for the consumer.
func (b *Bus) QueueLength() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue == nil {
		return 0
	}
	return len(b.queue)
}

// IsRunning reports whether the consumer is active.
func (b *Bus) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Stats returns a snapshot of bus state and counters.
func (b *Bus) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	queueLen := 0
	if b.queue != nil {
		queueLen = len(b.queue)
	}

	return Stats{
		Running:     b.running,
		QueueLength: queueLen,
		Occupied:    len(b.occupancy),
		Submitted:   b.submitted,
		Completed:   b.completed,
		Failed:      b.failed,
		Cancelled:   b.cancelled,
		Rejected:    b.rejected,
	}
}

// TargetKey derives the exclusion key for a device. Exclusion is
// per-device, not per-function: two functions of the same device cannot
// be commanded concurrently.
func TargetKey(si int) string {
	return fmt.Sprintf("si:%d", si)
}
