package router

import (
	"context"
	"sync"
	"time"

	"github.com/hyqw-adapter/core/internal/statecache"
)

// Mode identifies the active state-ingestion transport.
type Mode string

const (
	// ModePolling ingests state from the poll scheduler's fetch results.
	ModePolling Mode = "polling"

	// ModeBus ingests state from broker pushes plus fallback sweeps.
	ModeBus Mode = "bus"
)

// Source identifies which pipeline produced a state batch.
type Source string

const (
	SourcePush     Source = "push"
	SourcePoll     Source = "poll"
	SourceFallback Source = "fallback"

	// SourceEcho marks optimistic local echoes applied by the command
	// path before transport confirmation.
	SourceEcho Source = "echo"
)

// FetchFunc is the full-state pull collaborator, used by poll ticks and
// fallback sweeps.
type FetchFunc func(ctx context.Context) ([]statecache.RawStateEntry, error)

// NotifyFunc is the unified change-notification sink, invoked whenever an
// accepted batch produces changes.
type NotifyFunc func(source Source, changes *statecache.ChangeSet)

// Poller is the scheduler the router starts and stops on mode switches.
// Satisfied by *polling.Scheduler.
type Poller interface {
	Start(ctx context.Context)
	Stop()
	IsRunning() bool
	TriggerBurst()
}

// Logger defines the logging interface used by the Router.
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

// inboxSize bounds the push hand-off queue. The producer (a broker client
// goroutine) must never block; overflow is dropped and counted.
const inboxSize = 64

// inboundBatch is one hand-off message from a foreign goroutine.
type inboundBatch struct {
	entries []statecache.RawStateEntry
}

// Stats is a read-only snapshot of router state and counters.
type Stats struct {
	Mode             Mode          `json:"mode"`
	OptimisticEcho   bool          `json:"optimistic_echo"`
	FallbackInterval time.Duration `json:"fallback_interval"`
	FallbackRunning  bool          `json:"fallback_running"`
	PushBatches      uint64        `json:"push_batches"`
	PollBatches      uint64        `json:"poll_batches"`
	FallbackBatches  uint64        `json:"fallback_batches"`
	RejectedBatches  uint64        `json:"rejected_batches"`
	DroppedBatches   uint64        `json:"dropped_batches"`
	ModeSwitches     uint64        `json:"mode_switches"`
	FallbackSweeps   uint64        `json:"fallback_sweeps"`
	FetchErrors      uint64        `json:"fetch_errors"`
}

// Router arbitrates between push-based and poll-based state ingestion.
//
// Exactly one mode is active at a time. State batches from the three
// sources (push, poll, fallback) are mode-gated: a batch from a source
// that does not match the current mode is discarded, which prevents a
// stale transport from corrupting state just after a mode switch. Accepted
// batches run through the differential cache and, when they produce
// changes, fire the unified notification sink.
//
// Push batches arriving on broker-client goroutines are handed off through
// a bounded channel and consumed by a single router-owned goroutine;
// foreign goroutines never touch the cache directly.
type Router struct {
	cache  *statecache.Cache
	poller Poller
	fetch  FetchFunc
	notify NotifyFunc
	logger Logger

	// transitionMu serializes whole mode transitions (stop/start of the
	// poller and fallback loop), which run outside mu. Without it a rapid
	// connect/disconnect flap can interleave two transitions and leave a
	// loop from the losing transition running. Lock order: transitionMu
	// before mu, never the reverse.
	transitionMu sync.Mutex

	mu               sync.Mutex
	mode             Mode
	optimisticEcho   bool
	fallbackInterval time.Duration
	started          bool

	// base context for loops started on mode switches, set by Start.
	baseCtx context.Context

	// fallback loop lifecycle, owned by the router and torn down on
	// mode switches, interval changes and Stop.
	fallbackCancel context.CancelFunc
	fallbackDone   chan struct{}

	// push hand-off
	inbox       chan inboundBatch
	inboxCancel context.CancelFunc
	inboxDone   chan struct{}

	pushBatches     uint64
	pollBatches     uint64
	fallbackBatches uint64
	rejectedBatches uint64
	droppedBatches  uint64
	modeSwitches    uint64
	fallbackSweeps  uint64
	fetchErrors     uint64
}

// Config contains router construction parameters.
type Config struct {
	// FallbackInterval is the reconciliation sweep spacing in bus mode.
	// Zero disables the sweep.
	FallbackInterval time.Duration

	// OptimisticEcho is the initial state of the echo flag.
	OptimisticEcho bool
}

// New creates a Router. The cache, poller, fetch collaborator and
// notification sink are all required.
func New(cfg Config, cache *statecache.Cache, poller Poller, fetch FetchFunc, notify NotifyFunc) *Router {
	return &Router{
		cache:            cache,
		poller:           poller,
		fetch:            fetch,
		notify:           notify,
		logger:           noopLogger{},
		mode:             ModePolling,
		optimisticEcho:   cfg.OptimisticEcho,
		fallbackInterval: cfg.FallbackInterval,
		inbox:            make(chan inboundBatch, inboxSize),
	}
}

// SetLogger sets the logger for the router.
func (r *Router) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Start begins operation in polling mode: the inbox consumer is launched
// and the poll scheduler started. Calling Start twice is a no-op.
func (r *Router) Start(ctx context.Context) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.baseCtx = ctx
	r.mode = ModePolling

	inboxCtx, cancel := context.WithCancel(ctx)
	r.inboxCancel = cancel
	r.inboxDone = make(chan struct{})
	done := r.inboxDone
	r.mu.Unlock()

	go func() {
		defer close(done)
		r.consumeInbox(inboxCtx)
	}()

	r.poller.Start(ctx)
	r.logger.Info("state sync router started", "mode", ModePolling)
}

// Stop halts the fallback loop, the poll scheduler and the inbox consumer
// unconditionally. It is idempotent.
func (r *Router) Stop() {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	inboxCancel := r.inboxCancel
	inboxDone := r.inboxDone
	r.mu.Unlock()

	r.stopFallbackLoop()
	r.poller.Stop()

	if inboxCancel != nil {
		inboxCancel()
		<-inboxDone
	}

	r.logger.Info("state sync router stopped")
}

// UseBusMode switches ingestion to broker pushes. It stops the poll
// scheduler, starts the fallback reconciliation loop (if configured), and
// performs one immediate reconciliation fetch so the mirror does not serve
// stale state while waiting for the first push.
//
// A router already in bus mode is unchanged.
func (r *Router) UseBusMode(ctx context.Context) {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if r.mode == ModeBus {
		r.mu.Unlock()
		return
	}
	r.mode = ModeBus
	r.modeSwitches++
	r.mu.Unlock()

	r.poller.Stop()
	r.startFallbackLoop()

	// Immediate reconciliation so a connect gap cannot show stale state.
	r.runFallbackSweep(ctx)

	r.logger.Info("switched to bus mode")
}

// UsePollingMode switches ingestion to the poll scheduler. It stops the
// fallback loop and starts the scheduler if not already running.
//
// A router already in polling mode is unchanged.
func (r *Router) UsePollingMode() {
	r.transitionMu.Lock()
	defer r.transitionMu.Unlock()

	r.mu.Lock()
	if r.mode == ModePolling {
		r.mu.Unlock()
		return
	}
	r.mode = ModePolling
	r.modeSwitches++
	baseCtx := r.baseCtx
	r.mu.Unlock()

	r.stopFallbackLoop()

	if baseCtx == nil {
		baseCtx = context.Background()
	}
	if !r.poller.IsRunning() {
		r.poller.Start(baseCtx)
	}

	r.logger.Info("switched to polling mode")
}

// Mode returns the active ingestion mode.
func (r *Router) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// UsingPollingMode reports whether the router is in polling mode. This is
// the mode-decision source consulted by the command bus to decide whether
// a burst trigger applies.
func (r *Router) UsingPollingMode() bool {
	return r.Mode() == ModePolling
}

// TriggerBurst forwards a burst request to the poll scheduler. Exposed so
// the command path can accelerate observation of its own effect.
func (r *Router) TriggerBurst() {
	r.poller.TriggerBurst()
}

// SetOptimisticEcho toggles the optimistic-echo flag consulted by the
// control-submission path.
func (r *Router) SetOptimisticEcho(enabled bool) {
	r.mu.Lock()
	r.optimisticEcho = enabled
	r.mu.Unlock()
	r.logger.Info("optimistic echo configured", "enabled", enabled)
}

// OptimisticEchoEnabled returns the current echo flag.
func (r *Router) OptimisticEchoEnabled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.optimisticEcho
}

// EnqueuePush hands a push batch off from a foreign goroutine to the
// router's inbox consumer. It never blocks; overflow is dropped and
// counted.
func (r *Router) EnqueuePush(entries []statecache.RawStateEntry) {
	select {
	case r.inbox <- inboundBatch{entries: entries}:
	default:
		r.mu.Lock()
		r.droppedBatches++
		r.mu.Unlock()
		r.logger.Warn("push inbox full, dropping batch", "entries", len(entries))
	}
}

// consumeInbox is the single consumer of the push hand-off channel.
func (r *Router) consumeInbox(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch := <-r.inbox:
			r.HandlePushStates(batch.entries)
		}
	}
}

// HandlePushStates ingests a batch from the push pipeline. Rejected
// (logged, no cache touch, no notification) unless the router is in bus
// mode.
func (r *Router) HandlePushStates(entries []statecache.RawStateEntry) {
	r.handleStates(SourcePush, ModeBus, &r.pushBatches, entries)
}

// HandlePollStates ingests a batch from the poll pipeline. Rejected unless
// the router is in polling mode.
func (r *Router) HandlePollStates(entries []statecache.RawStateEntry) {
	r.handleStates(SourcePoll, ModePolling, &r.pollBatches, entries)
}

// HandleFallbackStates ingests a batch from a reconciliation sweep.
// Rejected unless the router is in bus mode.
func (r *Router) HandleFallbackStates(entries []statecache.RawStateEntry) {
	r.handleStates(SourceFallback, ModeBus, &r.fallbackBatches, entries)
}

// handleStates applies mode gating, runs the batch through the cache, and
// fires the notification sink on changes. Panics from the cache or sink
// are contained; a state batch must never take down the ingest loop.
func (r *Router) handleStates(source Source, requires Mode, counter *uint64, entries []statecache.RawStateEntry) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("state batch handling panicked", "source", source, "panic", rec)
		}
	}()

	r.mu.Lock()
	if r.mode != requires {
		r.rejectedBatches++
		mode := r.mode
		r.mu.Unlock()
		r.logger.Debug("discarding state batch from inactive source",
			"source", source,
			"mode", mode,
		)
		return
	}
	*counter++
	r.mu.Unlock()

	changed, changes := r.cache.ProcessStateUpdate(entries)
	if changed && r.notify != nil {
		r.notify(source, changes)
	}
}

// Stats returns a snapshot of router state and counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Mode:             r.mode,
		OptimisticEcho:   r.optimisticEcho,
		FallbackInterval: r.fallbackInterval,
		FallbackRunning:  r.fallbackDone != nil,
		PushBatches:      r.pushBatches,
		PollBatches:      r.pollBatches,
		FallbackBatches:  r.fallbackBatches,
		RejectedBatches:  r.rejectedBatches,
		DroppedBatches:   r.droppedBatches,
		ModeSwitches:     r.modeSwitches,
		FallbackSweeps:   r.fallbackSweeps,
		FetchErrors:      r.fetchErrors,
	}
}
