package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hyqw-adapter/core/internal/infrastructure/mqtt"
	"github.com/hyqw-adapter/core/internal/statecache"
)

// reconnectSchedule is the wait before each successive reconnection
// attempt. Once exhausted, retries continue indefinitely at the final
// value; the gateway never gives up on the broker.
var reconnectSchedule = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Broker is the subset of the MQTT client the gateway drives. Satisfied
// by *mqtt.Client.
type Broker interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
}

// ResyncFunc fetches the complete current state, used to backfill pushes
// missed while disconnected.
type ResyncFunc func(ctx context.Context) ([]statecache.RawStateEntry, error)

// SinkFunc receives normalized state batches. Called from broker-client
// goroutines; implementations must hand off, not block.
type SinkFunc func(entries []statecache.RawStateEntry)

// Logger defines the logging interface used by the Gateway.
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

// Stats is a read-only snapshot of gateway activity.
type Stats struct {
	Connected        bool      `json:"connected"`
	ConnectedSince   time.Time `json:"connected_since"`
	ConnectAttempts  uint64    `json:"connect_attempts"`
	ConnectSuccesses uint64    `json:"connect_successes"`
	ConnectFailures  uint64    `json:"connect_failures"`
	Reconnects       uint64    `json:"reconnects"`
	MessagesReceived uint64    `json:"messages_received"`
	ParseErrors      uint64    `json:"parse_errors"`
	EntriesForwarded uint64    `json:"entries_forwarded"`
	ResyncRuns       uint64    `json:"resync_runs"`
	ResyncErrors     uint64    `json:"resync_errors"`
	LastError        string    `json:"last_error,omitempty"`
}

// Gateway manages the broker session for push-based state delivery.
//
// It owns the connection lifecycle end to end: the initial connect, the
// state-upload subscription, an immediate full resync on every (re)connect
// to cover pushes missed while down, and the reconnection sequence after a
// drop. Reconnection waits follow reconnectSchedule and then repeat the
// final backoff forever; only Stop ends the retry loop.
//
// Inbound payloads are validated (all of st, si, fn, fv required) and
// forwarded to the sink as normalized batches. Malformed payloads are
// dropped and counted, never propagated.
type Gateway struct {
	broker Broker
	topics mqtt.Topics
	qos    byte
	resync ResyncFunc
	sink   SinkFunc
	logger Logger

	// onUp and onDown report session transitions to the mode arbiter.
	onUp   func()
	onDown func(err error)

	mu             sync.Mutex
	started        bool
	baseCtx        context.Context
	reconnecting   bool
	reconnectStop  context.CancelFunc
	reconnectDone  chan struct{}
	connectedSince time.Time

	connectAttempts  uint64
	connectSuccesses uint64
	connectFailures  uint64
	reconnects       uint64
	messagesReceived uint64
	parseErrors      uint64
	entriesForwarded uint64
	resyncRuns       uint64
	resyncErrors     uint64
	lastError        string
}

// Config contains gateway construction parameters.
type Config struct {
	// Topics supplies the site-scoped topic names.
	Topics mqtt.Topics

	// QoS applies to the state-upload subscription and raw publishes.
	QoS byte
}

// New creates a Gateway. The resync collaborator and sink are required;
// session-transition callbacks are optional.
func New(cfg Config, broker Broker, resync ResyncFunc, sink SinkFunc) *Gateway {
	g := &Gateway{
		broker: broker,
		topics: cfg.Topics,
		qos:    cfg.QoS,
		resync: resync,
		sink:   sink,
		logger: noopLogger{},
	}

	broker.SetOnConnect(g.handleBrokerUp)
	broker.SetOnDisconnect(g.handleBrokerDown)

	return g
}

// SetLogger sets the logger for the gateway.
func (g *Gateway) SetLogger(logger Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// SetOnUp registers a callback fired after each successful session
// establishment, once the subscription and resync have been initiated.
func (g *Gateway) SetOnUp(callback func()) {
	g.mu.Lock()
	g.onUp = callback
	g.mu.Unlock()
}

// SetOnDown registers a callback fired when the broker session is lost.
func (g *Gateway) SetOnDown(callback func(err error)) {
	g.mu.Lock()
	g.onDown = callback
	g.mu.Unlock()
}

// Start attempts the initial broker connection. The attempt is bounded by
// the client's connect timeout; failure is returned to the caller, who
// decides whether to fall back to polling-only operation. Start does not
// spawn a retry loop on initial failure.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	g.started = true
	g.baseCtx = ctx
	g.mu.Unlock()

	return g.connect(ctx)
}

// Stop ends the reconnect loop (if running) and closes the broker
// session. Idempotent.
func (g *Gateway) Stop() {
	g.mu.Lock()
	g.started = false
	stop := g.reconnectStop
	done := g.reconnectDone
	g.reconnectStop = nil
	g.reconnectDone = nil
	g.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	if err := g.broker.Close(); err != nil {
		g.logger.Warn("broker close failed", "error", err)
	}

	g.logger.Info("message bus gateway stopped")
}

// IsConnected reports whether the broker session is up.
func (g *Gateway) IsConnected() bool {
	return g.broker.IsConnected()
}

// Reconnect tears the current session down and establishes a fresh one.
// Used by operators when the session looks wedged. The brief pause lets
// the broker finish releasing the old session before the new handshake.
func (g *Gateway) Reconnect(ctx context.Context) error {
	g.logger.Info("manual reconnect requested")

	// Retire any auto-reconnect worker first. Once the manual connect
	// succeeds the worker would otherwise keep retrying against an
	// already established session.
	g.mu.Lock()
	stop := g.reconnectStop
	done := g.reconnectDone
	g.reconnectStop = nil
	g.reconnectDone = nil
	g.mu.Unlock()

	if stop != nil {
		stop()
		<-done
	}

	if err := g.broker.Close(); err != nil {
		g.logger.Warn("broker close failed during reconnect", "error", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
	}

	return g.connect(ctx)
}

// PublishRaw publishes a pre-built payload to an arbitrary topic. Used by
// the command replay path, which re-emits captured broker frames verbatim.
func (g *Gateway) PublishRaw(topic string, payload []byte, qos byte) error {
	return g.broker.Publish(topic, payload, qos, false)
}

// connect performs one connection attempt and updates counters.
func (g *Gateway) connect(ctx context.Context) error {
	g.mu.Lock()
	g.connectAttempts++
	g.mu.Unlock()

	if err := g.broker.Connect(ctx); err != nil {
		g.mu.Lock()
		g.connectFailures++
		g.lastError = err.Error()
		g.mu.Unlock()
		g.logger.Warn("broker connect failed", "error", err)
		return err
	}

	g.mu.Lock()
	g.connectSuccesses++
	g.mu.Unlock()

	return nil
}

// handleBrokerUp runs on every session establishment: subscribe to state
// uploads, kick off the resync, and notify the mode arbiter.
func (g *Gateway) handleBrokerUp() {
	g.mu.Lock()
	g.connectedSince = time.Now()
	onUp := g.onUp
	baseCtx := g.baseCtx
	g.mu.Unlock()

	if baseCtx == nil {
		baseCtx = context.Background()
	}

	topic := g.topics.StateUpload()
	if err := g.broker.Subscribe(topic, g.qos, g.handleStateMessage); err != nil {
		g.logger.Error("state upload subscription failed", "topic", topic, "error", err)
	}

	g.logger.Info("broker session established", "topic", topic)

	// Backfill whatever was pushed while we were down. Runs through the
	// same sink as live pushes so ordering within the pipeline holds.
	go g.runResync(baseCtx)

	if onUp != nil {
		onUp()
	}
}

// handleBrokerDown runs on session loss: notify the mode arbiter and start
// the reconnect worker.
func (g *Gateway) handleBrokerDown(err error) {
	g.mu.Lock()
	if err != nil {
		g.lastError = err.Error()
	}
	g.connectedSince = time.Time{}
	onDown := g.onDown
	started := g.started
	g.mu.Unlock()

	g.logger.Warn("broker session lost", "error", err)

	if onDown != nil {
		onDown(err)
	}

	if started {
		g.startReconnectLoop()
	}
}

// startReconnectLoop launches the single reconnect worker. A worker
// already in flight is left alone.
func (g *Gateway) startReconnectLoop() {
	g.mu.Lock()
	if g.reconnecting || !g.started {
		g.mu.Unlock()
		return
	}
	g.reconnecting = true

	baseCtx := g.baseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	loopCtx, cancel := context.WithCancel(baseCtx)
	g.reconnectStop = cancel
	g.reconnectDone = make(chan struct{})
	done := g.reconnectDone
	g.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			g.mu.Lock()
			g.reconnecting = false
			g.mu.Unlock()
		}()
		g.reconnectLoop(loopCtx)
	}()
}

// reconnectLoop retries the connection on the backoff schedule until it
// succeeds or the context is cancelled.
func (g *Gateway) reconnectLoop(ctx context.Context) {
	for attempt := 0; ; attempt++ {
		idx := attempt
		if idx >= len(reconnectSchedule) {
			idx = len(reconnectSchedule) - 1
		}
		wait := reconnectSchedule[idx]

		g.logger.Info("reconnecting to broker",
			"attempt", attempt+1,
			"wait", wait,
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		if err := g.connect(ctx); err == nil {
			g.mu.Lock()
			g.reconnects++
			g.mu.Unlock()
			g.logger.Info("broker reconnected", "attempts", attempt+1)
			return
		}
	}
}

// runResync performs the on-connect full-state fetch and routes the
// result through the push sink.
func (g *Gateway) runResync(ctx context.Context) {
	g.mu.Lock()
	g.resyncRuns++
	g.mu.Unlock()

	if g.resync == nil {
		return
	}

	entries, err := g.resync(ctx)
	if err != nil {
		g.mu.Lock()
		g.resyncErrors++
		g.lastError = err.Error()
		g.mu.Unlock()
		g.logger.Warn("on-connect state resync failed", "error", err)
		return
	}

	if len(entries) > 0 {
		g.forward(entries)
	}
	g.logger.Info("on-connect state resync complete", "entries", len(entries))
}

// wireEntry is the inbound payload shape. Pointer fields distinguish a
// missing key from a legitimate zero.
type wireEntry struct {
	ST *int `json:"st"`
	SI *int `json:"si"`
	FN *int `json:"fn"`
	FV *int `json:"fv"`
}

// handleStateMessage parses one state-upload frame. Frames carry either a
// single entry object or an array of them.
func (g *Gateway) handleStateMessage(topic string, payload []byte) error {
	g.mu.Lock()
	g.messagesReceived++
	g.mu.Unlock()

	entries, err := parseStatePayload(payload)
	if err != nil {
		g.mu.Lock()
		g.parseErrors++
		g.mu.Unlock()
		g.logger.Warn("dropping malformed state payload",
			"topic", topic,
			"error", err,
		)
		// Already counted; returning nil avoids double-logging upstream.
		return nil
	}

	g.forward(entries)
	return nil
}

// forward delivers a normalized batch to the sink.
func (g *Gateway) forward(entries []statecache.RawStateEntry) {
	g.mu.Lock()
	g.entriesForwarded += uint64(len(entries))
	g.mu.Unlock()

	if g.sink != nil {
		g.sink(entries)
	}
}

// parseStatePayload decodes a state-upload frame into normalized entries.
func parseStatePayload(payload []byte) ([]statecache.RawStateEntry, error) {
	var wires []wireEntry
	if err := json.Unmarshal(payload, &wires); err != nil {
		var single wireEntry
		if err := json.Unmarshal(payload, &single); err != nil {
			return nil, err
		}
		wires = []wireEntry{single}
	}

	entries := make([]statecache.RawStateEntry, 0, len(wires))
	for _, w := range wires {
		if w.ST == nil || w.SI == nil || w.FN == nil || w.FV == nil {
			return nil, errMissingField
		}
		entries = append(entries, statecache.RawStateEntry{
			ST: *w.ST,
			SI: *w.SI,
			FN: *w.FN,
			FV: *w.FV,
		})
	}
	return entries, nil
}

// Stats returns a snapshot of gateway state and counters.
func (g *Gateway) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Stats{
		Connected:        g.broker.IsConnected(),
		ConnectedSince:   g.connectedSince,
		ConnectAttempts:  g.connectAttempts,
		ConnectSuccesses: g.connectSuccesses,
		ConnectFailures:  g.connectFailures,
		Reconnects:       g.reconnects,
		MessagesReceived: g.messagesReceived,
		ParseErrors:      g.parseErrors,
		EntriesForwarded: g.entriesForwarded,
		ResyncRuns:       g.resyncRuns,
		ResyncErrors:     g.resyncErrors,
		LastError:        g.lastError,
	}
}
