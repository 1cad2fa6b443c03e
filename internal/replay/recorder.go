package replay

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// Publisher re-emits captured frames onto the broker. Satisfied by
// *gateway.Gateway.
type Publisher interface {
	PublishRaw(topic string, payload []byte, qos byte) error
}

// Logger defines the logging interface used by the Recorder.
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

// capturedFrame is one downstream frame seen while recording.
type capturedFrame struct {
	payload []byte
	qos     byte
}

// CaptureTarget identifies the device a capture is being recorded for.
type CaptureTarget struct {
	SI         int
	ST         int
	TypeID     int
	DeviceName string
	FN         int
	FV         int
}

// Recorder captures downstream broker frames and replays them later.
//
// During recording, a control is issued out of band (vendor app or cloud
// API) and the frame the cloud pushes down to the site gateway is
// captured and stored keyed by device and (fn, fv). Replay then re-emits
// the stored frame verbatim, bypassing the cloud entirely; this is the
// escape hatch for when the vendor backend is unreachable.
type Recorder struct {
	repo           Repository
	pub            Publisher
	downTopic      string
	captureTimeout time.Duration
	logger         Logger

	mu        sync.Mutex
	recording bool
	frames    chan capturedFrame

	captures  uint64
	timeouts  uint64
	replays   uint64
	frameDrop uint64
}

// RecorderStats is a read-only snapshot of recorder activity.
type RecorderStats struct {
	Recording bool   `json:"recording"`
	Captures  uint64 `json:"captures"`
	Timeouts  uint64 `json:"timeouts"`
	Replays   uint64 `json:"replays"`
	Dropped   uint64 `json:"dropped_frames"`
}

// NewRecorder creates a Recorder. downTopic is the broker topic replayed
// frames are published to; captureTimeout bounds each capture wait.
func NewRecorder(repo Repository, pub Publisher, downTopic string, captureTimeout time.Duration) *Recorder {
	if captureTimeout <= 0 {
		captureTimeout = 2 * time.Second
	}
	return &Recorder{
		repo:           repo,
		pub:            pub,
		downTopic:      downTopic,
		captureTimeout: captureTimeout,
		logger:         noopLogger{},
	}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// StartRecording enters recording mode: downstream frames are buffered
// for capture instead of being discarded.
func (r *Recorder) StartRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recording {
		return
	}
	r.recording = true
	r.frames = make(chan capturedFrame, 8)
	r.logger.Info("command recording started")
}

// StopRecording leaves recording mode.
func (r *Recorder) StopRecording() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recording {
		return
	}
	r.recording = false
	r.frames = nil
	r.logger.Info("command recording stopped")
}

// IsRecording reports whether recording mode is active.
func (r *Recorder) IsRecording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

// HandleDownstream receives frames from the broker's downstream topic.
// Outside recording mode frames are ignored. Called from broker-client
// goroutines; never blocks.
func (r *Recorder) HandleDownstream(_ string, payload []byte, qos byte) error {
	r.mu.Lock()
	frames := r.frames
	recording := r.recording
	r.mu.Unlock()

	if !recording {
		return nil
	}

	frame := capturedFrame{payload: append([]byte(nil), payload...), qos: qos}
	select {
	case frames <- frame:
	default:
		r.mu.Lock()
		r.frameDrop++
		r.mu.Unlock()
		r.logger.Warn("capture buffer full, dropping downstream frame")
	}
	return nil
}

// CaptureNext waits for the next downstream frame and stores it for the
// given target. A timeout is recorded as a failed command so enumeration
// runs can report and retry gaps.
func (r *Recorder) CaptureNext(ctx context.Context, target CaptureTarget) error {
	r.mu.Lock()
	frames := r.frames
	recording := r.recording
	r.mu.Unlock()

	if !recording {
		return ErrNotRecording
	}

	select {
	case <-ctx.Done():
		return ctx.Err()

	case frame := <-frames:
		cmd := &Command{
			SI:         target.SI,
			CommandKey: CommandKey(target.FN, target.FV),
			ST:         target.ST,
			TypeID:     target.TypeID,
			DeviceName: target.DeviceName,
			FN:         target.FN,
			FV:         target.FV,
			PayloadHex: hex.EncodeToString(frame.payload),
			QoS:        frame.qos,
			RecordedAt: time.Now(),
		}
		if err := r.repo.SaveCommand(ctx, cmd); err != nil {
			return err
		}

		r.mu.Lock()
		r.captures++
		r.mu.Unlock()

		r.logger.Debug("command captured",
			"si", target.SI,
			"key", cmd.CommandKey,
			"bytes", len(frame.payload),
		)
		return nil

	case <-time.After(r.captureTimeout):
		failure := &FailedCommand{
			SI:       target.SI,
			ST:       target.ST,
			FN:       target.FN,
			FV:       target.FV,
			Reason:   "capture timeout",
			FailedAt: time.Now(),
		}
		if err := r.repo.SaveFailure(ctx, failure); err != nil {
			r.logger.Error("recording capture failure failed", "error", err)
		}

		r.mu.Lock()
		r.timeouts++
		r.mu.Unlock()

		return fmt.Errorf("%w: si=%d %s", ErrCaptureTimeout,
			target.SI, CommandKey(target.FN, target.FV))
	}
}

// Replay looks up the recorded frame for a device and (fn, fv) pair and
// re-publishes it verbatim on the downstream topic.
func (r *Recorder) Replay(ctx context.Context, si, fn, fv int) error {
	cmd, err := r.repo.FindCommand(ctx, si, fn, fv)
	if err != nil {
		return err
	}

	payload, err := hex.DecodeString(cmd.PayloadHex)
	if err != nil {
		return fmt.Errorf("decoding stored payload for si=%d %s: %w", si, cmd.CommandKey, err)
	}

	if err := r.pub.PublishRaw(r.downTopic, payload, cmd.QoS); err != nil {
		return fmt.Errorf("replaying si=%d %s: %w", si, cmd.CommandKey, err)
	}

	r.mu.Lock()
	r.replays++
	r.mu.Unlock()

	r.logger.Info("command replayed", "si", si, "key", cmd.CommandKey)
	return nil
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return RecorderStats{
		Recording: r.recording,
		Captures:  r.captures,
		Timeouts:  r.timeouts,
		Replays:   r.replays,
		Dropped:   r.frameDrop,
	}
}
