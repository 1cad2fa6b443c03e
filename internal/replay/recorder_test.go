package replay

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakePublisher records replayed frames.
type fakePublisher struct {
	mu        sync.Mutex
	published []struct {
		topic   string
		payload []byte
		qos     byte
	}
	err error
}

func (p *fakePublisher) PublishRaw(topic string, payload []byte, qos byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, struct {
		topic   string
		payload []byte
		qos     byte
	}{topic, payload, qos})
	return nil
}

const testDownTopic = "FMQ/SH-485-V22/SN-TEST-001/DOWN/2001"

func testRecorder(t *testing.T, pub Publisher) *Recorder {
	t.Helper()
	repo := openTestRepo(t)
	return NewRecorder(repo, pub, testDownTopic, 100*time.Millisecond)
}

func curtainTarget(fn, fv int) CaptureTarget {
	return CaptureTarget{
		SI: 5, ST: 20201, TypeID: 14,
		DeviceName: "living room curtain",
		FN:         fn, FV: fv,
	}
}

func TestRecorder_CaptureWithoutRecordingMode(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})

	err := r.CaptureNext(context.Background(), curtainTarget(1, 1))
	if !errors.Is(err, ErrNotRecording) {
		t.Errorf("CaptureNext() error = %v, want ErrNotRecording", err)
	}
}

func TestRecorder_FramesIgnoredOutsideRecording(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})

	if err := r.HandleDownstream(testDownTopic, []byte{0x01}, 1); err != nil {
		t.Fatalf("HandleDownstream() error = %v", err)
	}
	if got := r.Stats().Captures; got != 0 {
		t.Errorf("Stats.Captures = %d, want 0", got)
	}
}

func TestRecorder_CaptureAndReplay(t *testing.T) {
	pub := &fakePublisher{}
	r := testRecorder(t, pub)

	r.StartRecording()
	defer r.StopRecording()

	frame := []byte{0xAA, 0x01, 0x05, 0xFF}

	// The downstream frame lands while CaptureNext is waiting.
	go func() {
		time.Sleep(20 * time.Millisecond)
		r.HandleDownstream(testDownTopic, frame, 1)
	}()

	if err := r.CaptureNext(context.Background(), curtainTarget(1, 1)); err != nil {
		t.Fatalf("CaptureNext() error = %v", err)
	}

	if got := r.Stats().Captures; got != 1 {
		t.Errorf("Stats.Captures = %d, want 1", got)
	}

	if err := r.Replay(context.Background(), 5, 1, 1); err != nil {
		t.Fatalf("Replay() error = %v", err)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.published) != 1 {
		t.Fatalf("published frames = %d, want 1", len(pub.published))
	}
	if pub.published[0].topic != testDownTopic {
		t.Errorf("replay topic = %q, want %q", pub.published[0].topic, testDownTopic)
	}
	if hex.EncodeToString(pub.published[0].payload) != hex.EncodeToString(frame) {
		t.Errorf("replay payload = %x, want %x (verbatim)", pub.published[0].payload, frame)
	}
	if pub.published[0].qos != 1 {
		t.Errorf("replay qos = %d, want 1", pub.published[0].qos)
	}
}

func TestRecorder_CaptureTimeoutRecordsFailure(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})

	r.StartRecording()
	defer r.StopRecording()

	err := r.CaptureNext(context.Background(), curtainTarget(1, 2))
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("CaptureNext() error = %v, want ErrCaptureTimeout", err)
	}
	if got := r.Stats().Timeouts; got != 1 {
		t.Errorf("Stats.Timeouts = %d, want 1", got)
	}

	failures, err := r.repo.ListFailures(context.Background())
	if err != nil {
		t.Fatalf("ListFailures() error = %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("ListFailures() = %d entries, want 1", len(failures))
	}
	if failures[0].FN != 1 || failures[0].FV != 2 {
		t.Errorf("failure = fn=%d fv=%d, want fn=1 fv=2", failures[0].FN, failures[0].FV)
	}
}

func TestRecorder_ReplayUnknownCommand(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})

	err := r.Replay(context.Background(), 99, 1, 1)
	if !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Replay() error = %v, want ErrCommandNotFound", err)
	}
}

func TestRecorder_RecordingToggle(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})

	if r.IsRecording() {
		t.Error("IsRecording() = true before StartRecording")
	}

	r.StartRecording()
	r.StartRecording() // idempotent
	if !r.IsRecording() {
		t.Error("IsRecording() = false after StartRecording")
	}

	r.StopRecording()
	r.StopRecording() // idempotent
	if r.IsRecording() {
		t.Error("IsRecording() = true after StopRecording")
	}
}

func TestRecorder_CaptureContextCancelled(t *testing.T) {
	r := testRecorder(t, &fakePublisher{})
	r.StartRecording()
	defer r.StopRecording()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := r.CaptureNext(ctx, curtainTarget(1, 1)); !errors.Is(err, context.Canceled) {
		t.Errorf("CaptureNext() error = %v, want context.Canceled", err)
	}
}
