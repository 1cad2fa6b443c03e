package history

import (
	"sync"
	"testing"

	"github.com/hyqw-adapter/core/internal/statecache"
)

type recordedPoint struct {
	si, fn, fv, st int
	source         string
}

// fakeWriter captures writes instead of talking to a backend.
type fakeWriter struct {
	mu     sync.Mutex
	points []recordedPoint
	events []string
}

func (w *fakeWriter) WriteFunctionValue(si, fn, fv, st int, source string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, recordedPoint{si, fn, fv, st, source})
}

func (w *fakeWriter) WriteSyncEvent(event, detail string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event+":"+detail)
}

func TestRecordChanges(t *testing.T) {
	cache := statecache.New()
	writer := &fakeWriter{}
	rec := NewRecorder(writer, cache)

	// Seed, then change one value and add one new function.
	cache.ProcessStateUpdate([]statecache.RawStateEntry{{ST: 10101, SI: 5, FN: 1, FV: 0}})
	_, cs := cache.ProcessStateUpdate([]statecache.RawStateEntry{
		{ST: 10101, SI: 5, FN: 1, FV: 1},  // changed
		{ST: 10101, SI: 5, FN: 2, FV: 80}, // new function
	})

	rec.RecordChanges("push", cs)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.points) != 2 {
		t.Fatalf("points written = %d, want 2", len(writer.points))
	}

	byFn := map[int]recordedPoint{}
	for _, p := range writer.points {
		byFn[p.fn] = p
	}
	if p := byFn[1]; p.fv != 1 || p.source != "push" || p.st != 10101 {
		t.Errorf("fn=1 point = %+v, want fv=1 source=push st=10101", p)
	}
	if p := byFn[2]; p.fv != 80 {
		t.Errorf("fn=2 point = %+v, want fv=80", p)
	}

	if got := rec.Stats().PointsQueued; got != 2 {
		t.Errorf("Stats.PointsQueued = %d, want 2", got)
	}
}

func TestRecordChanges_NoChanges(t *testing.T) {
	cache := statecache.New()
	writer := &fakeWriter{}
	rec := NewRecorder(writer, cache)

	cache.ProcessStateUpdate([]statecache.RawStateEntry{{ST: 1, SI: 5, FN: 1, FV: 1}})
	_, cs := cache.ProcessStateUpdate([]statecache.RawStateEntry{{ST: 1, SI: 5, FN: 1, FV: 1}})

	rec.RecordChanges("poll", cs)
	rec.RecordChanges("poll", nil)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.points) != 0 {
		t.Errorf("points written = %d, want 0 for no-op change-sets", len(writer.points))
	}
}

func TestRecordEvents(t *testing.T) {
	writer := &fakeWriter{}
	rec := NewRecorder(writer, statecache.New())

	rec.RecordModeSwitch("bus")
	rec.RecordSessionEvent("disconnected")

	writer.mu.Lock()
	defer writer.mu.Unlock()
	if len(writer.events) != 2 {
		t.Fatalf("events written = %d, want 2", len(writer.events))
	}
	if writer.events[0] != "mode_switch:bus" {
		t.Errorf("events[0] = %q, want %q", writer.events[0], "mode_switch:bus")
	}
	if writer.events[1] != "session:disconnected" {
		t.Errorf("events[1] = %q, want %q", writer.events[1], "session:disconnected")
	}

	if got := rec.Stats().EventsQueued; got != 2 {
		t.Errorf("Stats.EventsQueued = %d, want 2", got)
	}
}
