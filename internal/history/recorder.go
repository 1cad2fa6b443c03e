package history

import (
	"sync"

	"github.com/hyqw-adapter/core/internal/statecache"
)

// Writer is the time-series sink. Satisfied by *influxdb.Client; all
// methods are non-blocking no-ops when the backend is down.
type Writer interface {
	WriteFunctionValue(si, fn, fv, st int, source string)
	WriteSyncEvent(event, detail string)
}

// Recorder turns accepted change-sets into time-series points.
//
// Every changed and newly observed function becomes one point tagged with
// the pipeline that delivered it. Mode switches and gateway session
// events are recorded separately so state gaps can be correlated with
// transport changes.
type Recorder struct {
	writer Writer
	cache  *statecache.Cache

	mu           sync.Mutex
	pointsQueued uint64
	eventsQueued uint64
}

// Stats is a read-only snapshot of recorder counters.
type Stats struct {
	PointsQueued uint64 `json:"points_queued"`
	EventsQueued uint64 `json:"events_queued"`
}

// NewRecorder creates a Recorder. The cache supplies the status-type tag
// for newly observed functions, whose change-set entries carry values
// only.
func NewRecorder(writer Writer, cache *statecache.Cache) *Recorder {
	return &Recorder{
		writer: writer,
		cache:  cache,
	}
}

// RecordChanges writes one point per changed or new function in the
// change-set.
func (r *Recorder) RecordChanges(source string, changes *statecache.ChangeSet) {
	if changes == nil || !changes.HasChanges {
		return
	}

	var points uint64

	for si, funcs := range changes.ChangedFunctions {
		for fn, vc := range funcs {
			st := statecache.DefaultStatusType
			if state, ok := r.cache.FunctionValue(si, fn); ok {
				st = state.ST
			}
			r.writer.WriteFunctionValue(si, fn, vc.New, st, source)
			points++
		}
	}

	for si, fns := range changes.NewFunctions {
		for _, fn := range fns {
			state, ok := r.cache.FunctionValue(si, fn)
			if !ok {
				continue
			}
			r.writer.WriteFunctionValue(si, fn, state.FV, state.ST, source)
			points++
		}
	}

	r.mu.Lock()
	r.pointsQueued += points
	r.mu.Unlock()
}

// RecordModeSwitch writes a sync event for an ingestion mode change.
func (r *Recorder) RecordModeSwitch(mode string) {
	r.writer.WriteSyncEvent("mode_switch", mode)
	r.bumpEvents()
}

// RecordSessionEvent writes a sync event for a gateway session
// transition ("connected", "disconnected", "reconnected").
func (r *Recorder) RecordSessionEvent(event string) {
	r.writer.WriteSyncEvent("session", event)
	r.bumpEvents()
}

func (r *Recorder) bumpEvents() {
	r.mu.Lock()
	r.eventsQueued++
	r.mu.Unlock()
}

// Stats returns a snapshot of recorder counters.
func (r *Recorder) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		PointsQueued: r.pointsQueued,
		EventsQueued: r.eventsQueued,
	}
}
