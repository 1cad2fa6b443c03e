package statecache

import "time"

// DefaultStatusType is the synthetic status-type tag recorded when a value
// is written without a transport-provided tag (optimistic echo).
const DefaultStatusType = 10101

// RawStateEntry is one function-value observation for device-index SI.
//
// Entries arrive in batches from any of the three state sources (push,
// poll, fallback) and from the optimistic-echo path. ST is an opaque
// status-type tag, FN a function code (power, setpoint, mode, ...), FV the
// observed value.
type RawStateEntry struct {
	ST int `json:"st"`
	SI int `json:"si"`
	FN int `json:"fn"`
	FV int `json:"fv"`
}

// FunctionState is the cached record for one (si, fn) key. The cache holds
// only the most recent observation per key; no history is retained.
type FunctionState struct {
	FV         int       `json:"fv"`
	ST         int       `json:"st"`
	ObservedAt time.Time `json:"observed_at"`
}

// ValueChange records an old/new function-value pair.
type ValueChange struct {
	Old int `json:"old"`
	New int `json:"new"`
}

// ChangeSet describes the outcome of one ProcessStateUpdate or ForceUpdate
// call. It is produced once and consumed exactly once by the notification
// step.
//
// Invariant: HasChanges == (len(ChangedDevices) > 0).
type ChangeSet struct {
	HasChanges bool `json:"has_changes"`

	// ChangedDevices lists every si with at least one new or changed
	// function, sorted ascending.
	ChangedDevices []int `json:"changed_devices"`

	// ChangedFunctions maps si -> fn -> (old, new) for keys whose cached
	// value differed from the incoming one.
	ChangedFunctions map[int]map[int]ValueChange `json:"changed_functions"`

	// NewDevices lists devices entirely absent from the prior cache,
	// sorted ascending.
	NewDevices []int `json:"new_devices"`

	// NewFunctions maps si -> fns first seen in this batch, sorted ascending.
	NewFunctions map[int][]int `json:"new_functions"`
}

// Stats is a read-only snapshot of cache activity counters.
type Stats struct {
	Devices          int       `json:"devices"`
	Functions        int       `json:"functions"`
	UpdatesProcessed uint64    `json:"updates_processed"`
	ChangesDetected  uint64    `json:"changes_detected"`
	ForceUpdates     uint64    `json:"force_updates"`
	LastUpdateAt     time.Time `json:"last_update_at"`
}
