package statecache

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Cache.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Cache holds the last-known value per (device-index, function-code) and
// computes minimal change-sets from incoming raw state batches. It has no
// knowledge of which transport produced a batch.
//
// The cache serializes its own mutations: pushes, polls, fallback sweeps,
// and optimistic echoes can all call it concurrently, and all writes run
// under a single mutex. Accessors return copies; internal maps never escape.
type Cache struct {
	mu     sync.Mutex
	states map[int]map[int]FunctionState

	// activity counters, protected by mu
	updatesProcessed uint64
	changesDetected  uint64
	forceUpdates     uint64
	lastUpdateAt     time.Time

	logger Logger

	// nowFunc is swappable for tests.
	nowFunc func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		states:  make(map[int]map[int]FunctionState),
		logger:  noopLogger{},
		nowFunc: time.Now,
	}
}

// SetLogger sets the logger for the cache.
func (c *Cache) SetLogger(logger Logger) {
	if logger != nil {
		c.logger = logger
	}
}

// ProcessStateUpdate compares a raw state batch against the cache, applies
// the differences, and reports them as a ChangeSet.
//
// Behaviour:
//   - Duplicate (si, fn) pairs within one batch are resolved by keeping the
//     last occurrence; batch order defines recency.
//   - A key absent from the cache is recorded under NewFunctions; a present
//     key with a differing fv under ChangedFunctions; unchanged keys are
//     ignored.
//   - A device with at least one new or changed function joins
//     ChangedDevices; a device entirely absent from the prior cache
//     additionally joins NewDevices.
//   - Only changed/new keys are overwritten. Unrelated entries are
//     untouched: this is a merge, not a replace.
//
// Parameters:
//   - batch: raw observations, any source
//
// Returns:
//   - bool: whether anything changed (same as ChangeSet.HasChanges)
//   - *ChangeSet: the differences; never nil
func (c *Cache) ProcessStateUpdate(batch []RawStateEntry) (bool, *ChangeSet) {
	// Organize by device, keeping the last duplicate per (si, fn).
	latest := make(map[int]map[int]RawStateEntry)
	for _, entry := range batch {
		fns, ok := latest[entry.SI]
		if !ok {
			fns = make(map[int]RawStateEntry)
			latest[entry.SI] = fns
		}
		fns[entry.FN] = entry
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	changes := newChangeSet()

	for si, fns := range latest {
		cached, deviceKnown := c.states[si]

		for fn, entry := range fns {
			prior, keyKnown := cached[fn]

			switch {
			case !keyKnown:
				changes.NewFunctions[si] = append(changes.NewFunctions[si], fn)
			case prior.FV != entry.FV:
				c.ensureChanged(changes, si)[fn] = ValueChange{Old: prior.FV, New: entry.FV}
			default:
				continue // unchanged, leave the cached timestamp alone
			}

			if cached == nil {
				cached = make(map[int]FunctionState)
				c.states[si] = cached
			}
			cached[fn] = FunctionState{FV: entry.FV, ST: entry.ST, ObservedAt: now}
		}

		deviceChanged := len(changes.NewFunctions[si]) > 0 || len(changes.ChangedFunctions[si]) > 0
		if deviceChanged {
			changes.ChangedDevices = append(changes.ChangedDevices, si)
			if !deviceKnown {
				changes.NewDevices = append(changes.NewDevices, si)
			}
		}
	}

	finalizeChangeSet(changes)

	c.updatesProcessed++
	c.lastUpdateAt = now
	if changes.HasChanges {
		c.changesDetected++
		c.logger.Debug("state update produced changes",
			"changed_devices", len(changes.ChangedDevices),
			"new_devices", len(changes.NewDevices),
		)
	}

	return changes.HasChanges, changes
}

// ForceUpdate bypasses comparison: it always overwrites the (si, fn) key
// and always reports the device as changed, even if the value happens to be
// identical. Used for optimistic local echo after a command the remote has
// not yet confirmed.
//
// The status-type tag is preserved from the prior entry when one exists;
// otherwise DefaultStatusType is recorded.
//
// Returns:
//   - *ChangeSet: reporting the key as changed (or new); never nil
func (c *Cache) ForceUpdate(si, fn, fv int) *ChangeSet {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	changes := newChangeSet()
	changes.ChangedDevices = append(changes.ChangedDevices, si)

	cached, deviceKnown := c.states[si]
	if cached == nil {
		cached = make(map[int]FunctionState)
		c.states[si] = cached
	}

	prior, keyKnown := cached[fn]
	st := DefaultStatusType
	if keyKnown {
		st = prior.ST
		c.ensureChanged(changes, si)[fn] = ValueChange{Old: prior.FV, New: fv}
	} else {
		changes.NewFunctions[si] = append(changes.NewFunctions[si], fn)
		if !deviceKnown {
			changes.NewDevices = append(changes.NewDevices, si)
		}
	}

	cached[fn] = FunctionState{FV: fv, ST: st, ObservedAt: now}

	finalizeChangeSet(changes)

	c.forceUpdates++
	c.lastUpdateAt = now
	c.logger.Debug("forced state update", "si", si, "fn", fn, "fv", fv)

	return changes
}

// ensureChanged returns the ChangedFunctions bucket for si, creating it on
// first use.
func (c *Cache) ensureChanged(changes *ChangeSet, si int) map[int]ValueChange {
	bucket, ok := changes.ChangedFunctions[si]
	if !ok {
		bucket = make(map[int]ValueChange)
		changes.ChangedFunctions[si] = bucket
	}
	return bucket
}

// newChangeSet allocates an empty ChangeSet with non-nil maps.
func newChangeSet() *ChangeSet {
	return &ChangeSet{
		ChangedFunctions: make(map[int]map[int]ValueChange),
		NewFunctions:     make(map[int][]int),
	}
}

// finalizeChangeSet sorts slice fields for deterministic consumption and
// derives HasChanges.
func finalizeChangeSet(changes *ChangeSet) {
	sort.Ints(changes.ChangedDevices)
	sort.Ints(changes.NewDevices)
	for _, fns := range changes.NewFunctions {
		sort.Ints(fns)
	}
	changes.HasChanges = len(changes.ChangedDevices) > 0
}

// DeviceState returns a copy of all cached function states for one device.
func (c *Cache) DeviceState(si int) (map[int]FunctionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.states[si]
	if !ok {
		return nil, false
	}

	out := make(map[int]FunctionState, len(cached))
	for fn, state := range cached {
		out[fn] = state
	}
	return out, true
}

// FunctionValue returns the cached state for one (si, fn) key.
func (c *Cache) FunctionValue(si, fn int) (FunctionState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, ok := c.states[si][fn]
	return state, ok
}

// AllStates returns a deep copy of the full cache contents.
func (c *Cache) AllStates() map[int]map[int]FunctionState {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int]map[int]FunctionState, len(c.states))
	for si, fns := range c.states {
		device := make(map[int]FunctionState, len(fns))
		for fn, state := range fns {
			device[fn] = state
		}
		out[si] = device
	}
	return out
}

// DeviceCount returns the number of devices with at least one cached key.
func (c *Cache) DeviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.states)
}

// Clear removes all cached state. Counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.states = make(map[int]map[int]FunctionState)
	c.logger.Info("state cache cleared")
}

// Stats returns a snapshot of cache contents and activity counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	functions := 0
	for _, fns := range c.states {
		functions += len(fns)
	}

	return Stats{
		Devices:          len(c.states),
		Functions:        functions,
		UpdatesProcessed: c.updatesProcessed,
		ChangesDetected:  c.changesDetected,
		ForceUpdates:     c.forceUpdates,
		LastUpdateAt:     c.lastUpdateAt,
	}
}
