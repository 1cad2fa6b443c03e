package device

import (
	"sort"
	"sync"

	"github.com/hyqw-adapter/core/internal/statecache"
)

// Logger defines the logging interface used by the Registry.
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

// Snapshot is a device's metadata joined with its live state.
type Snapshot struct {
	Device
	Kind       string                           `json:"kind"`
	States     map[int]statecache.FunctionState `json:"states"`
	Properties Properties                       `json:"properties"`
}

// Registry holds the site's device metadata, keyed by si.
//
// Metadata comes from configuration at startup; devices observed in state
// traffic but absent from configuration are registered on the fly with an
// unknown type, so the API never hides a device the cloud reports on.
type Registry struct {
	mu      sync.RWMutex
	devices map[int]Device
	logger  Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		devices: make(map[int]Device),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Load replaces the registry contents with the given device list.
func (r *Registry) Load(devices []Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.devices = make(map[int]Device, len(devices))
	for _, d := range devices {
		r.devices[d.SI] = d
	}
	r.logger.Info("device registry loaded", "devices", len(devices))
}

// Register adds or replaces a single device.
func (r *Registry) Register(d Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.SI] = d
}

// Observe ensures a device seen in state traffic exists in the registry.
// Configured metadata is never overwritten; unknown devices get a minimal
// placeholder entry.
func (r *Registry) Observe(si, st int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, known := r.devices[si]; known {
		return
	}
	r.devices[si] = Device{SI: si, ST: st}
	r.logger.Debug("registering device discovered from state traffic", "si", si)
}

// Get returns the device for an si.
func (r *Registry) Get(si int) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[si]
	return d, ok
}

// All returns every registered device, ordered by si.
func (r *Registry) All() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].SI < devices[j].SI })
	return devices
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// SnapshotFor joins a device's metadata with its current states and the
// derived typed properties.
func (r *Registry) SnapshotFor(si int, states map[int]statecache.FunctionState) (Snapshot, bool) {
	d, ok := r.Get(si)
	if !ok {
		return Snapshot{}, false
	}

	return Snapshot{
		Device:     d,
		Kind:       d.Kind(),
		States:     states,
		Properties: Derive(d.TypeID, states),
	}, true
}
