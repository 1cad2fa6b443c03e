// Package history streams state changes into the time-series store.
//
// It consumes the same unified change notifications as the rest of the
// system, so the recorded history reflects exactly what the adapter
// believed at each moment, regardless of which transport delivered the
// change.
package history
